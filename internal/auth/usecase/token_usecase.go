package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mailsync-backend/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingAccount = errors.New("account id is required")
)

// tokenUsecase implements TokenUsecase interface
type tokenUsecase struct {
	config *config.Config
}

// NewTokenUsecase creates a new instance of tokenUsecase
func NewTokenUsecase(cfg *config.Config) TokenUsecase {
	return &tokenUsecase{
		config: cfg,
	}
}

func (u *tokenUsecase) GenerateToken(accountID string) (string, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", ErrMissingAccount
	}

	claims := jwt.MapClaims{
		"account_id": accountID,
		"exp":        time.Now().Add(u.config.JWTAccessExpiry).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(u.config.JWTSecret))
}

func (u *tokenUsecase) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(u.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	accountID, ok := claims["account_id"].(string)
	if !ok || accountID == "" {
		return "", ErrInvalidToken
	}

	return accountID, nil
}
