package usecase

// TokenUsecase issues and validates account-scoped bearer tokens
type TokenUsecase interface {
	GenerateToken(accountID string) (string, error)
	// ValidateToken returns the account id carried by a valid token
	ValidateToken(tokenString string) (string, error)
}
