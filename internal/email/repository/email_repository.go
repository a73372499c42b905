package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// emailRepository implements EmailRepository interface
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new instance of emailRepository
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{
		db: db,
	}
}

// FindByMessageID looks up an email by its provider message id within one account
func (r *emailRepository) FindByMessageID(ctx context.Context, accountID, messageID string) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.WithContext(ctx).Where("account_id = ? AND message_id = ?", accountID, messageID).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

// FindReceivedBetween returns the account's emails received inside the window
func (r *emailRepository) FindReceivedBetween(ctx context.Context, accountID string, since, until time.Time, limit int) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND received_at >= ? AND received_at <= ?", accountID, since, until).
		Order("received_at DESC").
		Limit(limit).
		Find(&emails).Error
	return emails, err
}

// Create inserts a new email row
func (r *emailRepository) Create(ctx context.Context, email *emaildomain.Email) error {
	now := time.Now()
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	email.CreatedAt = now
	email.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(email).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return emaildomain.ErrEmailExists
	}
	return err
}

// DeleteByMessageID removes an email by message id
func (r *emailRepository) DeleteByMessageID(ctx context.Context, accountID, messageID string) (bool, error) {
	result := r.db.WithContext(ctx).Where("account_id = ? AND message_id = ?", accountID, messageID).Delete(&emaildomain.Email{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteReceivedBefore removes one batch of emails older than the cutoff
func (r *emailRepository) DeleteReceivedBefore(ctx context.Context, before time.Time, limit int) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("received_at < ?", before).
			Order("received_at ASC").
			Limit(limit).
			Find(&emails).Error; err != nil {
			return err
		}
		if len(emails) == 0 {
			return nil
		}

		ids := make([]string, len(emails))
		for i, email := range emails {
			ids[i] = email.ID
		}
		return tx.Where("id IN ?", ids).Delete(&emaildomain.Email{}).Error
	})
	if err != nil {
		return nil, err
	}
	return emails, nil
}
