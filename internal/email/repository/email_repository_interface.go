package repository

import (
	"context"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
)

// EmailRepository defines the interface for stored email operations
type EmailRepository interface {
	// FindByMessageID returns the email with the given message id in the account, or nil
	FindByMessageID(ctx context.Context, accountID, messageID string) (*emaildomain.Email, error)
	// FindReceivedBetween returns emails of the account received in [since, until],
	// newest first, at most limit rows
	FindReceivedBetween(ctx context.Context, accountID string, since, until time.Time, limit int) ([]*emaildomain.Email, error)
	// Create stores a new email. Returns emaildomain.ErrEmailExists on a message id conflict.
	Create(ctx context.Context, email *emaildomain.Email) error
	// DeleteByMessageID removes an email, reporting whether a row was deleted
	DeleteByMessageID(ctx context.Context, accountID, messageID string) (bool, error)
	// DeleteReceivedBefore removes up to limit emails of any account received before
	// the cutoff, oldest first, and returns the removed rows
	DeleteReceivedBefore(ctx context.Context, before time.Time, limit int) ([]*emaildomain.Email, error)
}
