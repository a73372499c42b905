package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmailExists is returned when an (account, message id) pair is already stored
	ErrEmailExists = errors.New("email already exists")
)

// Email is a stored email record. Only DuplicateOfID changes after insert.
type Email struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	AccountID     string    `json:"account_id" gorm:"uniqueIndex:idx_account_message;index:idx_account_received;not null"`
	MessageID     string    `json:"message_id" gorm:"uniqueIndex:idx_account_message;not null"`
	Subject       string    `json:"subject"`
	FromAddress   string    `json:"from_address" gorm:"not null"`
	FromName      string    `json:"from_name"`
	Snippet       string    `json:"snippet,omitempty" gorm:"type:text"`
	ReceivedAt    time.Time `json:"received_at" gorm:"index:idx_account_received;not null"`
	DuplicateOfID *string   `json:"duplicate_of_id,omitempty" gorm:"index"` // Set when ingested as a fuzzy duplicate
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Email) TableName() string {
	return "emails"
}

// IncomingEmail describes an email arriving from a provider before it is stored
type IncomingEmail struct {
	MessageID   string    `json:"message_id"`
	AccountID   string    `json:"account_id"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	BodyPreview string    `json:"body_preview,omitempty"`
}

// MailSource fetches recent emails from a provider mailbox
type MailSource interface {
	Name() string
	FetchSince(ctx context.Context, since time.Time, limit int) ([]*IncomingEmail, error)
}
