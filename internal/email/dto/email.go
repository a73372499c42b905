package dto

import (
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
)

// EmailRequest is the JSON form of an incoming email. The account comes from the
// bearer token, so the body carries none. Required fields are checked by the detector.
type EmailRequest struct {
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name"`
	ReceivedAt  time.Time `json:"received_at"`
	BodyPreview string    `json:"body_preview"`
}

// ToIncoming builds the domain descriptor for accountID
func (r *EmailRequest) ToIncoming(accountID string) *emaildomain.IncomingEmail {
	return &emaildomain.IncomingEmail{
		MessageID:   r.MessageID,
		AccountID:   accountID,
		Subject:     r.Subject,
		FromAddress: r.FromAddress,
		FromName:    r.FromName,
		ReceivedAt:  r.ReceivedAt,
		BodyPreview: r.BodyPreview,
	}
}

type BatchCheckRequest struct {
	Emails []EmailRequest `json:"emails" binding:"required"`
}

type BatchCheckResponse struct {
	Results map[string]*emaildomain.DuplicateCheckResult `json:"results"`
}

// QueuedResponse acknowledges an email accepted for background ingestion
type QueuedResponse struct {
	MessageID string `json:"message_id"`
	Queued    bool   `json:"queued"`
}

type DeleteEmailResponse struct {
	MessageID string `json:"message_id"`
	Deleted   bool   `json:"deleted"`
}

type IMAPSyncRequest struct {
	Host     string    `json:"host" binding:"required"`
	Username string    `json:"username" binding:"required"`
	Password string    `json:"password" binding:"required"`
	Mailbox  string    `json:"mailbox"`
	Since    time.Time `json:"since"`
	Limit    int       `json:"limit"`
}

type GmailSyncRequest struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Since        time.Time `json:"since"`
	Limit        int       `json:"limit"`
}
