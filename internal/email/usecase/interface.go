package usecase

import (
	"context"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
)

// DuplicateDetector decides whether incoming emails duplicate stored ones
type DuplicateDetector interface {
	// CheckForDuplicate classifies one email. Under the fail-open and retry-n policies
	// lookup failures yield a not-duplicate result and a nil error.
	CheckForDuplicate(ctx context.Context, email *emaildomain.IncomingEmail) (*emaildomain.DuplicateCheckResult, error)
	// BatchCheckForDuplicates classifies every email, keyed by message id.
	// Emails in the same batch are not compared with each other.
	BatchCheckForDuplicates(ctx context.Context, emails []*emaildomain.IncomingEmail) (map[string]*emaildomain.DuplicateCheckResult, error)
}

// SyncUsecase defines the interface for mail ingestion use cases
type SyncUsecase interface {
	IngestEmail(ctx context.Context, email *emaildomain.IncomingEmail) (*emaildomain.IngestResult, error)
	IngestBatch(ctx context.Context, accountID string, emails []*emaildomain.IncomingEmail) (*emaildomain.IngestReport, error)
	SyncMailbox(ctx context.Context, accountID string, source emaildomain.MailSource, since time.Time, limit int) (*emaildomain.SyncSummary, error)
	DeleteEmail(ctx context.Context, accountID, messageID string) (bool, error)
	// PurgeReceivedBefore deletes every stored email received before the cutoff
	// and returns how many were removed
	PurgeReceivedBefore(ctx context.Context, before time.Time) (int, error)
}
