package repository

import (
	"context"

	emaildomain "mailsync-backend/internal/email/domain"
)

// SyncCheckpointRepository defines the interface for mailbox sync checkpoints
type SyncCheckpointRepository interface {
	// GetCheckpoint returns nil, nil when the account never synced from source
	GetCheckpoint(ctx context.Context, accountID, source string) (*emaildomain.SyncCheckpoint, error)
	// SaveCheckpoint creates or updates the checkpoint of (account, source)
	SaveCheckpoint(ctx context.Context, checkpoint *emaildomain.SyncCheckpoint) error
}
