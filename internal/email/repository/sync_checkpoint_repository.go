package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// syncCheckpointRepository implements SyncCheckpointRepository interface
type syncCheckpointRepository struct {
	db *gorm.DB
}

// NewSyncCheckpointRepository creates a new instance of syncCheckpointRepository
func NewSyncCheckpointRepository(db *gorm.DB) SyncCheckpointRepository {
	return &syncCheckpointRepository{
		db: db,
	}
}

func (r *syncCheckpointRepository) GetCheckpoint(ctx context.Context, accountID, source string) (*emaildomain.SyncCheckpoint, error) {
	var checkpoint emaildomain.SyncCheckpoint
	err := r.db.WithContext(ctx).Where("account_id = ? AND source = ?", accountID, source).First(&checkpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &checkpoint, nil
}

// SaveCheckpoint uses FirstOrCreate so the first sync of an account needs one query
func (r *syncCheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *emaildomain.SyncCheckpoint) error {
	now := time.Now()
	var existing emaildomain.SyncCheckpoint

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND source = ?", checkpoint.AccountID, checkpoint.Source).
		FirstOrCreate(&existing, emaildomain.SyncCheckpoint{
			ID:          uuid.New().String(),
			AccountID:   checkpoint.AccountID,
			Source:      checkpoint.Source,
			SyncedAt:    checkpoint.SyncedAt,
			LastFetched: checkpoint.LastFetched,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		existing.SyncedAt = checkpoint.SyncedAt
		existing.LastFetched = checkpoint.LastFetched
		existing.UpdatedAt = now
		if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return err
		}
	}

	*checkpoint = existing
	return nil
}
