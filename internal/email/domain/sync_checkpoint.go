package domain

import "time"

// SyncCheckpoint remembers the last successful sync of one account from one source,
// so the next sync without an explicit start can resume from it
type SyncCheckpoint struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	AccountID   string    `json:"account_id" gorm:"uniqueIndex:idx_checkpoint_account_source;not null"`
	Source      string    `json:"source" gorm:"uniqueIndex:idx_checkpoint_account_source;not null"`
	SyncedAt    time.Time `json:"synced_at"`
	LastFetched int       `json:"last_fetched"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}

