package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/cache"
	"mailsync-backend/pkg/metrics"
)

// ErrSyncInProgress is returned when a sync for the same account is already running
var ErrSyncInProgress = errors.New("sync already in progress for account")

const (
	// DefaultSyncLookback is how far back a first sync without a start time reads
	DefaultSyncLookback = 24 * time.Hour
	// checkpointOverlap re-reads a little before the last checkpoint to absorb clock skew
	checkpointOverlap = 5 * time.Minute
	// purgeBatchSize is how many rows one retention delete removes
	purgeBatchSize = 500
)

// syncUsecase implements SyncUsecase interface
type syncUsecase struct {
	emailRepo      repository.EmailRepository
	checkpointRepo repository.SyncCheckpointRepository
	detector       DuplicateDetector
	exactCache     *cache.Cache[string, string]

	// Accounts with a running SyncMailbox
	activeSyncs   map[string]struct{}
	activeSyncsMu sync.Mutex
}

// NewSyncUsecase creates a new instance of syncUsecase. exactCache should be the
// same handle the detector reads from, so deletes invalidate it. checkpointRepo may be
// nil, in which case syncs without a start time always read DefaultSyncLookback back.
func NewSyncUsecase(emailRepo repository.EmailRepository, checkpointRepo repository.SyncCheckpointRepository, detector DuplicateDetector, exactCache *cache.Cache[string, string]) SyncUsecase {
	return &syncUsecase{
		emailRepo:      emailRepo,
		checkpointRepo: checkpointRepo,
		detector:       detector,
		exactCache:     exactCache,
		activeSyncs:    make(map[string]struct{}),
	}
}

// IngestEmail checks an incoming email and stores it unless its message id is already stored
func (u *syncUsecase) IngestEmail(ctx context.Context, in *emaildomain.IncomingEmail) (*emaildomain.IngestResult, error) {
	check, err := u.detector.CheckForDuplicate(ctx, in)
	if err != nil {
		metrics.IngestedEmailsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if check.IsDuplicate && check.MatchType == emaildomain.MatchExact {
		metrics.IngestedEmailsTotal.WithLabelValues(string(emaildomain.IngestSkippedDuplicate)).Inc()
		return &emaildomain.IngestResult{Status: emaildomain.IngestSkippedDuplicate, Check: check}, nil
	}

	email := &emaildomain.Email{
		AccountID:   in.AccountID,
		MessageID:   in.MessageID,
		Subject:     in.Subject,
		FromAddress: in.FromAddress,
		FromName:    in.FromName,
		Snippet:     in.BodyPreview,
		ReceivedAt:  in.ReceivedAt,
	}
	status := emaildomain.IngestStored
	if check.IsDuplicate {
		duplicateOf := check.DuplicateID
		email.DuplicateOfID = &duplicateOf
		status = emaildomain.IngestStoredDuplicate
	}

	if err := u.emailRepo.Create(ctx, email); err != nil {
		if errors.Is(err, emaildomain.ErrEmailExists) {
			// Lost an insert race for the same message id
			return u.existingResult(ctx, in)
		}
		metrics.IngestedEmailsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to store email: %w", err)
	}

	if u.exactCache != nil {
		u.exactCache.Set(ExactMatchKey(email.AccountID, email.MessageID), email.ID)
	}
	metrics.IngestedEmailsTotal.WithLabelValues(string(status)).Inc()

	if status == emaildomain.IngestStoredDuplicate {
		log.Printf("[Sync] Stored %s for account %s as duplicate of %s (confidence %.2f)", email.MessageID, email.AccountID, check.DuplicateID, check.Confidence)
	}

	return &emaildomain.IngestResult{Status: status, Email: email, Check: check}, nil
}

func (u *syncUsecase) existingResult(ctx context.Context, in *emaildomain.IncomingEmail) (*emaildomain.IngestResult, error) {
	existing, err := u.emailRepo.FindByMessageID(ctx, in.AccountID, in.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing email: %w", err)
	}
	check := exactMatch("")
	if existing != nil {
		check.DuplicateID = existing.ID
	}
	metrics.IngestedEmailsTotal.WithLabelValues(string(emaildomain.IngestSkippedDuplicate)).Inc()
	return &emaildomain.IngestResult{Status: emaildomain.IngestSkippedDuplicate, Check: check}, nil
}

// IngestBatch ingests emails one at a time in received order. Each stored email is
// visible to the checks that follow, so duplicates inside the batch are caught.
func (u *syncUsecase) IngestBatch(ctx context.Context, accountID string, emails []*emaildomain.IncomingEmail) (*emaildomain.IngestReport, error) {
	ordered := make([]*emaildomain.IncomingEmail, 0, len(emails))
	for _, email := range emails {
		if email == nil {
			continue
		}
		email.AccountID = accountID
		ordered = append(ordered, email)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReceivedAt.Before(ordered[j].ReceivedAt)
	})

	report := emaildomain.NewIngestReport()
	for _, email := range ordered {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := u.IngestEmail(ctx, email)
		if err != nil {
			log.Printf("[Sync] Failed to ingest %s for account %s: %v", email.MessageID, accountID, err)
			report.AddError(email.MessageID, err)
			continue
		}
		report.Add(email.MessageID, result)
	}

	return report, nil
}

// SyncMailbox fetches recent mail from source and ingests it. Only one sync per account
// runs at a time. A zero since resumes from the account's last checkpoint for source.
func (u *syncUsecase) SyncMailbox(ctx context.Context, accountID string, source emaildomain.MailSource, since time.Time, limit int) (*emaildomain.SyncSummary, error) {
	if !u.acquire(accountID) {
		return nil, ErrSyncInProgress
	}
	defer u.release(accountID)

	startedAt := time.Now().UTC()
	if since.IsZero() {
		since = u.resumePoint(ctx, accountID, source.Name(), startedAt)
	}

	log.Printf("[Sync] Syncing account %s from %s since %s", accountID, source.Name(), since.Format(time.RFC3339))

	fetched, err := source.FetchSince(ctx, since, limit)
	if err != nil {
		metrics.MailboxSyncsTotal.WithLabelValues(source.Name(), "error").Inc()
		return nil, fmt.Errorf("failed to fetch from %s: %w", source.Name(), err)
	}

	report, err := u.IngestBatch(ctx, accountID, fetched)
	if err != nil {
		metrics.MailboxSyncsTotal.WithLabelValues(source.Name(), "error").Inc()
		return nil, err
	}

	metrics.MailboxSyncsTotal.WithLabelValues(source.Name(), "success").Inc()
	log.Printf("[Sync] Account %s: fetched %d, stored %d, flagged %d, skipped %d, failed %d",
		accountID, len(fetched), report.Stored, report.FlaggedDuplicates, report.SkippedDuplicates, report.Failed)

	if u.checkpointRepo != nil {
		checkpoint := &emaildomain.SyncCheckpoint{
			AccountID:   accountID,
			Source:      source.Name(),
			SyncedAt:    startedAt,
			LastFetched: len(fetched),
		}
		if err := u.checkpointRepo.SaveCheckpoint(ctx, checkpoint); err != nil {
			log.Printf("[Sync] Failed to save checkpoint for account %s from %s: %v", accountID, source.Name(), err)
		}
	}

	return &emaildomain.SyncSummary{
		AccountID:    accountID,
		Source:       source.Name(),
		Since:        since,
		Fetched:      len(fetched),
		IngestReport: *report,
	}, nil
}

func (u *syncUsecase) resumePoint(ctx context.Context, accountID, source string, now time.Time) time.Time {
	fallback := now.Add(-DefaultSyncLookback)
	if u.checkpointRepo == nil {
		return fallback
	}

	checkpoint, err := u.checkpointRepo.GetCheckpoint(ctx, accountID, source)
	if err != nil {
		log.Printf("[Sync] Failed to load checkpoint for account %s from %s: %v", accountID, source, err)
		return fallback
	}
	if checkpoint == nil {
		return fallback
	}
	return checkpoint.SyncedAt.Add(-checkpointOverlap)
}

// DeleteEmail removes a stored email and invalidates its exact-match cache entry
func (u *syncUsecase) DeleteEmail(ctx context.Context, accountID, messageID string) (bool, error) {
	deleted, err := u.emailRepo.DeleteByMessageID(ctx, accountID, messageID)
	if u.exactCache != nil {
		u.exactCache.Delete(ExactMatchKey(accountID, messageID))
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete email: %w", err)
	}
	return deleted, nil
}

// PurgeReceivedBefore deletes old emails in batches and drops their exact-match cache entries
func (u *syncUsecase) PurgeReceivedBefore(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		removed, err := u.emailRepo.DeleteReceivedBefore(ctx, before, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to purge emails: %w", err)
		}

		if u.exactCache != nil {
			for _, email := range removed {
				u.exactCache.Delete(ExactMatchKey(email.AccountID, email.MessageID))
			}
		}
		total += len(removed)
		metrics.RetentionPurgedTotal.Add(float64(len(removed)))

		if len(removed) < purgeBatchSize {
			return total, nil
		}
	}
}

func (u *syncUsecase) acquire(accountID string) bool {
	u.activeSyncsMu.Lock()
	defer u.activeSyncsMu.Unlock()
	if _, running := u.activeSyncs[accountID]; running {
		return false
	}
	u.activeSyncs[accountID] = struct{}{}
	return true
}

func (u *syncUsecase) release(accountID string) {
	u.activeSyncsMu.Lock()
	defer u.activeSyncsMu.Unlock()
	delete(u.activeSyncs, accountID)
}
