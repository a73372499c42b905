package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailSource struct {
	emails    []*emaildomain.IncomingEmail
	err       error
	started   chan struct{}
	block     chan struct{}
	lastSince time.Time
}

func (s *fakeMailSource) Name() string { return "fake" }

func (s *fakeMailSource) FetchSince(ctx context.Context, since time.Time, limit int) ([]*emaildomain.IncomingEmail, error) {
	s.lastSince = since
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.emails, nil
}

type fakeCheckpointRepository struct {
	mu          sync.Mutex
	checkpoints map[string]*emaildomain.SyncCheckpoint
	getErr      error
	saveErr     error
	saves       int
}

func newFakeCheckpointRepository() *fakeCheckpointRepository {
	return &fakeCheckpointRepository{checkpoints: make(map[string]*emaildomain.SyncCheckpoint)}
}

func (r *fakeCheckpointRepository) GetCheckpoint(ctx context.Context, accountID, source string) (*emaildomain.SyncCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	checkpoint, ok := r.checkpoints[accountID+"/"+source]
	if !ok {
		return nil, nil
	}
	copied := *checkpoint
	return &copied, nil
}

func (r *fakeCheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *emaildomain.SyncCheckpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	copied := *checkpoint
	r.checkpoints[checkpoint.AccountID+"/"+checkpoint.Source] = &copied
	return nil
}

func newTestSyncUsecase(repo *fakeEmailRepository) (SyncUsecase, *cache.Cache[string, string]) {
	exactCache := cache.New[string, string](time.Minute, 1000)
	detector := NewDuplicateDetector(repo, testDetectorConfig(), exactCache)
	return NewSyncUsecase(repo, nil, detector, exactCache), exactCache
}

func newCheckpointedSyncUsecase(checkpoints *fakeCheckpointRepository) SyncUsecase {
	repo := newFakeEmailRepository()
	exactCache := cache.New[string, string](time.Minute, 1000)
	detector := NewDuplicateDetector(repo, testDetectorConfig(), exactCache)
	return NewSyncUsecase(repo, checkpoints, detector, exactCache)
}

func TestIngestEmail_StoresNewEmail(t *testing.T) {
	repo := newFakeEmailRepository()
	uc, exactCache := newTestSyncUsecase(repo)

	result, err := uc.IngestEmail(context.Background(), incoming("m-1", "Budget Review", "alice@co.com", baseTime, budgetBody))
	require.NoError(t, err)

	assert.Equal(t, emaildomain.IngestStored, result.Status)
	require.NotNil(t, result.Email)
	assert.NotEmpty(t, result.Email.ID)
	assert.Nil(t, result.Email.DuplicateOfID)
	assert.Equal(t, budgetBody, result.Email.Snippet)
	assert.Equal(t, 1, repo.count())

	id, ok := exactCache.Get(ExactMatchKey("acct-1", "m-1"))
	assert.True(t, ok)
	assert.Equal(t, result.Email.ID, id)
}

func TestIngestEmail_SkipsExactDuplicate(t *testing.T) {
	repo := newFakeEmailRepository(stored("stored-1", "abc123", "Budget Review", "alice@co.com", baseTime, ""))
	uc, _ := newTestSyncUsecase(repo)

	result, err := uc.IngestEmail(context.Background(), incoming("abc123", "Budget Review", "alice@co.com", baseTime, ""))
	require.NoError(t, err)

	assert.Equal(t, emaildomain.IngestSkippedDuplicate, result.Status)
	assert.Nil(t, result.Email)
	assert.Equal(t, "stored-1", result.Check.DuplicateID)
	assert.Equal(t, 0, repo.createCalls)
}

func TestIngestEmail_LinksFuzzyDuplicate(t *testing.T) {
	repo := newFakeEmailRepository(stored("stored-1", "m-1", "Budget Review", "alice@co.com", baseTime, budgetBody))
	uc, _ := newTestSyncUsecase(repo)

	result, err := uc.IngestEmail(context.Background(), incoming("m-2", "Fwd: Budget Review", "alice@co.com", baseTime.Add(20*time.Second), budgetBody))
	require.NoError(t, err)

	assert.Equal(t, emaildomain.IngestStoredDuplicate, result.Status)
	require.NotNil(t, result.Email.DuplicateOfID)
	assert.Equal(t, "stored-1", *result.Email.DuplicateOfID)
	assert.Equal(t, 2, repo.count())
}

func TestIngestEmail_InsertRaceReportedAsExact(t *testing.T) {
	repo := newFakeEmailRepository()
	repo.createErr = emaildomain.ErrEmailExists
	uc, _ := newTestSyncUsecase(repo)

	result, err := uc.IngestEmail(context.Background(), incoming("m-1", "s", "alice@co.com", baseTime, ""))
	require.NoError(t, err)
	assert.Equal(t, emaildomain.IngestSkippedDuplicate, result.Status)
	assert.Equal(t, emaildomain.MatchExact, result.Check.MatchType)
}

func TestIngestEmail_StoreFailure(t *testing.T) {
	repo := newFakeEmailRepository()
	repo.createErr = errors.New("disk full")
	uc, _ := newTestSyncUsecase(repo)

	_, err := uc.IngestEmail(context.Background(), incoming("m-1", "s", "alice@co.com", baseTime, ""))
	assert.ErrorContains(t, err, "disk full")
}

func TestIngestEmail_InvalidInput(t *testing.T) {
	uc, _ := newTestSyncUsecase(newFakeEmailRepository())
	_, err := uc.IngestEmail(context.Background(), incoming("m-1", "s", "", baseTime, ""))
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestIngestBatch_CatchesDuplicatesWithinBatch(t *testing.T) {
	repo := newFakeEmailRepository()
	uc, _ := newTestSyncUsecase(repo)

	emails := []*emaildomain.IncomingEmail{
		// Out of order on purpose: ingestion goes by received time
		incoming("m-2", "Re: Budget Review", "alice@co.com", baseTime.Add(20*time.Second), budgetBody),
		incoming("m-1", "Budget Review", "alice@co.com", baseTime, budgetBody),
		incoming("m-1", "Budget Review", "alice@co.com", baseTime, budgetBody),
		incoming("m-3", "Completely unrelated", "bob@co.com", baseTime, ""),
		incoming("m-4", "s", "", baseTime, ""),
	}

	report, err := uc.IngestBatch(context.Background(), "acct-1", emails)
	require.NoError(t, err)

	assert.Equal(t, emaildomain.IngestStored, report.Results["m-1"].Status)
	assert.Equal(t, emaildomain.IngestStoredDuplicate, report.Results["m-2"].Status)
	assert.Equal(t, emaildomain.IngestStored, report.Results["m-3"].Status)
	assert.Contains(t, report.Errors, "m-4")

	assert.Equal(t, 3, report.Stored)
	assert.Equal(t, 1, report.FlaggedDuplicates)
	assert.Equal(t, 1, report.SkippedDuplicates)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, repo.count())
}

func TestIngestBatch_ForcesAccount(t *testing.T) {
	repo := newFakeEmailRepository()
	uc, _ := newTestSyncUsecase(repo)

	in := incoming("m-1", "s", "alice@co.com", baseTime, "")
	in.AccountID = "someone-else"

	report, err := uc.IngestBatch(context.Background(), "acct-9", []*emaildomain.IncomingEmail{in})
	require.NoError(t, err)
	assert.Equal(t, "acct-9", report.Results["m-1"].Email.AccountID)
}

func TestSyncMailbox(t *testing.T) {
	repo := newFakeEmailRepository(stored("stored-1", "abc123", "Budget Review", "alice@co.com", baseTime, ""))
	uc, _ := newTestSyncUsecase(repo)

	source := &fakeMailSource{emails: []*emaildomain.IncomingEmail{
		incoming("abc123", "Budget Review", "alice@co.com", baseTime, ""),
		incoming("m-2", "Hello", "bob@co.com", baseTime, ""),
	}}

	summary, err := uc.SyncMailbox(context.Background(), "acct-1", source, baseTime.Add(-time.Hour), 50)
	require.NoError(t, err)

	assert.Equal(t, "acct-1", summary.AccountID)
	assert.Equal(t, "fake", summary.Source)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.SkippedDuplicates)
}

func TestSyncMailbox_FetchError(t *testing.T) {
	uc, _ := newTestSyncUsecase(newFakeEmailRepository())

	_, err := uc.SyncMailbox(context.Background(), "acct-1", &fakeMailSource{err: errors.New("auth failed")}, baseTime, 10)
	assert.ErrorContains(t, err, "auth failed")

	// The account lock is released after a failure
	_, err = uc.SyncMailbox(context.Background(), "acct-1", &fakeMailSource{}, baseTime, 10)
	assert.NoError(t, err)
}

func TestSyncMailbox_OneSyncPerAccount(t *testing.T) {
	uc, _ := newTestSyncUsecase(newFakeEmailRepository())

	blocking := &fakeMailSource{started: make(chan struct{}), block: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := uc.SyncMailbox(context.Background(), "acct-1", blocking, baseTime, 10)
		done <- err
	}()
	<-blocking.started

	_, err := uc.SyncMailbox(context.Background(), "acct-1", &fakeMailSource{}, baseTime, 10)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	// Other accounts are not blocked
	_, err = uc.SyncMailbox(context.Background(), "acct-2", &fakeMailSource{}, baseTime, 10)
	assert.NoError(t, err)

	close(blocking.block)
	require.NoError(t, <-done)
}

func TestSyncMailbox_ExplicitSinceIsUsed(t *testing.T) {
	checkpoints := newFakeCheckpointRepository()
	checkpoints.checkpoints["acct-1/fake"] = &emaildomain.SyncCheckpoint{AccountID: "acct-1", Source: "fake", SyncedAt: baseTime}
	uc := newCheckpointedSyncUsecase(checkpoints)

	source := &fakeMailSource{}
	since := baseTime.Add(-72 * time.Hour)
	summary, err := uc.SyncMailbox(context.Background(), "acct-1", source, since, 10)
	require.NoError(t, err)

	assert.True(t, source.lastSince.Equal(since))
	assert.True(t, summary.Since.Equal(since))
}

func TestSyncMailbox_NoCheckpointReadsDefaultLookback(t *testing.T) {
	checkpoints := newFakeCheckpointRepository()
	uc := newCheckpointedSyncUsecase(checkpoints)

	source := &fakeMailSource{}
	before := time.Now()
	_, err := uc.SyncMailbox(context.Background(), "acct-1", source, time.Time{}, 10)
	require.NoError(t, err)

	assert.WithinDuration(t, before.Add(-DefaultSyncLookback), source.lastSince, time.Minute)
}

func TestSyncMailbox_ResumesFromCheckpoint(t *testing.T) {
	checkpoints := newFakeCheckpointRepository()
	uc := newCheckpointedSyncUsecase(checkpoints)
	ctx := context.Background()

	before := time.Now().UTC()
	_, err := uc.SyncMailbox(ctx, "acct-1", &fakeMailSource{emails: []*emaildomain.IncomingEmail{
		incoming("m-1", "Hello", "bob@co.com", baseTime, ""),
	}}, baseTime.Add(-time.Hour), 10)
	require.NoError(t, err)

	saved, err := checkpoints.GetCheckpoint(ctx, "acct-1", "fake")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.LastFetched)
	assert.WithinDuration(t, before, saved.SyncedAt, time.Minute)

	source := &fakeMailSource{}
	summary, err := uc.SyncMailbox(ctx, "acct-1", source, time.Time{}, 10)
	require.NoError(t, err)

	want := saved.SyncedAt.Add(-checkpointOverlap)
	assert.True(t, source.lastSince.Equal(want), "got %s want %s", source.lastSince, want)
	assert.True(t, summary.Since.Equal(want))

	// Checkpoints are per account
	other := &fakeMailSource{}
	_, err = uc.SyncMailbox(ctx, "acct-2", other, time.Time{}, 10)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-DefaultSyncLookback), other.lastSince, time.Minute)
}

func TestSyncMailbox_CheckpointFailures(t *testing.T) {
	checkpoints := newFakeCheckpointRepository()
	checkpoints.getErr = errors.New("db down")
	checkpoints.saveErr = errors.New("db down")
	uc := newCheckpointedSyncUsecase(checkpoints)

	source := &fakeMailSource{}
	before := time.Now()
	summary, err := uc.SyncMailbox(context.Background(), "acct-1", source, time.Time{}, 10)
	require.NoError(t, err, "checkpoint errors do not fail the sync")
	require.NotNil(t, summary)

	assert.WithinDuration(t, before.Add(-DefaultSyncLookback), source.lastSince, time.Minute)
	assert.Equal(t, 1, checkpoints.saves)
}

func TestSyncMailbox_FailedFetchSavesNoCheckpoint(t *testing.T) {
	checkpoints := newFakeCheckpointRepository()
	uc := newCheckpointedSyncUsecase(checkpoints)

	_, err := uc.SyncMailbox(context.Background(), "acct-1", &fakeMailSource{err: errors.New("timeout")}, baseTime, 10)
	require.Error(t, err)
	assert.Zero(t, checkpoints.saves)
}

func TestDeleteEmail_InvalidatesCache(t *testing.T) {
	repo := newFakeEmailRepository()
	uc, exactCache := newTestSyncUsecase(repo)
	ctx := context.Background()

	_, err := uc.IngestEmail(ctx, incoming("m-1", "s", "alice@co.com", baseTime, ""))
	require.NoError(t, err)
	_, cached := exactCache.Get(ExactMatchKey("acct-1", "m-1"))
	require.True(t, cached)

	deleted, err := uc.DeleteEmail(ctx, "acct-1", "m-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, cached = exactCache.Get(ExactMatchKey("acct-1", "m-1"))
	assert.False(t, cached)

	// Re-ingesting after delete stores it again instead of reporting a stale exact match
	result, err := uc.IngestEmail(ctx, incoming("m-1", "s", "alice@co.com", baseTime, ""))
	require.NoError(t, err)
	assert.Equal(t, emaildomain.IngestStored, result.Status)
}

func TestPurgeReceivedBefore(t *testing.T) {
	repo := newFakeEmailRepository(
		stored("s-1", "old-1", "Budget Review", "alice@co.com", baseTime.Add(-48*time.Hour), ""),
		stored("s-2", "old-2", "Budget Review", "alice@co.com", baseTime.Add(-30*time.Hour), ""),
		stored("s-3", "fresh", "Budget Review", "alice@co.com", baseTime, ""),
	)
	uc, exactCache := newTestSyncUsecase(repo)
	exactCache.Set(ExactMatchKey("acct-1", "old-1"), "s-1")
	exactCache.Set(ExactMatchKey("acct-1", "fresh"), "s-3")

	removed, err := uc.PurgeReceivedBefore(context.Background(), baseTime.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, repo.count())

	_, cached := exactCache.Get(ExactMatchKey("acct-1", "old-1"))
	assert.False(t, cached, "purged emails leave the exact-match cache")
	_, cached = exactCache.Get(ExactMatchKey("acct-1", "fresh"))
	assert.True(t, cached)
}

func TestPurgeReceivedBefore_Batches(t *testing.T) {
	var emails []*emaildomain.Email
	for i := 0; i < purgeBatchSize+3; i++ {
		emails = append(emails, stored("", fmt.Sprintf("old-%d", i), "s", "alice@co.com", baseTime.Add(-time.Duration(i+1)*time.Hour), ""))
	}
	repo := newFakeEmailRepository(emails...)
	uc, _ := newTestSyncUsecase(repo)

	removed, err := uc.PurgeReceivedBefore(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, purgeBatchSize+3, removed)
	assert.Zero(t, repo.count())
}

func TestPurgeReceivedBefore_Error(t *testing.T) {
	repo := newFakeEmailRepository()
	repo.purgeErr = errors.New("db down")
	uc, _ := newTestSyncUsecase(repo)

	_, err := uc.PurgeReceivedBefore(context.Background(), baseTime)
	assert.ErrorContains(t, err, "db down")
}
