package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"mailsync-backend/internal/email/usecase"
)

// purgeTimeout bounds one retention sweep
const purgeTimeout = 5 * time.Minute

// RetentionScheduler periodically deletes stored emails older than the retention period
type RetentionScheduler struct {
	syncUsecase usecase.SyncUsecase
	retention   time.Duration
	interval    time.Duration
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
	startOnce   sync.Once
	done        chan struct{}
}

// NewRetentionScheduler creates a new scheduler. A retention of zero disables it.
func NewRetentionScheduler(syncUsecase usecase.SyncUsecase, retention, interval time.Duration) *RetentionScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionScheduler{
		syncUsecase: syncUsecase,
		retention:   retention,
		interval:    interval,
		now:         time.Now,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *RetentionScheduler) Start() {
	s.startOnce.Do(s.start)
}

func (s *RetentionScheduler) start() {
	if s.retention <= 0 {
		log.Println("[Retention] EMAIL_RETENTION not set, scheduler disabled")
		close(s.done)
		return
	}

	log.Printf("[Retention] Starting retention scheduler (retention: %s, interval: %s)", s.retention, s.interval)

	go func() {
		defer close(s.done)

		// Run immediately on start
		s.sweep()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				log.Println("[Retention] Scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler and waits for a running sweep
func (s *RetentionScheduler) Stop() {
	// A scheduler that was never started has nothing to wait for
	s.startOnce.Do(func() { close(s.done) })
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
}

func (s *RetentionScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	removed, err := s.syncUsecase.PurgeReceivedBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[Retention] Error purging emails received before %s: %v", cutoff.Format(time.RFC3339), err)
		return
	}
	if removed > 0 {
		log.Printf("[Retention] Purged %d emails received before %s", removed, cutoff.Format(time.RFC3339))
	}
}
