package usecase

import (
	"context"
	"log"
	"sync"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/pkg/metrics"
)

// ingestJobTimeout bounds one queued ingestion, lookups and insert included
const ingestJobTimeout = 30 * time.Second

// IngestWorker ingests queued emails in the background
type IngestWorker struct {
	syncUsecase SyncUsecase
	jobQueue    chan *emaildomain.IncomingEmail
	workerWg    sync.WaitGroup
	workerCount int
	started     bool
	stopped     bool
	mu          sync.RWMutex

	// onDone is called after each job, mainly for tests
	onDone func(email *emaildomain.IncomingEmail, result *emaildomain.IngestResult, err error)
}

// NewIngestWorker creates a new ingest worker service
func NewIngestWorker(syncUsecase SyncUsecase, workerCount, queueSize int) *IngestWorker {
	if workerCount <= 0 {
		workerCount = 3 // Default to 3 workers
	}
	if queueSize <= 0 {
		queueSize = 500
	}

	return &IngestWorker{
		syncUsecase: syncUsecase,
		jobQueue:    make(chan *emaildomain.IncomingEmail, queueSize),
		workerCount: workerCount,
	}
}

// OnDone registers a callback run after every processed job
func (w *IngestWorker) OnDone(fn func(email *emaildomain.IncomingEmail, result *emaildomain.IngestResult, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDone = fn
}

// Start starts the ingest workers
func (w *IngestWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}

	for i := 0; i < w.workerCount; i++ {
		w.workerWg.Add(1)
		go w.worker(i)
	}
	w.started = true
	log.Printf("[IngestWorker] Started %d workers", w.workerCount)
}

// Stop drains the queue and waits for all workers. Jobs queued on a worker that
// was never started are processed on the calling goroutine.
func (w *IngestWorker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.jobQueue)
	w.mu.Unlock()

	if !started {
		for email := range w.jobQueue {
			w.processJob(email)
		}
		metrics.IngestQueueLength.Set(0)
		log.Println("[IngestWorker] Drained queue without workers")
		return
	}

	w.workerWg.Wait()
	log.Println("[IngestWorker] All workers stopped")
}

func (w *IngestWorker) worker(id int) {
	defer w.workerWg.Done()

	for email := range w.jobQueue {
		metrics.IngestQueueLength.Set(float64(len(w.jobQueue)))
		w.processJob(email)
	}

	log.Printf("[IngestWorker] Worker %d stopped", id)
}

func (w *IngestWorker) processJob(email *emaildomain.IncomingEmail) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestJobTimeout)
	defer cancel()

	result, err := w.syncUsecase.IngestEmail(ctx, email)
	if err != nil {
		log.Printf("[IngestWorker] Failed to ingest %s for account %s: %v", email.MessageID, email.AccountID, err)
	}

	w.mu.RLock()
	onDone := w.onDone
	w.mu.RUnlock()
	if onDone != nil {
		onDone(email, result, err)
	}
}

// QueueJob adds an email to the queue without blocking. It returns false when the
// queue is full or the worker has been stopped.
func (w *IngestWorker) QueueJob(email *emaildomain.IncomingEmail) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return false
	}

	select {
	case w.jobQueue <- email:
		metrics.IngestQueueLength.Set(float64(len(w.jobQueue)))
		return true
	default:
		metrics.IngestQueueRejectedTotal.Inc()
		return false // Queue full
	}
}
