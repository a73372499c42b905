package usecase

import (
	"context"
	"errors"
	"log"
	"sync"

	emaildomain "mailsync-backend/internal/email/domain"

	"golang.org/x/sync/errgroup"
)

// BatchCheckForDuplicates runs CheckForDuplicate for every email. With one worker the
// emails are checked in order on the calling goroutine; with more, a bounded pool is used.
// Invalid descriptors are logged and reported as not duplicate. A fail-closed detection
// error aborts the batch.
func (d *duplicateDetector) BatchCheckForDuplicates(ctx context.Context, emails []*emaildomain.IncomingEmail) (map[string]*emaildomain.DuplicateCheckResult, error) {
	results := make(map[string]*emaildomain.DuplicateCheckResult, len(emails))

	workers := d.config.BatchWorkers
	if workers <= 1 {
		for _, email := range emails {
			result, err := d.checkBatchItem(ctx, email)
			if err != nil {
				return nil, err
			}
			if email != nil {
				results[email.MessageID] = result
			}
		}
		return results, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, email := range emails {
		g.Go(func() error {
			result, err := d.checkBatchItem(gctx, email)
			if err != nil {
				return err
			}
			if email != nil {
				mu.Lock()
				results[email.MessageID] = result
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *duplicateDetector) checkBatchItem(ctx context.Context, email *emaildomain.IncomingEmail) (*emaildomain.DuplicateCheckResult, error) {
	result, err := d.CheckForDuplicate(ctx, email)
	if err != nil {
		if errors.Is(err, ErrInvalidEmail) {
			log.Printf("[Dedup] Skipping invalid batch item: %v", err)
			return emaildomain.NotDuplicate(), nil
		}
		return nil, err
	}
	return result, nil
}
