package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/google/uuid"
)

// fakeEmailRepository is an in-memory EmailRepository for tests
type fakeEmailRepository struct {
	mu     sync.Mutex
	emails []*emaildomain.Email

	findErrs    []error // popped per FindByMessageID call
	rangeErrs   []error // popped per FindReceivedBetween call
	createErr   error
	purgeErr    error
	findCalls   int
	rangeCalls  int
	createCalls int
}

func newFakeEmailRepository(emails ...*emaildomain.Email) *fakeEmailRepository {
	r := &fakeEmailRepository{}
	for _, e := range emails {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		r.emails = append(r.emails, e)
	}
	return r
}

func (r *fakeEmailRepository) FindByMessageID(ctx context.Context, accountID, messageID string) (*emaildomain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findCalls++
	if len(r.findErrs) > 0 {
		err := r.findErrs[0]
		r.findErrs = r.findErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	for _, e := range r.emails {
		if e.AccountID == accountID && e.MessageID == messageID {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeEmailRepository) FindReceivedBetween(ctx context.Context, accountID string, since, until time.Time, limit int) ([]*emaildomain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rangeCalls++
	if len(r.rangeErrs) > 0 {
		err := r.rangeErrs[0]
		r.rangeErrs = r.rangeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []*emaildomain.Email
	for _, e := range r.emails {
		if e.AccountID == accountID && !e.ReceivedAt.Before(since) && !e.ReceivedAt.After(until) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeEmailRepository) Create(ctx context.Context, email *emaildomain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return r.createErr
	}
	for _, e := range r.emails {
		if e.AccountID == email.AccountID && e.MessageID == email.MessageID {
			return emaildomain.ErrEmailExists
		}
	}
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	r.emails = append(r.emails, email)
	return nil
}

func (r *fakeEmailRepository) DeleteByMessageID(ctx context.Context, accountID, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.emails {
		if e.AccountID == accountID && e.MessageID == messageID {
			r.emails = append(r.emails[:i], r.emails[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeEmailRepository) DeleteReceivedBefore(ctx context.Context, before time.Time, limit int) ([]*emaildomain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.purgeErr != nil {
		return nil, r.purgeErr
	}
	sort.SliceStable(r.emails, func(i, j int) bool {
		return r.emails[i].ReceivedAt.Before(r.emails[j].ReceivedAt)
	})
	var removed, kept []*emaildomain.Email
	for _, e := range r.emails {
		if e.ReceivedAt.Before(before) && len(removed) < limit {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	r.emails = kept
	return removed, nil
}

func (r *fakeEmailRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emails)
}
