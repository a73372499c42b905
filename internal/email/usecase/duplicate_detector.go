package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/cache"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/fuzzy"
	"mailsync-backend/pkg/metrics"

	"github.com/cenkalti/backoff/v5"
)

var (
	// ErrInvalidEmail is returned for descriptors missing a required field
	ErrInvalidEmail = errors.New("invalid email descriptor")
	// ErrDetectionFailed is returned under the fail-closed policy when a lookup fails
	ErrDetectionFailed = errors.New("duplicate detection failed")
)

// Signal weights of the fuzzy confidence score
const (
	subjectWeight = 0.4
	timeWeight    = 0.3
	bodyWeight    = 0.3
)

// DetectorConfig tunes the duplicate detector
type DetectorConfig struct {
	Threshold      float64
	Window         time.Duration
	CandidateLimit int
	BodyPrefix     int
	ErrorPolicy    emaildomain.ErrorPolicy
	MatchStrategy  emaildomain.MatchStrategy
	RetryAttempts  int
	RetryInterval  time.Duration
	BatchWorkers   int
}

// DefaultDetectorConfig returns the standard detector settings
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold:      0.85,
		Window:         5 * time.Minute,
		CandidateLimit: 50,
		BodyPrefix:     200,
		ErrorPolicy:    emaildomain.FailOpen,
		MatchStrategy:  emaildomain.MatchFirst,
		RetryAttempts:  3,
		RetryInterval:  100 * time.Millisecond,
		BatchWorkers:   1,
	}
}

// DetectorConfigFromConfig builds detector settings from the application config
func DetectorConfigFromConfig(cfg *config.Config) (DetectorConfig, error) {
	dc := DefaultDetectorConfig()

	policy, err := emaildomain.ParseErrorPolicy(cfg.DedupErrorPolicy)
	if err != nil {
		return dc, err
	}
	strategy, err := emaildomain.ParseMatchStrategy(cfg.DedupMatchStrategy)
	if err != nil {
		return dc, err
	}
	dc.ErrorPolicy = policy
	dc.MatchStrategy = strategy

	if cfg.DedupThreshold > 0 {
		dc.Threshold = cfg.DedupThreshold
	}
	if cfg.DedupWindow > 0 {
		dc.Window = cfg.DedupWindow
	}
	if cfg.DedupCandidateLimit > 0 {
		dc.CandidateLimit = cfg.DedupCandidateLimit
	}
	if cfg.DedupBodyPrefix > 0 {
		dc.BodyPrefix = cfg.DedupBodyPrefix
	}
	if cfg.DedupRetryAttempts > 0 {
		dc.RetryAttempts = cfg.DedupRetryAttempts
	}
	if cfg.DedupBatchWorkers > 0 {
		dc.BatchWorkers = cfg.DedupBatchWorkers
	}
	return dc, nil
}

// ExactMatchKey is the exact-match cache key for a message id within an account
func ExactMatchKey(accountID, messageID string) string {
	return accountID + "\x00" + messageID
}

// duplicateDetector implements DuplicateDetector interface
type duplicateDetector struct {
	emailRepo  repository.EmailRepository
	config     DetectorConfig
	exactCache *cache.Cache[string, string] // (account, message id) -> stored email id; hits only
}

// NewDuplicateDetector creates a new duplicate detector. exactCache may be nil.
func NewDuplicateDetector(emailRepo repository.EmailRepository, cfg DetectorConfig, exactCache *cache.Cache[string, string]) DuplicateDetector {
	return &duplicateDetector{
		emailRepo:  emailRepo,
		config:     cfg,
		exactCache: exactCache,
	}
}

func (d *duplicateDetector) CheckForDuplicate(ctx context.Context, email *emaildomain.IncomingEmail) (*emaildomain.DuplicateCheckResult, error) {
	start := time.Now()

	if err := ValidateIncoming(email); err != nil {
		metrics.DuplicateChecksTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	result, err := d.check(ctx, email)
	if err != nil {
		metrics.DuplicateChecksTotal.WithLabelValues("error").Inc()
		if d.config.ErrorPolicy == emaildomain.FailClosed {
			return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
		}
		// fail-open, and retry-n once its attempts are spent
		log.Printf("[Dedup] Lookup failed for %s/%s, treating as not duplicate: %v", email.AccountID, email.MessageID, err)
		return emaildomain.NotDuplicate(), nil
	}

	label := "unique"
	switch result.MatchType {
	case emaildomain.MatchExact:
		label = "exact"
	case emaildomain.MatchFuzzy:
		label = "fuzzy"
		metrics.DuplicateConfidence.Observe(result.Confidence)
	}
	metrics.DuplicateChecksTotal.WithLabelValues(label).Inc()
	metrics.DuplicateCheckDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	return result, nil
}

func (d *duplicateDetector) check(ctx context.Context, email *emaildomain.IncomingEmail) (*emaildomain.DuplicateCheckResult, error) {
	key := ExactMatchKey(email.AccountID, email.MessageID)
	if d.exactCache != nil {
		if id, ok := d.exactCache.Get(key); ok {
			metrics.ExactMatchCacheTotal.WithLabelValues("hit").Inc()
			return exactMatch(id), nil
		}
		metrics.ExactMatchCacheTotal.WithLabelValues("miss").Inc()
	}

	existing, err := withRetry(ctx, d.config, func() (*emaildomain.Email, error) {
		return d.emailRepo.FindByMessageID(ctx, email.AccountID, email.MessageID)
	})
	if err != nil {
		return nil, fmt.Errorf("exact match lookup: %w", err)
	}
	if existing != nil {
		if d.exactCache != nil {
			d.exactCache.Set(key, existing.ID)
		}
		return exactMatch(existing.ID), nil
	}

	// Candidates further than one window away can never clear the threshold
	since := email.ReceivedAt.Add(-d.config.Window)
	until := email.ReceivedAt.Add(d.config.Window)
	candidates, err := withRetry(ctx, d.config, func() ([]*emaildomain.Email, error) {
		return d.emailRepo.FindReceivedBetween(ctx, email.AccountID, since, until, d.config.CandidateLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("candidate lookup: %w", err)
	}

	sender := normalizeEmail(email.FromAddress)
	subject := normalizeSubject(email.Subject)

	var best *emaildomain.DuplicateCheckResult
	for _, candidate := range candidates {
		// Sender identity is a hard filter, not a weighted signal
		if normalizeEmail(candidate.FromAddress) != sender {
			continue
		}

		s := d.score(email, subject, candidate)
		if s.confidence < d.config.Threshold {
			continue
		}

		result := &emaildomain.DuplicateCheckResult{
			IsDuplicate: true,
			DuplicateID: candidate.ID,
			Confidence:  s.confidence,
			Reason:      s.reason(),
			MatchType:   emaildomain.MatchFuzzy,
		}
		if d.config.MatchStrategy != emaildomain.MatchBest {
			return result, nil
		}
		if best == nil || result.Confidence > best.Confidence {
			best = result
		}
	}

	if best != nil {
		return best, nil
	}
	return emaildomain.NotDuplicate(), nil
}

// matchScore holds the individual signals for one candidate
type matchScore struct {
	subjectSimilarity float64
	timeProximity     float64
	timeDelta         time.Duration
	bodySimilarity    float64
	bodyAvailable     bool
	confidence        float64
}

func (d *duplicateDetector) score(email *emaildomain.IncomingEmail, normalizedSubject string, candidate *emaildomain.Email) matchScore {
	s := matchScore{
		subjectSimilarity: fuzzy.Similarity(normalizedSubject, normalizeSubject(candidate.Subject)),
		timeDelta:         email.ReceivedAt.Sub(candidate.ReceivedAt),
	}
	if s.timeDelta < 0 {
		s.timeDelta = -s.timeDelta
	}
	s.timeProximity = timeProximity(s.timeDelta, d.config.Window)

	incomingBody := strings.TrimSpace(email.BodyPreview)
	candidateBody := strings.TrimSpace(candidate.Snippet)
	s.bodyAvailable = incomingBody != "" && candidateBody != ""

	confidence := s.subjectSimilarity*subjectWeight + s.timeProximity*timeWeight
	if s.bodyAvailable {
		s.bodySimilarity = fuzzy.Similarity(
			fuzzy.NormalizeWhitespace(fuzzy.Prefix(incomingBody, d.config.BodyPrefix)),
			fuzzy.NormalizeWhitespace(fuzzy.Prefix(candidateBody, d.config.BodyPrefix)),
		)
		confidence += s.bodySimilarity * bodyWeight
	} else {
		// Missing body: the subject signal also fills the body slot
		confidence += s.subjectSimilarity * bodyWeight
	}

	s.confidence = clamp01(confidence)
	return s
}

func (s matchScore) reason() string {
	parts := []string{"same sender"}
	if s.subjectSimilarity > 0 {
		parts = append(parts, fmt.Sprintf("subject similarity %.2f", s.subjectSimilarity))
	}
	if s.timeProximity > 0 {
		parts = append(parts, fmt.Sprintf("received %s apart", s.timeDelta.Round(time.Second)))
	}
	if s.bodyAvailable {
		if s.bodySimilarity > 0 {
			parts = append(parts, fmt.Sprintf("body similarity %.2f", s.bodySimilarity))
		}
	} else {
		parts = append(parts, "no body text, subject weighted in its place")
	}
	return strings.Join(parts, "; ")
}

func exactMatch(id string) *emaildomain.DuplicateCheckResult {
	return &emaildomain.DuplicateCheckResult{
		IsDuplicate: true,
		DuplicateID: id,
		Confidence:  1.0,
		Reason:      emaildomain.ReasonExactIDMatch,
		MatchType:   emaildomain.MatchExact,
	}
}

// ValidateIncoming reports ErrInvalidEmail when a required descriptor field is blank
func ValidateIncoming(email *emaildomain.IncomingEmail) error {
	if email == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidEmail)
	}
	var missing []string
	if strings.TrimSpace(email.MessageID) == "" {
		missing = append(missing, "message_id")
	}
	if strings.TrimSpace(email.AccountID) == "" {
		missing = append(missing, "account_id")
	}
	if strings.TrimSpace(email.FromAddress) == "" {
		missing = append(missing, "from_address")
	}
	if email.ReceivedAt.IsZero() {
		missing = append(missing, "received_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEmail, strings.Join(missing, ", "))
	}
	return nil
}

// withRetry runs op once, or with exponential backoff under the retry-n policy
func withRetry[T any](ctx context.Context, cfg DetectorConfig, op func() (T, error)) (T, error) {
	if cfg.ErrorPolicy != emaildomain.RetryN || cfg.RetryAttempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if cfg.RetryInterval > 0 {
		b.InitialInterval = cfg.RetryInterval
		b.MaxInterval = 10 * cfg.RetryInterval
	}

	return backoff.Retry(ctx, backoff.Operation[T](op),
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.RetryAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.LookupRetriesTotal.Inc()
			log.Printf("[Dedup] Lookup failed, retrying in %s: %v", next, err)
		}),
	)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
