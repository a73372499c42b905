package domain

import "fmt"

// MatchType tells which path of the detector produced a duplicate verdict
type MatchType string

const (
	MatchNone  MatchType = ""
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

// ReasonExactIDMatch is the reason reported for message identifier matches
const ReasonExactIDMatch = "exact id match"

// DuplicateCheckResult is the verdict for one incoming email. It is never persisted.
type DuplicateCheckResult struct {
	IsDuplicate bool      `json:"is_duplicate"`
	DuplicateID string    `json:"duplicate_id,omitempty"`
	Confidence  float64   `json:"confidence"`
	Reason      string    `json:"reason,omitempty"`
	MatchType   MatchType `json:"match_type,omitempty"`
}

// NotDuplicate is the result returned when nothing matched
func NotDuplicate() *DuplicateCheckResult {
	return &DuplicateCheckResult{}
}

// ErrorPolicy decides what the detector does when a store lookup fails
type ErrorPolicy string

const (
	// FailOpen logs the error and treats the email as not a duplicate
	FailOpen ErrorPolicy = "fail-open"
	// FailClosed returns the error to the caller
	FailClosed ErrorPolicy = "fail-closed"
	// RetryN retries lookups with backoff, then fails open
	RetryN ErrorPolicy = "retry-n"
)

// ParseErrorPolicy validates a policy name
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(s); p {
	case FailOpen, FailClosed, RetryN:
		return p, nil
	case "":
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

// MatchStrategy decides which candidate wins when several clear the threshold
type MatchStrategy string

const (
	// MatchFirst returns the first candidate over the threshold, in store order
	MatchFirst MatchStrategy = "first"
	// MatchBest returns the highest-confidence candidate over the threshold
	MatchBest MatchStrategy = "best"
)

// ParseMatchStrategy validates a strategy name
func ParseMatchStrategy(s string) (MatchStrategy, error) {
	switch m := MatchStrategy(s); m {
	case MatchFirst, MatchBest:
		return m, nil
	case "":
		return MatchFirst, nil
	default:
		return "", fmt.Errorf("unknown match strategy %q", s)
	}
}
