package usecase

import (
	"regexp"
	"strings"
	"time"

	"mailsync-backend/pkg/fuzzy"
)

// maxSubjectRunes bounds the normalized subject and with it each Levenshtein run
const maxSubjectRunes = 256

var (
	replyForwardPrefix = regexp.MustCompile(`(?i)^\s*(?:re|fwd?)\s*:`)
	bracketedTag       = regexp.MustCompile(`\[[^\]]*\]`)
)

// normalizeSubject lowercases a subject, strips one leading Re:/Fw:/Fwd: prefix,
// removes every [tag] segment and collapses whitespace. The result is truncated
// to maxSubjectRunes.
func normalizeSubject(subject string) string {
	s := replyForwardPrefix.ReplaceAllString(subject, "")
	s = bracketedTag.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimSpace(fuzzy.Prefix(s, maxSubjectRunes))
}

// normalizeEmail case-folds and trims an address
func normalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// timeProximity decays linearly from 1 at delta 0 to 0 at the window edge
func timeProximity(delta, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	if delta < 0 {
		delta = -delta
	}
	score := 1 - float64(delta)/float64(window)
	if score < 0 {
		return 0
	}
	return score
}
