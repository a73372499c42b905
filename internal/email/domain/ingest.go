package domain

import "time"

// IngestStatus describes what ingestion did with one incoming email
type IngestStatus string

const (
	// IngestStored means the email was new and has been stored
	IngestStored IngestStatus = "stored"
	// IngestStoredDuplicate means the email was stored and linked to a fuzzy match
	IngestStoredDuplicate IngestStatus = "stored_duplicate"
	// IngestSkippedDuplicate means the message id was already stored for the account
	IngestSkippedDuplicate IngestStatus = "skipped_duplicate"
)

// IngestResult is the outcome of ingesting one email
type IngestResult struct {
	Status IngestStatus          `json:"status"`
	Email  *Email                `json:"email,omitempty"`
	Check  *DuplicateCheckResult `json:"check"`
}

// IngestReport aggregates the outcome of ingesting a batch
type IngestReport struct {
	Results           map[string]*IngestResult `json:"results"`
	Errors            map[string]string        `json:"errors,omitempty"`
	Stored            int                      `json:"stored"`
	FlaggedDuplicates int                      `json:"flagged_duplicates"`
	SkippedDuplicates int                      `json:"skipped_duplicates"`
	Failed            int                      `json:"failed"`
}

// NewIngestReport creates an empty report
func NewIngestReport() *IngestReport {
	return &IngestReport{
		Results: make(map[string]*IngestResult),
		Errors:  make(map[string]string),
	}
}

// Add records one result in the report
func (r *IngestReport) Add(messageID string, result *IngestResult) {
	r.Results[messageID] = result
	switch result.Status {
	case IngestStored:
		r.Stored++
	case IngestStoredDuplicate:
		r.Stored++
		r.FlaggedDuplicates++
	case IngestSkippedDuplicate:
		r.SkippedDuplicates++
	}
}

// AddError records a failed email in the report
func (r *IngestReport) AddError(messageID string, err error) {
	r.Errors[messageID] = err.Error()
	r.Failed++
}

// SyncSummary is the outcome of one mailbox sync run
type SyncSummary struct {
	AccountID string    `json:"account_id"`
	Source    string    `json:"source"`
	Since     time.Time `json:"since"`
	Fetched   int       `json:"fetched"`
	IngestReport
}
