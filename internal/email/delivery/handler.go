package delivery

import (
	"errors"
	"net/http"
	"time"

	authdelivery "mailsync-backend/internal/auth/delivery"
	emaildomain "mailsync-backend/internal/email/domain"
	emaildto "mailsync-backend/internal/email/dto"
	"mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/mailparse"

	"github.com/gin-gonic/gin"
)

const (
	// maxRawMessageBytes bounds raw RFC 5322 uploads
	maxRawMessageBytes = 10 << 20
	// maxJSONBodyBytes bounds JSON request bodies, batches included
	maxJSONBodyBytes = 4 << 20
)

// bindJSON decodes a size-limited JSON body into obj
func bindJSON(c *gin.Context, obj any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBodyBytes)
	return c.ShouldBindJSON(obj)
}

// IngestQueue accepts emails for background ingestion
type IngestQueue interface {
	QueueJob(email *emaildomain.IncomingEmail) bool
}

type EmailHandler struct {
	detector    usecase.DuplicateDetector
	syncUsecase usecase.SyncUsecase
	sources     SourceFactory
	ingestQueue IngestQueue
}

func NewEmailHandler(detector usecase.DuplicateDetector, syncUsecase usecase.SyncUsecase, sources SourceFactory) *EmailHandler {
	return &EmailHandler{
		detector:    detector,
		syncUsecase: syncUsecase,
		sources:     sources,
	}
}

// SetIngestQueue enables POST /api/emails/ingest/async
func (h *EmailHandler) SetIngestQueue(queue IngestQueue) {
	h.ingestQueue = queue
}

// CheckDuplicate classifies one email without storing it
// POST /api/dedup/check
func (h *EmailHandler) CheckDuplicate(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)

	var req emaildto.EmailRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.detector.CheckForDuplicate(c.Request.Context(), req.ToIncoming(accountID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// BatchCheck classifies a list of emails, keyed by message id
// POST /api/dedup/batch
func (h *EmailHandler) BatchCheck(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)

	var req emaildto.BatchCheckRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	emails := make([]*emaildomain.IncomingEmail, 0, len(req.Emails))
	for i := range req.Emails {
		emails = append(emails, req.Emails[i].ToIncoming(accountID))
	}

	results, err := h.detector.BatchCheckForDuplicates(c.Request.Context(), emails)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.BatchCheckResponse{Results: results})
}

// IngestEmail checks and stores one email
// POST /api/emails/ingest
func (h *EmailHandler) IngestEmail(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)

	var req emaildto.EmailRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.ingest(c, req.ToIncoming(accountID))
}

// IngestAsync validates an email and queues it for background ingestion
// POST /api/emails/ingest/async
func (h *EmailHandler) IngestAsync(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)

	if h.ingestQueue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "background ingestion is disabled"})
		return
	}

	var req emaildto.EmailRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := req.ToIncoming(accountID)
	if err := usecase.ValidateIncoming(email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.ingestQueue.QueueJob(email) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest queue is full"})
		return
	}

	c.JSON(http.StatusAccepted, emaildto.QueuedResponse{MessageID: email.MessageID, Queued: true})
}

// IngestRaw parses an RFC 5322 message from the request body, then checks and stores it
// POST /api/emails/ingest/raw
func (h *EmailHandler) IngestRaw(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxRawMessageBytes)
	email, err := mailparse.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email.AccountID = accountID
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = time.Now().UTC()
	}

	h.ingest(c, email)
}

func (h *EmailHandler) ingest(c *gin.Context, email *emaildomain.IncomingEmail) {
	result, err := h.syncUsecase.IngestEmail(c.Request.Context(), email)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Status == emaildomain.IngestSkippedDuplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// DeleteEmail removes a stored email by message id
// DELETE /api/emails/:messageId
func (h *EmailHandler) DeleteEmail(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)
	messageID := c.Param("messageId")

	deleted, err := h.syncUsecase.DeleteEmail(c.Request.Context(), accountID, messageID)
	if err != nil {
		writeError(c, err)
		return
	}

	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}

	c.JSON(http.StatusOK, emaildto.DeleteEmailResponse{MessageID: messageID, Deleted: true})
}

// SyncIMAP pulls recent mail from an IMAP mailbox
// POST /api/sync/imap
func (h *EmailHandler) SyncIMAP(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)

	var req emaildto.IMAPSyncRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.syncUsecase.SyncMailbox(c.Request.Context(), accountID, h.sources.IMAP(&req), req.Since, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// SyncGmail pulls recent mail through the Gmail API
// POST /api/sync/gmail
func (h *EmailHandler) SyncGmail(c *gin.Context) {
	accountID := c.GetString(authdelivery.AccountIDKey)

	var req emaildto.GmailSyncRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AccessToken == "" && req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_token or refresh_token is required"})
		return
	}

	summary, err := h.syncUsecase.SyncMailbox(c.Request.Context(), accountID, h.sources.Gmail(&req), req.Since, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrInvalidEmail):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, usecase.ErrDetectionFailed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
