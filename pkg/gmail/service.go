package gmail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/pkg/mailparse"

	"github.com/k3a/html2text"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	defaultLimit   = 50
	maxPageSize    = 500 // Gmail API maximum
	maxConcurrency = 10
)

var metadataHeaders = []string{"Message-ID", "Subject", "From", "Date"}

// TokenUpdateFunc is called when the access token was refreshed
type TokenUpdateFunc func(token *oauth2.Token) error

type Service struct {
	clientID     string
	clientSecret string
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] Failed to update token: %v", err)
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// GetGmailService creates Gmail service with user's access token
func (s *Service) GetGmailService(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return srv, nil
}

// NewSource returns a mail source reading the mailbox of the token's owner
func (s *Service) NewSource(accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) *Source {
	return &Source{
		service:        s,
		accessToken:    accessToken,
		refreshToken:   refreshToken,
		onTokenRefresh: onTokenRefresh,
	}
}

// Source lists recent Gmail messages as incoming emails
type Source struct {
	service        *Service
	accessToken    string
	refreshToken   string
	onTokenRefresh TokenUpdateFunc
}

func (src *Source) Name() string {
	return "gmail"
}

// FetchSince returns up to limit of the newest messages received after since
func (src *Source) FetchSince(ctx context.Context, since time.Time, limit int) ([]*emaildomain.IncomingEmail, error) {
	if src.accessToken == "" && src.refreshToken == "" {
		return nil, errors.New("gmail access or refresh token is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	srv, err := src.service.GetGmailService(ctx, src.accessToken, src.refreshToken, src.onTokenRefresh)
	if err != nil {
		return nil, err
	}

	ids, err := listMessageIDs(ctx, srv, searchQuery(since), limit)
	if err != nil {
		return nil, err
	}

	type emailResult struct {
		email *emaildomain.IncomingEmail
		err   error
	}

	resultChan := make(chan emailResult, len(ids))
	semaphore := make(chan struct{}, maxConcurrency)

	for _, id := range ids {
		go func(msgID string) {
			semaphore <- struct{}{}        // Acquire
			defer func() { <-semaphore }() // Release

			msg, err := srv.Users.Messages.Get("me", msgID).
				Format("metadata").
				MetadataHeaders(metadataHeaders...).
				Context(ctx).
				Do()
			if err != nil {
				resultChan <- emailResult{nil, fmt.Errorf("message %s: %w", msgID, err)}
				return
			}
			resultChan <- emailResult{messageToIncoming(msg), nil}
		}(id)
	}

	emails := make([]*emaildomain.IncomingEmail, 0, len(ids))
	for range ids {
		result := <-resultChan
		if result.err != nil {
			log.Printf("[Gmail] Skipping %v", result.err)
			continue
		}
		if result.email.ReceivedAt.Before(since) {
			continue
		}
		emails = append(emails, result.email)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Parallel fetching returns emails in random order
	sort.Slice(emails, func(i, j int) bool {
		return emails[i].ReceivedAt.After(emails[j].ReceivedAt)
	})

	return emails, nil
}

func listMessageIDs(ctx context.Context, srv *gmail.Service, q string, limit int) ([]string, error) {
	var ids []string
	pageToken := ""

	for len(ids) < limit {
		pageSize := int64(limit - len(ids))
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}

		call := srv.Users.Messages.List("me").MaxResults(pageSize).Context(ctx)
		if q != "" {
			call = call.Q(q)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve messages: %v", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// searchQuery restricts a listing to mail received after since. Gmail accepts epoch
// seconds in after: and excludes the bound itself.
func searchQuery(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return fmt.Sprintf("after:%d", since.Unix()-1)
}

// Helper functions

func messageToIncoming(msg *gmail.Message) *emaildomain.IncomingEmail {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	fromAddress, fromName := mailparse.ParseAddress(getHeader(headers, "From"))

	messageID := mailparse.NormalizeMessageID(getHeader(headers, "Message-ID"))
	if messageID == "" {
		messageID = "gmail-" + msg.Id
	}

	return &emaildomain.IncomingEmail{
		MessageID:   messageID,
		Subject:     strings.TrimSpace(getHeader(headers, "Subject")),
		FromAddress: fromAddress,
		FromName:    fromName,
		ReceivedAt:  time.UnixMilli(msg.InternalDate).UTC(),
		// Snippets come HTML-escaped
		BodyPreview: mailparse.Preview(html2text.HTML2Text(msg.Snippet)),
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}
