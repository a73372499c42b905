package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/pkg/mailparse"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const (
	defaultMailbox = "INBOX"
	defaultLimit   = 50
	maxLimit       = 500
	commandTimeout = 30 * time.Second
)

// Config holds the connection settings of one IMAP account
type Config struct {
	Host     string // host:port, implicit TLS
	Username string
	Password string
	Mailbox  string
	// InsecureSkipVerify disables certificate checks, for local test servers only
	InsecureSkipVerify bool
}

// Source reads recent messages from an IMAP mailbox
type Source struct {
	cfg  Config
	dial func(addr string, tlsConfig *tls.Config) (*client.Client, error)
}

// NewSource creates an IMAP mail source
func NewSource(cfg Config) *Source {
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	return &Source{cfg: cfg, dial: client.DialTLS}
}

func (s *Source) Name() string {
	return "imap"
}

// FetchSince returns up to limit of the newest messages received at or after since
func (s *Source) FetchSince(ctx context.Context, since time.Time, limit int) ([]*emaildomain.IncomingEmail, error) {
	if s.cfg.Host == "" || s.cfg.Username == "" {
		return nil, errors.New("imap host and username are required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	c, err := s.dial(s.cfg.Host, &tls.Config{InsecureSkipVerify: s.cfg.InsecureSkipVerify})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.cfg.Host, err)
	}
	c.Timeout = commandTimeout
	defer c.Logout()

	// The client has no context support; drop the connection when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})
	defer stop()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	mbox, err := c.Select(s.cfg.Mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", s.cfg.Mailbox, err)
	}
	log.Printf("[IMAP] Selected %s for %s: %d messages", s.cfg.Mailbox, s.cfg.Username, mbox.Messages)

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, ctx.Err()
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	emails := make([]*emaildomain.IncomingEmail, 0, len(uids))
	for msg := range messages {
		email, err := messageToIncoming(msg, section, s.cfg.Mailbox)
		if err != nil {
			log.Printf("[IMAP] Skipping uid %d in %s: %v", msg.Uid, s.cfg.Mailbox, err)
			continue
		}
		// SEARCH SINCE has day granularity
		if email.ReceivedAt.Before(since) {
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return emails, nil
}

// messageToIncoming parses the fetched body of msg. The internal date is used as the
// received time; messages without a Message-ID get one derived from mailbox and uid.
func messageToIncoming(msg *imap.Message, section *imap.BodySectionName, mailbox string) (*emaildomain.IncomingEmail, error) {
	body := msg.GetBody(section)
	if body == nil {
		return nil, errors.New("server returned no message body")
	}

	email, err := mailparse.Parse(body)
	if err != nil {
		return nil, err
	}

	if !msg.InternalDate.IsZero() {
		email.ReceivedAt = msg.InternalDate.UTC()
	}
	if email.MessageID == "" {
		email.MessageID = fmt.Sprintf("imap-%s-%d", mailbox, msg.Uid)
	}
	return email, nil
}
