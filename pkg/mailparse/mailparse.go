// Package mailparse turns raw RFC 5322 messages into incoming email descriptors.
package mailparse

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/pkg/fuzzy"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
)

const (
	// PreviewLength caps the stored body preview, in runes
	PreviewLength = 1000
	// maxPartBytes bounds how much of a single text part is read
	maxPartBytes = 256 * 1024
)

var ErrNoSender = errors.New("message has no From address")

// Parse reads a message and extracts Message-ID, Subject, From, Date and a text preview.
// The preview comes from the first text/plain part, falling back to the first text/html
// part converted to text. A missing Date leaves ReceivedAt zero for the caller to fill.
func Parse(r io.Reader) (*emaildomain.IncomingEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	email, err := headerToIncoming(mr.Header)
	if err != nil {
		return nil, err
	}

	var plain, html string
	for plain == "" {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			log.Printf("[MailParse] Stopped reading parts of %s: %v", email.MessageID, err)
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := h.ContentType()
		if mediaType != "text/plain" && mediaType != "text/html" {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
		if err != nil {
			log.Printf("[MailParse] Failed to read %s part of %s: %v", mediaType, email.MessageID, err)
			continue
		}
		if mediaType == "text/plain" {
			plain = string(body)
		} else if html == "" {
			html = string(body)
		}
	}

	text := plain
	if strings.TrimSpace(text) == "" && html != "" {
		text = html2text.HTML2Text(html)
	}
	email.BodyPreview = Preview(text)

	return email, nil
}

func headerToIncoming(h mail.Header) (*emaildomain.IncomingEmail, error) {
	email := &emaildomain.IncomingEmail{}

	if id, err := h.MessageID(); err == nil {
		email.MessageID = NormalizeMessageID(id)
	} else {
		email.MessageID = NormalizeMessageID(h.Get("Message-Id"))
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	email.Subject = strings.TrimSpace(subject)

	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 {
		return nil, ErrNoSender
	}
	email.FromAddress = from[0].Address
	email.FromName = from[0].Name

	if date, err := h.Date(); err == nil {
		email.ReceivedAt = date.UTC()
	}

	return email, nil
}

// NormalizeMessageID trims whitespace and surrounding angle brackets so ids read from
// different providers compare equal.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// ParseAddress splits a From header value into address and display name
func ParseAddress(value string) (address, name string) {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return strings.Trim(strings.TrimSpace(value), "<>"), ""
	}
	return addr.Address, addr.Name
}

// Preview collapses whitespace and caps the text at PreviewLength runes
func Preview(text string) string {
	return fuzzy.Prefix(strings.Join(strings.Fields(text), " "), PreviewLength)
}
