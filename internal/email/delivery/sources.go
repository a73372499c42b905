package delivery

import (
	"log"

	emaildomain "mailsync-backend/internal/email/domain"
	emaildto "mailsync-backend/internal/email/dto"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/imap"

	"golang.org/x/oauth2"
)

// SourceFactory builds request-scoped mail sources from sync requests
type SourceFactory interface {
	IMAP(req *emaildto.IMAPSyncRequest) emaildomain.MailSource
	Gmail(req *emaildto.GmailSyncRequest) emaildomain.MailSource
}

type providerSources struct {
	gmailService *gmail.Service
}

// NewProviderSources returns the IMAP and Gmail backed SourceFactory
func NewProviderSources(gmailService *gmail.Service) SourceFactory {
	return &providerSources{gmailService: gmailService}
}

func (p *providerSources) IMAP(req *emaildto.IMAPSyncRequest) emaildomain.MailSource {
	return imap.NewSource(imap.Config{
		Host:     req.Host,
		Username: req.Username,
		Password: req.Password,
		Mailbox:  req.Mailbox,
	})
}

func (p *providerSources) Gmail(req *emaildto.GmailSyncRequest) emaildomain.MailSource {
	// Refreshed tokens are not persisted; the caller sends fresh credentials each sync
	return p.gmailService.NewSource(req.AccessToken, req.RefreshToken, func(token *oauth2.Token) error {
		log.Printf("[Gmail] Access token refreshed, expires %s", token.Expiry)
		return nil
	})
}
