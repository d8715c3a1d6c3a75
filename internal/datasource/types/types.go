package types

import (
	"context"
	"time"

	"github.com/Philanthropists/mail2pdf/internal/policy"
)

type Mailbox string

type Attachment struct {
	Filename string
	MIMEType string
	Size     int64
}

// Message is a read-only view of one fetched email.
type Message struct {
	UID         string
	Subject     string
	From        string
	Date        time.Time
	HTML        string
	Text        string
	Attachments []Attachment
}

// MailClient is one authenticated mailbox session.
type MailClient interface {
	// GetMessages returns at most limit messages matching filter, oldest
	// first, without marking them as seen.
	GetMessages(ctx context.Context, filter policy.Filter, limit int) ([]Message, error)
	SetFlag(ctx context.Context, uid string, directive policy.Directive) error
	Logout() error
}
