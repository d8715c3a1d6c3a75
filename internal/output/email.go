package output

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/logger"
)

const (
	EncryptionStartTLS = "STARTTLS"
	EncryptionSSL      = "SSL"
)

const bodyTemplate = "Converted PDF of email from %s on %s with topic %s. Content below.\n\n\n\n%s"

type SMTPConfig struct {
	Server     string
	Port       string
	Username   string
	Password   string
	Encryption string
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Server, c.Port)
}

// transport is an open, authenticated SMTP session.
type transport interface {
	SendMail(from string, to []string, r io.Reader) error
	Quit() error
}

type dialFunc func(ctx context.Context, cfg SMTPConfig) (transport, error)

// Email re-sends every converted PDF as an attachment.
type Email struct {
	cfg  SMTPConfig
	from string
	to   string
	log  logger.Logger
	dial dialFunc
	now  func() time.Time

	smtp transport
}

func NewEmail(cfg SMTPConfig, from, to string, log logger.Logger) *Email {
	return &Email{
		cfg:  cfg,
		from: from,
		to:   to,
		log:  log,
		dial: dialSMTP,
		now:  time.Now,
	}
}

func (e *Email) Open(ctx context.Context) error {
	e.log.Infow("Connecting to SMTP server",
		"addr", e.cfg.addr(),
		"encryption", e.cfg.Encryption)

	t, err := e.dial(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("connecting to SMTP %s: %w", e.cfg.addr(), err)
	}
	e.smtp = t

	e.log.Info("SMTP setup successful")
	return nil
}

func (e *Email) Close() error {
	if e.smtp == nil {
		return nil
	}

	e.log.Debug("Closing SMTP server connection")
	err := e.smtp.Quit()
	e.smtp = nil
	if err != nil {
		return fmt.Errorf("closing SMTP connection: %w", err)
	}

	e.log.Info("SMTP server closed gracefully")
	return nil
}

func (e *Email) Process(_ context.Context, msg types.Message, pdfPaths []string) error {
	if e.smtp == nil {
		return &DeliveryError{Subject: msg.Subject, Err: errors.New("smtp session is not open")}
	}

	e.log.Debugw("Building output email",
		"subject", msg.Subject)

	recipients, err := mail.ParseAddressList(e.to)
	if err != nil {
		return &DeliveryError{Subject: msg.Subject, Err: fmt.Errorf("parsing destination %q: %w", e.to, err)}
	}

	var buf bytes.Buffer
	if err := e.build(&buf, msg, recipients, pdfPaths); err != nil {
		return &DeliveryError{Subject: msg.Subject, Err: err}
	}

	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		to = append(to, r.Address)
	}

	e.log.Infow("Sending PDF output",
		"subject", msg.Subject,
		"to", e.to)

	if err := e.smtp.SendMail(envelopeAddress(e.from), to, &buf); err != nil {
		return &DeliveryError{Subject: msg.Subject, Err: err}
	}

	e.log.Infow("Sent PDF output",
		"subject", msg.Subject,
		"to", e.to)

	return nil
}

func (e *Email) build(w io.Writer, msg types.Message, to []*mail.Address, pdfPaths []string) error {
	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.SetDate(e.now())
	if from, err := mail.ParseAddress(e.from); err == nil {
		h.SetAddressList("From", []*mail.Address{from})
	} else {
		h.Set("From", e.from)
	}
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(bodyTemplate, msg.From, msg.Date.Format(time.RFC1123Z), msg.Subject, msg.Text)
	if _, err := io.WriteString(tw, body); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	for _, path := range pdfPaths {
		if err := attach(mw, path); err != nil {
			return err
		}
	}

	return mw.Close()
}

func attach(mw *mail.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var ah mail.AttachmentHeader
	ah.SetContentType("application/octet-stream", nil)
	ah.Set("Content-Transfer-Encoding", "base64")
	ah.SetFilename(filepath.Base(path))

	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := io.Copy(aw, f); err != nil {
		return err
	}

	return aw.Close()
}

// envelopeAddress strips a display name, MAIL FROM takes a bare address.
func envelopeAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(from)
}

func dialSMTP(ctx context.Context, cfg SMTPConfig) (transport, error) {
	return dialSMTPWithTLS(ctx, cfg, &tls.Config{ServerName: cfg.Server})
}

func dialSMTPWithTLS(ctx context.Context, cfg SMTPConfig, tlsConfig *tls.Config) (transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, err
	}

	var c *smtp.Client
	switch strings.ToUpper(cfg.Encryption) {
	case EncryptionSSL:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("SMTP TLS handshake: %w", err)
		}
		c = smtp.NewClient(tlsConn)
	case EncryptionStartTLS:
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	default:
		c = smtp.NewClient(conn)
	}

	if cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", cfg.Username, cfg.Password)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("SMTP auth as %s: %w", cfg.Username, err)
		}
	}

	return c, nil
}
