// Package mime parses raw RFC 5322 messages into datasource messages.
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
)

// Parse reads the headers and walks every part of the message. Unreadable
// parts are skipped rather than failing the whole message.
func Parse(uid string, raw []byte) (types.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return types.Message{}, fmt.Errorf("reading message %s: %w", uid, err)
	}
	defer mr.Close()

	msg := types.Message{UID: uid}
	fillHeader(&msg, mr.Header)

	var text, html []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(text) == 0 && len(html) == 0 {
				return msg, fmt.Errorf("reading parts of message %s: %w", uid, err)
			}
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if name, embedded := inlineAttachment(h, contentType); embedded {
				size, _ := io.Copy(io.Discard, p.Body)
				msg.Attachments = append(msg.Attachments, types.Attachment{
					Filename: name,
					MIMEType: contentType,
					Size:     size,
				})
				continue
			}

			body, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/html"):
				html = append(html, string(body))
			default:
				text = append(text, string(body))
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, p.Body)

			msg.Attachments = append(msg.Attachments, types.Attachment{
				Filename: filename,
				MIMEType: contentType,
				Size:     size,
			})
		}
	}

	msg.Text = strings.Join(text, "\n")
	msg.HTML = strings.Join(html, "\n")

	return msg, nil
}

// inlineAttachment reports whether an inline part is embedded content, such
// as a cid: image of a multipart/related message, rather than body text.
func inlineAttachment(h *mail.InlineHeader, contentType string) (string, bool) {
	_, params, _ := h.ContentDisposition()
	name := params["filename"]
	if name == "" {
		_, ctParams, _ := h.ContentType()
		name = ctParams["name"]
	}

	text := contentType == "" || contentType == "text/plain" || contentType == "text/html"
	return name, !text || name != "" || h.Get("Content-Id") != ""
}

func fillHeader(msg *types.Message, h mail.Header) {
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	} else {
		msg.From = h.Get("From")
	}

	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
}
