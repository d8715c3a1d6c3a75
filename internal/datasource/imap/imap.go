package imap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"

	_imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/Philanthropists/mail2pdf/internal/datasource/mime"
	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/policy"
)

const DefaultPort = "993"

// conn is the part of *client.Client the mail client relies on.
type conn interface {
	Select(name string, readOnly bool) (*_imap.MailboxStatus, error)
	UidSearch(criteria *_imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *_imap.SeqSet, items []_imap.FetchItem, ch chan *_imap.Message) error
	UidStore(seqset *_imap.SeqSet, item _imap.StoreItem, value interface{}, ch chan *_imap.Message) error
	Logout() error
}

// Address appends the implicit TLS port when addr has none.
func Address(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultPort)
}

// GetMailClient dials over TLS, logs in and selects mailbox read-write.
func GetMailClient(addr, username, password string, mailbox types.Mailbox, log logger.Logger) (types.MailClient, error) {
	addr = Address(addr)

	log.Infow("Connecting to IMAP server",
		"addr", addr)
	emailClient, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := emailClient.Login(username, password); err != nil {
		_ = emailClient.Logout()
		return nil, fmt.Errorf("logging in to IMAP as %s: %w", username, err)
	}

	m, err := newMailClient(emailClient, mailbox, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newMailClient(c conn, mailbox types.Mailbox, log logger.Logger) (*mailClientImpl, error) {
	if mailbox == "" {
		mailbox = "INBOX"
	}

	status, err := c.Select(string(mailbox), false)
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	log.Infow("Selected mailbox",
		"mailbox", mailbox,
		"messages", status.Messages)

	return &mailClientImpl{client: c, log: log}, nil
}

type mailClientImpl struct {
	client conn
	log    logger.Logger
}

func (m *mailClientImpl) GetMessages(ctx context.Context, filter policy.Filter, limit int) ([]types.Message, error) {
	criteria, err := Criteria(filter)
	if err != nil {
		return nil, err
	}

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", filter, err)
	}

	m.log.Infow("Messages",
		"filter", filter.String(),
		"len", len(uids))

	if len(uids) == 0 {
		return nil, nil
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(_imap.SeqSet)
	seqset.AddNum(uids...)

	section := &_imap.BodySectionName{Peek: true}
	items := []_imap.FetchItem{section.FetchItem(), _imap.FetchUid}

	messages := make(chan *_imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, items, messages)
	}()

	var fetched []types.Message
	for raw := range messages {
		msg, err := completeMessage(raw)
		if err != nil {
			m.log.Warnw("Could not read fetched message, skipping",
				"uid", raw.Uid,
				"error", err)
			continue
		}
		fetched = append(fetched, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	sort.SliceStable(fetched, func(i, j int) bool {
		a, _ := strconv.ParseUint(fetched[i].UID, 10, 32)
		b, _ := strconv.ParseUint(fetched[j].UID, 10, 32)
		return a < b
	})

	return fetched, nil
}

// completeMessage reads the single body section that was requested. The
// server answers BODY[] for a BODY.PEEK[] request, so the literal is taken
// without matching on the section name.
func completeMessage(raw *_imap.Message) (types.Message, error) {
	for _, literal := range raw.Body {
		if literal == nil {
			continue
		}

		body, err := io.ReadAll(literal)
		if err != nil {
			return types.Message{}, err
		}

		return mime.Parse(strconv.FormatUint(uint64(raw.Uid), 10), body)
	}

	return types.Message{}, errors.New("no body found in msg")
}

func (m *mailClientImpl) SetFlag(_ context.Context, uid string, directive policy.Directive) error {
	id, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid IMAP uid %q: %w", uid, err)
	}

	seqset := new(_imap.SeqSet)
	seqset.AddNum(uint32(id))

	var op _imap.FlagsOp = _imap.AddFlags
	if !directive.Set {
		op = _imap.RemoveFlags
	}
	item := _imap.FormatFlagsOp(op, true)

	if err := m.client.UidStore(seqset, item, []interface{}{string(directive.Flag)}, nil); err != nil {
		return fmt.Errorf("storing %s on uid %s: %w", directive, uid, err)
	}

	return nil
}

func (m *mailClientImpl) Logout() error {
	if err := m.client.Logout(); err != nil {
		return err
	}

	return nil
}

// Criteria translates a filter into IMAP SEARCH criteria. Raw filters use
// IMAP SEARCH syntax, e.g. `UNSEEN` or `(FROM "bank@example.com" UNSEEN)`.
func Criteria(filter policy.Filter) (*_imap.SearchCriteria, error) {
	criteria := _imap.NewSearchCriteria()

	if filter.Raw != "" {
		r := _imap.NewReader(bufio.NewReader(strings.NewReader(filter.Raw + "\r\n")))
		fields, err := r.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("parsing search filter %q: %w", filter.Raw, err)
		}
		if err := criteria.ParseWithCharset(fields, nil); err != nil {
			return nil, fmt.Errorf("parsing search filter %q: %w", filter.Raw, err)
		}
		return criteria, nil
	}

	for _, f := range filter.WithFlags {
		criteria.WithFlags = append(criteria.WithFlags, string(f))
	}
	for _, f := range filter.WithoutFlags {
		criteria.WithoutFlags = append(criteria.WithoutFlags, string(f))
	}

	return criteria, nil
}
