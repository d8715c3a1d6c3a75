package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Philanthropists/mail2pdf/internal/datasource/mime"
	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/policy"
)

const user = "me"

const (
	labelUnread  = "UNREAD"
	labelStarred = "STARRED"
	labelTrash   = "TRASH"
)

// ErrUnsupportedFlag is returned for flags Gmail has no label for.
var ErrUnsupportedFlag = errors.New("flag not supported by gmail")

// api is the subset of the Gmail service used here.
type api interface {
	List(ctx context.Context, query string, labels []string, pageToken string) (*gmail.ListMessagesResponse, error)
	GetRaw(ctx context.Context, id string) (*gmail.Message, error)
	Modify(ctx context.Context, id string, req *gmail.ModifyMessageRequest) error
}

// GetMailClient authenticates with a stored OAuth token. The token has to be
// created beforehand with Authorize, a batch run cannot complete the browser
// flow.
func GetMailClient(ctx context.Context, credentialsFile, tokenFile string, mailbox types.Mailbox, log logger.Logger) (types.MailClient, error) {
	config, err := loadConfig(credentialsFile)
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading gmail token %s (create it with gmail-auth): %w", tokenFile, err)
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return newMailClient(&serviceAPI{srv: srv}, mailbox, log), nil
}

func newMailClient(a api, mailbox types.Mailbox, log logger.Logger) *mailClientImpl {
	label := strings.ToUpper(string(mailbox))
	if label == "" {
		label = "INBOX"
	}

	return &mailClientImpl{api: a, label: label, log: log}
}

type mailClientImpl struct {
	api   api
	label string
	log   logger.Logger
}

func (m *mailClientImpl) GetMessages(ctx context.Context, filter policy.Filter, limit int) ([]types.Message, error) {
	query, err := Query(filter)
	if err != nil {
		return nil, err
	}

	var ids []string
	var pageToken string
	for {
		res, err := m.api.List(ctx, query, []string{m.label}, pageToken)
		if err != nil {
			return nil, fmt.Errorf("listing gmail messages %q: %w", query, err)
		}

		for _, msg := range res.Messages {
			ids = append(ids, msg.Id)
		}

		pageToken = res.NextPageToken
		if pageToken == "" {
			break
		}
	}

	m.log.Infow("Messages",
		"filter", query,
		"len", len(ids))

	// Gmail lists newest first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	var messages []types.Message
	for _, id := range ids {
		raw, err := m.api.GetRaw(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("getting gmail message %s: %w", id, err)
		}

		body, err := base64.URLEncoding.DecodeString(raw.Raw)
		if err != nil {
			body, err = base64.RawURLEncoding.DecodeString(raw.Raw)
		}
		if err != nil {
			m.log.Warnw("Could not decode gmail message, skipping",
				"id", id,
				"error", err)
			continue
		}

		msg, err := mime.Parse(id, body)
		if err != nil {
			m.log.Warnw("Could not read gmail message, skipping",
				"id", id,
				"error", err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func (m *mailClientImpl) SetFlag(ctx context.Context, uid string, directive policy.Directive) error {
	req, err := modifyRequest(directive)
	if err != nil {
		return err
	}

	if err := m.api.Modify(ctx, uid, req); err != nil {
		return fmt.Errorf("storing %s on gmail message %s: %w", directive, uid, err)
	}

	return nil
}

func (m *mailClientImpl) Logout() error {
	return nil
}

func modifyRequest(d policy.Directive) (*gmail.ModifyMessageRequest, error) {
	var label string
	// \Seen is the absence of UNREAD.
	set := d.Set
	switch d.Flag {
	case policy.Seen:
		label, set = labelUnread, !d.Set
	case policy.Flagged:
		label = labelStarred
	case policy.Deleted:
		label = labelTrash
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFlag, d.Flag)
	}

	req := &gmail.ModifyMessageRequest{}
	if set {
		req.AddLabelIds = []string{label}
	} else {
		req.RemoveLabelIds = []string{label}
	}

	return req, nil
}

// Query translates a filter into Gmail search syntax. Raw filters are
// already Gmail queries.
func Query(filter policy.Filter) (string, error) {
	if filter.Raw != "" {
		return filter.Raw, nil
	}

	var terms []string
	add := func(f policy.Flag, with bool) error {
		var term string
		switch f {
		case policy.Seen:
			term = "is:read"
		case policy.Flagged:
			term = "is:starred"
		case policy.Deleted:
			term = "in:trash"
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedFlag, f)
		}
		if !with {
			term = "-" + term
			if f == policy.Seen {
				term = "is:unread"
			}
		}
		terms = append(terms, term)
		return nil
	}

	for _, f := range filter.WithFlags {
		if err := add(f, true); err != nil {
			return "", err
		}
	}
	for _, f := range filter.WithoutFlags {
		if err := add(f, false); err != nil {
			return "", err
		}
	}

	return strings.Join(terms, " "), nil
}

type serviceAPI struct {
	srv *gmail.Service
}

func (s *serviceAPI) List(ctx context.Context, query string, labels []string, pageToken string) (*gmail.ListMessagesResponse, error) {
	call := s.srv.Users.Messages.List(user).Q(query).LabelIds(labels...).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (s *serviceAPI) GetRaw(ctx context.Context, id string) (*gmail.Message, error) {
	return s.srv.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
}

func (s *serviceAPI) Modify(ctx context.Context, id string, req *gmail.ModifyMessageRequest) error {
	_, err := s.srv.Users.Messages.Modify(user, id, req).Context(ctx).Do()
	return err
}
