package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/pdf"
	"github.com/Philanthropists/mail2pdf/internal/policy"
)

type conversion struct {
	markup string
	path   string
}

// fakeConverter writes a small file unless render says otherwise. render
// may write the file itself and return an error.
type fakeConverter struct {
	calls  []conversion
	render func(markup, path string) error
}

func (f *fakeConverter) Convert(_ context.Context, markup, path string, _ pdf.Options) error {
	f.calls = append(f.calls, conversion{markup: markup, path: path})
	if f.render != nil {
		return f.render(markup, path)
	}
	return writeFile(path)
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("%PDF-1.4"), 0o644)
}

type delivery struct {
	uid      string
	names    []string
	hadFiles bool
}

type fakeSink struct {
	opens, closes int
	delivered     []delivery
	err           error
	openErr       error
}

func (f *fakeSink) Open(context.Context) error {
	f.opens++
	return f.openErr
}

func (f *fakeSink) Process(_ context.Context, msg types.Message, paths []string) error {
	d := delivery{uid: msg.UID, hadFiles: true}
	for _, p := range paths {
		d.names = append(d.names, filepath.Base(p))
		if _, err := os.Stat(p); err != nil {
			d.hadFiles = false
		}
	}
	f.delivered = append(f.delivered, d)
	return f.err
}

func (f *fakeSink) Close() error {
	f.closes++
	return nil
}

type flagCall struct {
	uid       string
	directive policy.Directive
}

type fakeMail struct {
	messages []types.Message
	filter   policy.Filter
	limit    int
	flags    []flagCall
	flagErr  error
	logouts  int
}

func (f *fakeMail) GetMessages(_ context.Context, filter policy.Filter, limit int) ([]types.Message, error) {
	f.filter, f.limit = filter, limit
	msgs := f.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeMail) SetFlag(_ context.Context, uid string, d policy.Directive) error {
	if f.flagErr != nil {
		return f.flagErr
	}
	f.flags = append(f.flags, flagCall{uid: uid, directive: d})
	return nil
}

func (f *fakeMail) Logout() error {
	f.logouts++
	return nil
}

var errRenderer = errors.New("exit status 1")

func failingRender(cause string, writeOutput bool) func(string, string) error {
	return func(_, path string) error {
		if writeOutput {
			if err := writeFile(path); err != nil {
				return err
			}
		}
		return &pdf.Error{Cause: cause, Err: errRenderer}
	}
}
