// Package pdf renders message markup to PDF files through wkhtmltopdf.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

const DefaultBinary = "wkhtmltopdf"

// Options are passed to the renderer as long flags, e.g. {"page-size": "A4"}
// becomes "--page-size A4".
type Options map[string]interface{}

func ParseOptions(raw string) (Options, error) {
	if strings.TrimSpace(raw) == "" {
		return Options{}, nil
	}

	var opts Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("parsing renderer options: %w", err)
	}
	if opts == nil {
		opts = Options{}
	}

	return opts, nil
}

// Args renders the options as command line flags in a stable order.
func (o Options) Args() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		flag := "--" + strings.TrimLeft(k, "-")
		switch v := o[k].(type) {
		case nil:
			args = append(args, flag)
		case bool:
			if v {
				args = append(args, flag)
			}
		case string:
			args = append(args, flag)
			if v != "" {
				args = append(args, v)
			}
		case float64:
			args = append(args, flag, formatNumber(v))
		default:
			args = append(args, flag, fmt.Sprint(v))
		}
	}

	return args
}

func (o Options) has(key string) bool {
	for k := range o {
		if strings.TrimLeft(k, "-") == key {
			return true
		}
	}
	return false
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

type Converter interface {
	Convert(ctx context.Context, markup, outputPath string, options Options) error
}

// Error is returned when the renderer fails. Cause holds what the renderer
// reported, which is what the content error policy matches against.
type Error struct {
	Cause string
	Err   error
}

func (e *Error) Error() string {
	if e.Cause == "" {
		return fmt.Sprintf("pdf conversion failed: %v", e.Err)
	}
	return fmt.Sprintf("pdf conversion failed: %v: %s", e.Err, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewWkhtmltopdf(binary string) Converter {
	if binary == "" {
		binary = DefaultBinary
	}
	return &wkhtmltopdfImpl{binary: binary}
}

type wkhtmltopdfImpl struct {
	binary string
}

func (w *wkhtmltopdfImpl) Convert(ctx context.Context, markup, outputPath string, options Options) error {
	var args []string
	if !options.has("quiet") {
		args = append(args, "--quiet")
	}
	args = append(args, options.Args()...)
	args = append(args, "-", outputPath)

	cmd := exec.CommandContext(ctx, w.binary, args...)
	cmd.Stdin = strings.NewReader(markup)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &Error{Cause: strings.TrimSpace(stderr.String()), Err: err}
	}

	return nil
}

// DefaultContentErrors are renderer failures caused by embedded resources
// (typically remote images) that could not be loaded.
var DefaultContentErrors = []string{
	"ContentNotFoundError",
	"ContentOperationNotPermittedError",
	"UnknownContentError",
	"RemoteHostClosedError",
	"ConnectionRefusedError",
	"Server refused a stream",
}

type ContentErrors []string

func ParseContentErrors(raw string) ContentErrors {
	if strings.TrimSpace(raw) == "" {
		return append(ContentErrors(nil), DefaultContentErrors...)
	}

	var causes ContentErrors
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			causes = append(causes, c)
		}
	}

	return causes
}

// Matches reports whether err is a content error. Only renderer errors
// qualify, so a failure to start the renderer is never recoverable.
func (c ContentErrors) Matches(err error) bool {
	var pdfErr *Error
	if !errors.As(err, &pdfErr) {
		return false
	}

	text := pdfErr.Error()
	for _, cause := range c {
		if strings.Contains(text, cause) {
			return true
		}
	}

	return false
}
