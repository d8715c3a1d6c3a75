package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/filename"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/output"
	"github.com/Philanthropists/mail2pdf/internal/pdf"
	"github.com/Philanthropists/mail2pdf/internal/policy"
)

const htmlCharsetMeta = `<meta http-equiv="Content-type" content="text/html; charset=utf-8"/>`

var (
	ErrRender           = errors.New("rendering pdf")
	ErrThresholdReached = errors.New("failed messages threshold reached")
)

// Outcome counts what happened to the messages of one run.
type Outcome struct {
	Processed int
	Failed    int
	Skipped   int
	Aborted   bool

	Started  time.Time
	Finished time.Time
}

// AbortError is returned when a run stops early because too many messages
// failed.
type AbortError struct {
	Outcome Outcome
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s after %d failed messages, processing halted", ErrThresholdReached, e.Outcome.Failed)
}

func (e *AbortError) Unwrap() error {
	return ErrThresholdReached
}

// Processor converts messages one at a time and hands the result to the
// sink. It stops once Threshold messages have failed.
type Processor struct {
	Converter     pdf.Converter
	Options       pdf.Options
	ContentErrors pdf.ContentErrors
	Sink          output.Sink
	Mail          types.MailClient

	Directive   policy.Directive
	Mark        bool
	Threshold   int
	PrintFailed bool
	WorkDir     string

	Log logger.Logger
}

func (p *Processor) Process(ctx context.Context, msgs []types.Message) (Outcome, error) {
	var outcome Outcome

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		if len(msg.Attachments) != 0 {
			p.Log.Warnw("Attachments found, messages with attachments cannot be converted to PDF. Skipping",
				"subject", msg.Subject,
				"attachments", len(msg.Attachments))
			outcome.Skipped++
			continue
		}

		markup := body(msg)
		if err := p.processMessage(ctx, msg, markup); err != nil {
			fields := []interface{}{
				"subject", msg.Subject,
				"uid", msg.UID,
				"error", err,
			}
			if p.PrintFailed {
				fields = append(fields, "body", markup)
			}
			p.Log.Errorw("Error processing message", fields...)

			outcome.Failed++
			if outcome.Failed >= p.Threshold {
				outcome.Aborted = true
				p.Log.Errorw("The number of errors has reached the failed messages threshold. Processing will be halted. Please resolve issues before resuming",
					"failed", outcome.Failed,
					"threshold", p.Threshold)
				return outcome, &AbortError{Outcome: outcome}
			}

			p.Log.Info("Continuing with next message")
			continue
		}

		outcome.Processed++
	}

	return outcome, nil
}

func body(msg types.Message) string {
	if strings.TrimSpace(msg.HTML) != "" {
		return htmlCharsetMeta + msg.HTML
	}
	return msg.Text
}

func (p *Processor) processMessage(ctx context.Context, msg types.Message, markup string) error {
	path := filepath.Join(p.WorkDir, filename.PDFName(msg.Subject))
	defer p.remove(path)

	p.Log.Infow("Exporting message to PDF",
		"subject", msg.Subject,
		"file", filepath.Base(path))

	if err := p.Converter.Convert(ctx, markup, path, p.Options); err != nil {
		if !p.ContentErrors.Matches(err) || !exists(path) {
			return fmt.Errorf("%w: %w", ErrRender, err)
		}

		fields := []interface{}{
			"subject", msg.Subject,
			"cause", err,
		}
		if p.PrintFailed {
			fields = append(fields, "body", markup)
		}
		p.Log.Warnw("**** HANDLED EXCEPTION **** One or more remote resources failed to load, continuing without them.", fields...)
	}

	if err := p.Sink.Process(ctx, msg, []string{path}); err != nil {
		return err
	}

	if p.Mark {
		p.Log.Infow("Marking processed message",
			"uid", msg.UID,
			"directive", p.Directive.String())
		if err := p.Mail.SetFlag(ctx, msg.UID, p.Directive); err != nil {
			return fmt.Errorf("marking message %s: %w", msg.UID, err)
		}
	}

	p.Log.Infow("Finished processing of message",
		"subject", msg.Subject)

	return nil
}

func (p *Processor) remove(path string) {
	p.Log.Debugw("Deleting processed PDF",
		"file", path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.Log.Warnw("Could not delete processed PDF",
			"file", path,
			"error", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
