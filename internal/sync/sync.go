package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Philanthropists/mail2pdf/internal/config"
	"github.com/Philanthropists/mail2pdf/internal/datasource/gmail"
	"github.com/Philanthropists/mail2pdf/internal/datasource/imap"
	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/output"
	"github.com/Philanthropists/mail2pdf/internal/pdf"
	"github.com/Philanthropists/mail2pdf/internal/policy"
)

// collaborators builds everything Run talks to.
type collaborators struct {
	mailClient func(ctx context.Context, cfg *config.Config, log logger.Logger) (types.MailClient, error)
	sink       func(cfg *config.Config, log logger.Logger) (output.Sink, error)
	converter  func(cfg *config.Config) pdf.Converter
	reporters  func(ctx context.Context, cfg *config.Config, log logger.Logger) []Reporter
	now        func() time.Time
}

var defaultCollaborators = collaborators{
	mailClient: newMailClient,
	sink:       newSink,
	converter: func(cfg *config.Config) pdf.Converter {
		return pdf.NewWkhtmltopdf(cfg.PDFBinary)
	},
	reporters: newReporters,
	now:       time.Now,
}

// Run executes one mail processing pass.
func Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	return run(ctx, cfg, log, defaultCollaborators)
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, c collaborators) (err error) {
	if cfg.PrintFailedMessage {
		log.Warn("On failure, the Body of the email will be printed")
	}

	directive := policy.ResolveFlag(cfg.MessageFlag, log)
	filter, err := policy.ResolveFilter(cfg.Filter, directive)
	if err != nil {
		return err
	}

	workDir, cleanup, err := prepareWorkDir(cfg.WorkDir)
	if err != nil {
		return err
	}
	defer cleanup()

	sink, err := c.sink(cfg, log)
	if err != nil {
		return err
	}
	if err := sink.Open(ctx); err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			log.Errorw("Could not close output",
				"error", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}()

	mailClient, err := c.mailClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if logoutErr := mailClient.Logout(); logoutErr != nil {
			log.Warnw("Could not log out from mailbox",
				"error", logoutErr)
		}
	}()

	started := c.now()

	msgs, err := mailClient.GetMessages(ctx, filter, cfg.Limit)
	if err != nil {
		return fmt.Errorf("getting messages: %w", err)
	}

	p := &Processor{
		Converter:     c.converter(cfg),
		Options:       cfg.PDFOptions,
		ContentErrors: cfg.ContentErrors,
		Sink:          sink,
		Mail:          mailClient,
		Directive:     directive,
		Mark:          cfg.MarkMessages,
		Threshold:     cfg.FailedThreshold,
		PrintFailed:   cfg.PrintFailedMessage,
		WorkDir:       workDir,
		Log:           log,
	}

	outcome, procErr := p.Process(ctx, msgs)
	outcome.Started, outcome.Finished = started, c.now()

	var abort *AbortError
	switch {
	case errors.As(procErr, &abort):
		// logged by the processor
	case outcome.Failed > 0 || procErr != nil:
		log.Warnw("Completed mail processing run with one or more errors",
			"processed", outcome.Processed,
			"failed", outcome.Failed,
			"skipped", outcome.Skipped)
	default:
		log.Infow("Completed mail processing run",
			"processed", outcome.Processed,
			"skipped", outcome.Skipped)
	}

	for _, r := range c.reporters(ctx, cfg, log) {
		if reportErr := r.Report(ctx, outcome); reportErr != nil {
			log.Errorw("Could not report run outcome",
				"error", reportErr)
		}
	}

	return procErr
}

func prepareWorkDir(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("creating work dir %s: %w", dir, err)
		}
		return dir, func() {}, nil
	}

	tmp, err := os.MkdirTemp("", "mail2pdf-")
	if err != nil {
		return "", nil, fmt.Errorf("creating work dir: %w", err)
	}
	return tmp, func() { _ = os.RemoveAll(tmp) }, nil
}

func newMailClient(ctx context.Context, cfg *config.Config, log logger.Logger) (types.MailClient, error) {
	mailbox := types.Mailbox(cfg.Folder)

	switch cfg.MailboxType {
	case config.MailboxGmail:
		return gmail.GetMailClient(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, mailbox, log)
	default:
		return imap.GetMailClient(cfg.IMAP.URL, cfg.IMAP.Username, cfg.IMAP.Password, mailbox, log)
	}
}

func newSink(cfg *config.Config, log logger.Logger) (output.Sink, error) {
	switch cfg.OutputType {
	case output.TypeMailto:
		return output.NewEmail(cfg.SMTP, cfg.Sender, cfg.Destination, log), nil
	case output.TypeFolder:
		return output.NewFolder(cfg.OutputFolder, cfg.OutputFolderCreate, log), nil
	default:
		return nil, &config.Error{Key: "OUTPUT_TYPE", Reason: fmt.Sprintf("unknown output type %q", cfg.OutputType)}
	}
}
