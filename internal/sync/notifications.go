package sync

import (
	"context"
	"fmt"

	"github.com/Philanthropists/mail2pdf/internal/config"
	"github.com/Philanthropists/mail2pdf/internal/dynamodb"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/twilio"
)

// Reporter publishes the outcome of a run. Errors are only logged.
type Reporter interface {
	Report(ctx context.Context, outcome Outcome) error
}

func newReporters(ctx context.Context, cfg *config.Config, log logger.Logger) []Reporter {
	var reporters []Reporter

	if cfg.ReportTable != "" {
		client, err := dynamodb.NewClient(ctx, cfg.AWSRegion)
		if err != nil {
			log.Errorw("could not instantiate dynamodb client",
				"error", err)
		} else {
			reporters = append(reporters, &DynamoReporter{Client: client, Table: cfg.ReportTable})
		}
	}

	if cfg.Twilio.Enabled() {
		client, err := twilio.NewClient(cfg.Twilio.AccountSid, cfg.Twilio.AuthToken)
		if err != nil {
			log.Errorw("could not instantiate twilio client",
				"error", err)
		} else {
			reporters = append(reporters, &SMSReporter{
				Client: client,
				From:   cfg.Twilio.FromNumber,
				To:     cfg.Twilio.ToNumber,
				Log:    log,
			})
		}
	}

	return reporters
}

// SMSReporter texts a one line summary when something was converted or
// failed.
type SMSReporter struct {
	Client twilio.Client
	From   string
	To     string
	Log    logger.Logger
}

func (s *SMSReporter) Report(_ context.Context, outcome Outcome) error {
	if outcome.Processed == 0 && outcome.Failed == 0 {
		return nil
	}

	sid, err := s.Client.SendSms(s.From, s.To, SummaryText(outcome))
	if err != nil {
		return fmt.Errorf("sending notification sms: %w", err)
	}

	s.Log.Debugw("Sent notification sms",
		"sid", sid)
	return nil
}

func SummaryText(outcome Outcome) string {
	msg := fmt.Sprintf("mail2pdf: %d converted, %d failed", outcome.Processed, outcome.Failed)
	if outcome.Aborted {
		msg += ", run aborted"
	}
	return msg
}
