package sync

import (
	"context"
	"time"

	"github.com/Philanthropists/mail2pdf/internal/dynamodb"
)

// DynamoReporter stores one item per run, keyed by its start time.
type DynamoReporter struct {
	Client dynamodb.Client
	Table  string
}

func (d *DynamoReporter) Report(ctx context.Context, outcome Outcome) error {
	item := map[string]dynamodb.AttributeValue{
		"Id":         dynamodb.String(outcome.Started.UTC().Format(time.RFC3339Nano)),
		"StartedAt":  dynamodb.String(outcome.Started.UTC().Format(time.RFC3339)),
		"FinishedAt": dynamodb.String(outcome.Finished.UTC().Format(time.RFC3339)),
		"Processed":  dynamodb.Number(outcome.Processed),
		"Failed":     dynamodb.Number(outcome.Failed),
		"Skipped":    dynamodb.Number(outcome.Skipped),
		"Aborted":    dynamodb.Bool(outcome.Aborted),
	}

	return d.Client.PutItem(ctx, d.Table, item)
}
