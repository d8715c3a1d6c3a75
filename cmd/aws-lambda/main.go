package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Philanthropists/mail2pdf/internal/cli"
	"github.com/Philanthropists/mail2pdf/internal/config"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/sync"
)

const envFileVar = "MAIL2PDF_ENV_FILE"

var GitCommit string

// HandleRequest runs one processing pass per scheduled invocation.
func HandleRequest(ctx context.Context) error {
	cli.SetVersionInfo("", GitCommit)

	cfg, err := config.Load(os.Getenv(envFileVar))
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	log.Infow("Starting mail processing run",
		"version", cli.Version())

	return sync.Run(ctx, cfg, log)
}

func main() {
	lambda.Start(HandleRequest)
}
