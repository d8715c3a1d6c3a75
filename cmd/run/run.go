package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Philanthropists/mail2pdf/internal/cli"
)

// Set by ldflags at build time.
var (
	Version   string
	GitCommit string
)

func main() {
	cli.SetVersionInfo(Version, GitCommit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
