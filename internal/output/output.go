// Package output delivers converted PDFs to their destination.
package output

import (
	"context"
	"fmt"

	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
)

const (
	TypeMailto = "mailto"
	TypeFolder = "folder"
)

// Sink is opened once per run and closed on every exit path of the run.
type Sink interface {
	Open(ctx context.Context) error
	Process(ctx context.Context, msg types.Message, pdfPaths []string) error
	Close() error
}

// DeliveryError is returned by a sink that could not hand off a PDF.
type DeliveryError struct {
	Subject string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering output for %q: %v", e.Subject, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
