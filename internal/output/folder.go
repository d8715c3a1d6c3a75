package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/filename"
	"github.com/Philanthropists/mail2pdf/internal/logger"
)

// Folder copies converted PDFs into a directory, named by message date and
// subject.
type Folder struct {
	dir    string
	create bool
	log    logger.Logger
}

func NewFolder(dir string, create bool, log logger.Logger) *Folder {
	return &Folder{dir: dir, create: create, log: log}
}

func (f *Folder) Open(_ context.Context) error {
	info, err := os.Stat(f.dir)
	if os.IsNotExist(err) && f.create {
		f.log.Infow("Creating output folder",
			"dir", f.dir)
		return os.MkdirAll(f.dir, 0o755)
	}
	if err != nil {
		return fmt.Errorf("checking output folder %s: %w", f.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output folder %s is not a directory", f.dir)
	}

	return nil
}

func (f *Folder) Close() error {
	return nil
}

func (f *Folder) Process(_ context.Context, msg types.Message, pdfPaths []string) error {
	f.log.Debugw("Copying output to output folder",
		"subject", msg.Subject)

	base := filename.FolderBaseName(msg.Date, msg.Subject)

	for i, src := range pdfPaths {
		name := base + filename.Extension
		if len(pdfPaths) > 1 {
			name = fmt.Sprintf("%s_%d%s", base, i, filename.Extension)
		}

		if err := f.copy(src, filepath.Join(f.dir, name)); err != nil {
			return &DeliveryError{Subject: msg.Subject, Err: err}
		}
	}

	f.log.Infow("Finished copying output to output folder",
		"subject", msg.Subject)

	return nil
}

func (f *Folder) copy(src, dst string) error {
	f.log.Debugw("Copying file",
		"source", src,
		"destination", dst)

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	return nil
}
