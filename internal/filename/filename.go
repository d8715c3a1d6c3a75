// Package filename turns arbitrary message subjects into compact,
// filesystem-safe base names.
package filename

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxLength = 50

	// Extension is appended after truncation.
	Extension = ".pdf"

	timestampLayout = "20060102150405"
	fallback        = "untitled"
)

// BadChars are not valid on at least one common filesystem.
var BadChars = []string{"/", "*", ":", "<", ">", "|", `"`, "’", "–"}

var unpleasant = strings.NewReplacer(".", "_", " ", "-")

var bad = func() *strings.Replacer {
	pairs := make([]string, 0, len(BadChars)*2)
	for _, c := range BadChars {
		pairs = append(pairs, c, "_")
	}
	return strings.NewReplacer(pairs...)
}()

// Sanitize never fails and never returns an empty string.
func Sanitize(text string) string {
	s := norm.NFC.String(text)
	s = unpleasant.Replace(s)
	s = bad.Replace(s)
	s = truncate(s, MaxLength)
	if s == "" {
		return fallback
	}

	return s
}

// PDFName is the artifact name used while a message is being converted.
func PDFName(subject string) string {
	return Sanitize(subject) + Extension
}

// FolderBaseName prefixes the subject with the message timestamp so equal
// subjects do not collide and outputs sort chronologically.
func FolderBaseName(date time.Time, subject string) string {
	return Sanitize(date.Format(timestampLayout) + "_" + subject)
}

func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}

	return s
}
