package sync

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Philanthropists/mail2pdf/internal/datasource/mime"
	"github.com/Philanthropists/mail2pdf/internal/datasource/types"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/output"
	"github.com/Philanthropists/mail2pdf/internal/pdf"
	"github.com/Philanthropists/mail2pdf/internal/policy"
)

type fixture struct {
	converter *fakeConverter
	sink      *fakeSink
	mail      *fakeMail
	logs      *observer.ObservedLogs
	processor *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		converter: &fakeConverter{},
		sink:      &fakeSink{},
		mail:      &fakeMail{},
		logs:      logs,
	}
	f.processor = &Processor{
		Converter:     f.converter,
		ContentErrors: pdf.ParseContentErrors(""),
		Sink:          f.sink,
		Mail:          f.mail,
		Directive:     policy.DefaultDirective,
		Mark:          true,
		Threshold:     3,
		WorkDir:       t.TempDir(),
		Log:           logger.Wrap(zap.New(core)),
	}
	return f
}

func message(uid, subject string) types.Message {
	return types.Message{UID: uid, Subject: subject, From: "a@example.com", Text: "text of " + subject}
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("work dir should be empty, found %d entries (first %s)", len(entries), entries[0].Name())
	}
}

func TestProcess_ConvertsDeliversFlagsAndCleansUp(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.processor.Process(context.Background(), []types.Message{message("7", "Q3 Report: Final/Draft")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if outcome.Processed != 1 || outcome.Failed != 0 || outcome.Aborted {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(f.sink.delivered) != 1 {
		t.Fatalf("delivered %d, want 1", len(f.sink.delivered))
	}
	d := f.sink.delivered[0]
	if len(d.names) != 1 || d.names[0] != "Q3-Report_-Final_Draft.pdf" || !d.hadFiles {
		t.Errorf("delivery = %+v", d)
	}
	if len(f.mail.flags) != 1 || f.mail.flags[0] != (flagCall{uid: "7", directive: policy.DefaultDirective}) {
		t.Errorf("flags = %+v", f.mail.flags)
	}
	assertWorkDirEmpty(t, f.processor.WorkDir)
}

func TestProcess_BodySelection(t *testing.T) {
	tests := []struct {
		name string
		msg  types.Message
		want string
	}{
		{
			name: "html wins",
			msg:  types.Message{UID: "1", Subject: "s", HTML: "<p>hi</p>", Text: "hi"},
			want: `<meta http-equiv="Content-type" content="text/html; charset=utf-8"/><p>hi</p>`,
		},
		{
			name: "blank html falls back to text",
			msg:  types.Message{UID: "1", Subject: "s", HTML: " \n\t", Text: "plain"},
			want: "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.processor.Process(context.Background(), []types.Message{tt.msg}); err != nil {
				t.Fatal(err)
			}
			if len(f.converter.calls) != 1 || f.converter.calls[0].markup != tt.want {
				t.Errorf("markup = %+v, want %q", f.converter.calls, tt.want)
			}
		})
	}
}

func TestProcess_SkipsMessagesWithAttachments(t *testing.T) {
	f := newFixture(t)
	withAttachment := message("1", "invoice")
	withAttachment.Attachments = []types.Attachment{{Filename: "invoice.pdf", MIMEType: "application/pdf"}}

	outcome, err := f.processor.Process(context.Background(), []types.Message{withAttachment, message("2", "plain")})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Skipped != 1 || outcome.Processed != 1 || outcome.Failed != 0 {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(f.converter.calls) != 1 {
		t.Errorf("converter called %d times, want 1", len(f.converter.calls))
	}
	if len(f.mail.flags) != 1 || f.mail.flags[0].uid != "2" {
		t.Errorf("only the converted message should be flagged: %+v", f.mail.flags)
	}
	if f.logs.FilterMessageSnippet("Attachments found").Len() != 1 {
		t.Error("expected a warning for the skipped message")
	}
}

func TestProcess_RecoverableRenderErrorWithFile(t *testing.T) {
	f := newFixture(t)
	f.converter.render = failingRender("Warning: Failed to load http://cdn/x.png (ignore) ContentNotFoundError", true)

	outcome, err := f.processor.Process(context.Background(), []types.Message{message("3", "newsletter")})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Processed != 1 || outcome.Failed != 0 {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(f.sink.delivered) != 1 || len(f.mail.flags) != 1 {
		t.Errorf("expected delivery and flag, got %+v %+v", f.sink.delivered, f.mail.flags)
	}
	handled := f.logs.FilterMessageSnippet("HANDLED EXCEPTION")
	if handled.Len() != 1 || handled.All()[0].Level != zapcore.WarnLevel {
		t.Errorf("expected one handled exception warning, got %d", handled.Len())
	}
	assertWorkDirEmpty(t, f.processor.WorkDir)
}

func TestProcess_RenderErrors(t *testing.T) {
	tests := []struct {
		name   string
		render func(string, string) error
	}{
		{"content error without file", failingRender("ContentNotFoundError", false)},
		{"other error with file", failingRender("segmentation fault", true)},
		{"converter did not start", func(string, string) error { return errors.New("exec: not found") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.converter.render = tt.render

			outcome, err := f.processor.Process(context.Background(), []types.Message{message("4", "broken")})
			if err != nil {
				t.Fatal(err)
			}

			if outcome.Failed != 1 || outcome.Processed != 0 {
				t.Errorf("outcome = %+v", outcome)
			}
			if len(f.sink.delivered) != 0 || len(f.mail.flags) != 0 {
				t.Error("failed message must not be delivered or flagged")
			}

			failures := f.logs.FilterMessage("Error processing message").All()
			if len(failures) != 1 {
				t.Fatalf("expected one failure log, got %d", len(failures))
			}
			logged, _ := failures[0].ContextMap()["error"].(string)
			if !strings.Contains(logged, ErrRender.Error()) {
				t.Errorf("logged error %q should be a render error", logged)
			}
			assertWorkDirEmpty(t, f.processor.WorkDir)
		})
	}
}

func TestProcess_SinkFailureCleansUpAndLeavesMessageUnflagged(t *testing.T) {
	f := newFixture(t)
	f.sink.err = &output.DeliveryError{Subject: "report", Err: errors.New("554 rejected")}

	outcome, err := f.processor.Process(context.Background(), []types.Message{message("5", "report")})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Failed != 1 || outcome.Processed != 0 {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(f.mail.flags) != 0 {
		t.Errorf("message must stay unflagged: %+v", f.mail.flags)
	}
	assertWorkDirEmpty(t, f.processor.WorkDir)
}

func TestProcess_FlagFailureCountsAndCleansUp(t *testing.T) {
	f := newFixture(t)
	f.mail.flagErr = errors.New("NO [READ-ONLY]")

	outcome, err := f.processor.Process(context.Background(), []types.Message{message("6", "report")})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Failed != 1 || len(f.sink.delivered) != 1 {
		t.Errorf("outcome = %+v delivered = %d", outcome, len(f.sink.delivered))
	}
	assertWorkDirEmpty(t, f.processor.WorkDir)
}

func TestProcess_MarkingDisabled(t *testing.T) {
	f := newFixture(t)
	f.processor.Mark = false

	outcome, err := f.processor.Process(context.Background(), []types.Message{message("1", "a")})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Processed != 1 || len(f.mail.flags) != 0 {
		t.Errorf("outcome = %+v flags = %+v", outcome, f.mail.flags)
	}
}

func TestProcess_UnflaggedDirectiveRemovesFlag(t *testing.T) {
	f := newFixture(t)
	f.processor.Directive = policy.ResolveFlag("UNFLAGGED", f.processor.Log)

	if _, err := f.processor.Process(context.Background(), []types.Message{message("8", "a")}); err != nil {
		t.Fatal(err)
	}

	want := policy.Directive{Flag: policy.Flagged, Set: false}
	if len(f.mail.flags) != 1 || f.mail.flags[0].directive != want {
		t.Errorf("flags = %+v, want %v", f.mail.flags, want)
	}
}

func TestProcess_ThresholdAbortsOnThirdFailure(t *testing.T) {
	f := newFixture(t)
	f.converter.render = failingRender("segmentation fault", false)

	msgs := []types.Message{message("1", "a"), message("2", "b"), message("3", "c"), message("4", "d")}
	outcome, err := f.processor.Process(context.Background(), msgs)

	var abort *AbortError
	if !errors.As(err, &abort) || !errors.Is(err, ErrThresholdReached) {
		t.Fatalf("expected threshold abort, got %v", err)
	}
	if !outcome.Aborted || outcome.Failed != 3 || abort.Outcome.Failed != 3 {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(f.converter.calls) != 3 {
		t.Errorf("converter called %d times, the fourth message must not be attempted", len(f.converter.calls))
	}
}

func TestProcess_FailuresBelowThresholdContinue(t *testing.T) {
	f := newFixture(t)
	f.converter.render = func(markup, path string) error {
		if strings.Contains(markup, "bad") {
			return &pdf.Error{Cause: "segmentation fault", Err: errRenderer}
		}
		return writeFile(path)
	}

	msgs := []types.Message{message("1", "bad one"), message("2", "good"), message("3", "bad two"), message("4", "fine")}
	outcome, err := f.processor.Process(context.Background(), msgs)
	if err != nil {
		t.Fatalf("two failures with threshold 3 must not abort: %v", err)
	}

	if outcome.Failed != 2 || outcome.Processed != 2 || outcome.Aborted {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestProcess_PrintFailedIncludesBody(t *testing.T) {
	for _, printFailed := range []bool{false, true} {
		f := newFixture(t)
		f.processor.PrintFailed = printFailed
		f.converter.render = failingRender("segmentation fault", false)

		if _, err := f.processor.Process(context.Background(), []types.Message{message("1", "a")}); err != nil {
			t.Fatal(err)
		}

		failure := f.logs.FilterMessage("Error processing message").All()[0]
		_, hasBody := failure.ContextMap()["body"]
		if hasBody != printFailed {
			t.Errorf("printFailed=%v: body logged = %v", printFailed, hasBody)
		}
	}
}

func TestProcess_StopsWhenContextIsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.processor.Process(ctx, []types.Message{message("1", "a")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.converter.calls) != 0 {
		t.Error("no message should be attempted after cancellation")
	}
}

func TestProcess_HandledWarningIncludesBodyWhenPrintFailed(t *testing.T) {
	for _, printFailed := range []bool{false, true} {
		f := newFixture(t)
		f.processor.PrintFailed = printFailed
		f.converter.render = failingRender("Warning: Failed to load http://cdn/x.png (ignore) ContentNotFoundError", true)

		if _, err := f.processor.Process(context.Background(), []types.Message{message("1", "a")}); err != nil {
			t.Fatal(err)
		}

		handled := f.logs.FilterMessageSnippet("HANDLED EXCEPTION").All()
		if len(handled) != 1 {
			t.Fatalf("expected one handled exception warning, got %d", len(handled))
		}
		body, hasBody := handled[0].ContextMap()["body"]
		if hasBody != printFailed {
			t.Errorf("printFailed=%v: body logged = %v", printFailed, hasBody)
		}
		if printFailed && body != "text of a" {
			t.Errorf("body = %v", body)
		}
	}
}

const relatedNewsletter = "From: news@example.com\r\n" +
	"Subject: Newsletter\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/related; boundary=\"r1\"\r\n" +
	"\r\n" +
	"--r1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<img src=\"cid:logo\">\r\n" +
	"--r1\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: inline; filename=\"logo.png\"\r\n" +
	"Content-ID: <logo>\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgo=\r\n" +
	"--r1--\r\n"

func TestProcess_SkipsMessagesWithInlineImages(t *testing.T) {
	msg, err := mime.Parse("12", []byte(relatedNewsletter))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	f := newFixture(t)
	outcome, err := f.processor.Process(context.Background(), []types.Message{msg})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Skipped != 1 || outcome.Processed != 0 || outcome.Failed != 0 {
		t.Errorf("outcome = %+v", outcome)
	}
	if len(f.converter.calls) != 0 || len(f.mail.flags) != 0 {
		t.Errorf("inline image message must not be converted or flagged: %+v %+v", f.converter.calls, f.mail.flags)
	}
}
