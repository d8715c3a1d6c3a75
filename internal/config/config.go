package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Philanthropists/mail2pdf/internal/output"
	"github.com/Philanthropists/mail2pdf/internal/pdf"
)

const DefaultEnvFile = ".env"

const (
	MailboxIMAP  = "imap"
	MailboxGmail = "gmail"
)

// Error reports an invalid or missing configuration key.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

type IMAP struct {
	URL      string
	Username string
	Password string
}

type Gmail struct {
	CredentialsFile string
	TokenFile       string
}

type Twilio struct {
	AccountSid string
	AuthToken  string
	FromNumber string
	ToNumber   string
}

func (t Twilio) Enabled() bool {
	return t.AccountSid != ""
}

type Config struct {
	MailboxType string
	IMAP        IMAP
	Gmail       Gmail
	Folder      string
	Filter      string
	Limit       int

	OutputType         string
	SMTP               output.SMTPConfig
	Sender             string
	Destination        string
	OutputFolder       string
	OutputFolderCreate bool

	MessageFlag        string
	MarkMessages       bool
	FailedThreshold    int
	PrintFailedMessage bool

	PDFOptions    pdf.Options
	PDFBinary     string
	ContentErrors pdf.ContentErrors
	WorkDir       string

	LogLevel  string
	LogFormat string

	ReportTable string
	AWSRegion   string
	Twilio      Twilio
}

var defaults = map[string]interface{}{
	"MAILBOX_TYPE":              MailboxIMAP,
	"IMAP_FOLDER":               "INBOX",
	"NUM_EMAILS_LIMIT":          "50",
	"GMAIL_CREDENTIALS_FILE":    "credentials.json",
	"GMAIL_TOKEN_FILE":          "token.json",
	"OUTPUT_TYPE":               output.TypeMailto,
	"SMTP_PORT":                 "587",
	"SMTP_ENCRYPTION":           output.EncryptionStartTLS,
	"OUTPUT_FOLDER_CREATE":      "false",
	"MAIL_MESSAGE_FLAG":         "SEEN",
	"MAIL_MARK_MESSAGES":        "true",
	"FAILED_MESSAGES_THRESHOLD": "3",
	"PRINT_FAILED_MSG":          "false",
	"WKHTMLTOPDF_PATH":          pdf.DefaultBinary,
	"LOG_LEVEL":                 "INFO",
	"AWS_REGION":                "us-east-1",
}

// Load reads the optional env file into the process environment and builds
// the configuration from it. Variables already set in the environment are
// not overridden. A missing default env file is ignored, a missing explicit
// one is an error.
func Load(envFile string) (*Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	get := func(key string) string {
		return strings.TrimSpace(v.GetString(key))
	}

	var err error
	cfg := &Config{
		MailboxType: strings.ToLower(get("MAILBOX_TYPE")),
		IMAP: IMAP{
			URL:      get("IMAP_URL"),
			Username: get("IMAP_USERNAME"),
			Password: v.GetString("IMAP_PASSWORD"),
		},
		Gmail: Gmail{
			CredentialsFile: get("GMAIL_CREDENTIALS_FILE"),
			TokenFile:       get("GMAIL_TOKEN_FILE"),
		},
		Folder: get("IMAP_FOLDER"),
		Filter: get("IMAP_FILTER"),

		OutputType: strings.ToLower(get("OUTPUT_TYPE")),
		SMTP: output.SMTPConfig{
			Server:     get("SMTP_SERVER"),
			Port:       get("SMTP_PORT"),
			Username:   get("SMTP_USERNAME"),
			Password:   v.GetString("SMTP_PASSWORD"),
			Encryption: strings.ToUpper(get("SMTP_ENCRYPTION")),
		},
		Sender:       get("MAIL_SENDER"),
		Destination:  get("MAIL_DESTINATION"),
		OutputFolder: get("OUTPUT_FOLDER"),

		MessageFlag: get("MAIL_MESSAGE_FLAG"),

		PDFBinary:     get("WKHTMLTOPDF_PATH"),
		ContentErrors: pdf.ParseContentErrors(v.GetString("PDF_CONTENT_ERRORS")),
		WorkDir:       get("PDF_WORK_DIR"),

		LogLevel:  get("LOG_LEVEL"),
		LogFormat: get("LOG_FORMAT"),

		ReportTable: get("RUN_REPORT_TABLE"),
		AWSRegion:   get("AWS_REGION"),
		Twilio: Twilio{
			AccountSid: get("TWILIO_ACCOUNT_SID"),
			AuthToken:  get("TWILIO_AUTH_TOKEN"),
			FromNumber: get("TWILIO_FROM_NUMBER"),
			ToNumber:   get("TWILIO_TO_NUMBER"),
		},
	}

	if cfg.SMTP.Username == "" {
		cfg.SMTP.Username = cfg.IMAP.Username
	}
	if cfg.SMTP.Password == "" {
		cfg.SMTP.Password = cfg.IMAP.Password
	}
	if cfg.Sender == "" {
		cfg.Sender = cfg.SMTP.Username
	}

	if cfg.Limit, err = positiveInt(get, "NUM_EMAILS_LIMIT"); err != nil {
		return nil, err
	}
	if cfg.FailedThreshold, err = positiveInt(get, "FAILED_MESSAGES_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.OutputFolderCreate, err = boolean(get, "OUTPUT_FOLDER_CREATE"); err != nil {
		return nil, err
	}
	if cfg.MarkMessages, err = boolean(get, "MAIL_MARK_MESSAGES"); err != nil {
		return nil, err
	}
	if cfg.PrintFailedMessage, err = boolean(get, "PRINT_FAILED_MSG"); err != nil {
		return nil, err
	}
	if cfg.PDFOptions, err = pdf.ParseOptions(v.GetString("WKHTMLTOPDF_OPTIONS")); err != nil {
		return nil, &Error{Key: "WKHTMLTOPDF_OPTIONS", Reason: err.Error()}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.MailboxType {
	case MailboxIMAP:
		if err := required(map[string]string{
			"IMAP_URL":      c.IMAP.URL,
			"IMAP_USERNAME": c.IMAP.Username,
			"IMAP_PASSWORD": c.IMAP.Password,
		}); err != nil {
			return err
		}
	case MailboxGmail:
		if err := required(map[string]string{
			"GMAIL_CREDENTIALS_FILE": c.Gmail.CredentialsFile,
			"GMAIL_TOKEN_FILE":       c.Gmail.TokenFile,
		}); err != nil {
			return err
		}
	default:
		return &Error{Key: "MAILBOX_TYPE", Reason: fmt.Sprintf("unknown mailbox type %q", c.MailboxType)}
	}

	switch c.OutputType {
	case output.TypeMailto:
		if err := required(map[string]string{
			"SMTP_SERVER":      c.SMTP.Server,
			"SMTP_PORT":        c.SMTP.Port,
			"MAIL_SENDER":      c.Sender,
			"MAIL_DESTINATION": c.Destination,
		}); err != nil {
			return err
		}
	case output.TypeFolder:
		if err := required(map[string]string{
			"OUTPUT_FOLDER": c.OutputFolder,
		}); err != nil {
			return err
		}
	default:
		return &Error{Key: "OUTPUT_TYPE", Reason: fmt.Sprintf("unknown output type %q", c.OutputType)}
	}

	if c.Twilio.Enabled() {
		if err := required(map[string]string{
			"TWILIO_AUTH_TOKEN":  c.Twilio.AuthToken,
			"TWILIO_FROM_NUMBER": c.Twilio.FromNumber,
			"TWILIO_TO_NUMBER":   c.Twilio.ToNumber,
		}); err != nil {
			return err
		}
	}

	return nil
}

// required reports the first missing key in name order.
func required(values map[string]string) error {
	var missing []string
	for k, v := range values {
		if v == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	first := missing[0]
	for _, k := range missing[1:] {
		if k < first {
			first = k
		}
	}

	return &Error{Key: first, Reason: "is required"}
}

func positiveInt(get func(string) string, key string) (int, error) {
	n, err := strconv.Atoi(get(key))
	if err != nil {
		return 0, &Error{Key: key, Reason: fmt.Sprintf("not an integer: %q", get(key))}
	}
	if n < 1 {
		return 0, &Error{Key: key, Reason: "must be at least 1"}
	}
	return n, nil
}

func boolean(get func(string) string, key string) (bool, error) {
	b, err := strconv.ParseBool(get(key))
	if err != nil {
		return false, &Error{Key: key, Reason: fmt.Sprintf("not a boolean: %q", get(key))}
	}
	return b, nil
}
