// Package policy decides which flag is applied to a message once it has been
// delivered and, from that, which messages are candidates for processing.
package policy

import (
	"fmt"
	"strings"
)

type Logger interface {
	Warnw(msg string, keysAndValues ...interface{})
}

// Flag is an IMAP system flag.
type Flag string

const (
	Seen     Flag = `\Seen`
	Answered Flag = `\Answered`
	Flagged  Flag = `\Flagged`
	Deleted  Flag = `\Deleted`
	Draft    Flag = `\Draft`
	Recent   Flag = `\Recent`
)

// Directive is the mutation applied to a message after it was delivered.
type Directive struct {
	Flag Flag
	Set  bool
}

func (d Directive) String() string {
	if d.Set {
		return "+" + string(d.Flag)
	}
	return "-" + string(d.Flag)
}

var DefaultDirective = Directive{Flag: Seen, Set: true}

// DRAFT would turn inbound mail into outbound mail and RECENT is read-only on
// the server, so neither is selectable.
var selectable = map[string]Directive{
	"SEEN":      {Flag: Seen, Set: true},
	"ANSWERED":  {Flag: Answered, Set: true},
	"FLAGGED":   {Flag: Flagged, Set: true},
	"UNFLAGGED": {Flag: Flagged, Set: false},
	"DELETED":   {Flag: Deleted, Set: true},
}

// ResolveFlag maps a configured flag name to a directive. Unknown names fall
// back to SEEN.
func ResolveFlag(name string, log Logger) Directive {
	key := strings.ToUpper(strings.TrimSpace(name))
	if d, ok := selectable[key]; ok {
		return d
	}

	log.Warnw("Unrecognised message flag, using SEEN instead",
		"flag", name)

	return DefaultDirective
}

// Filter selects candidate messages. A non-empty Raw expression is passed to
// the server as is; otherwise the flag lists apply, and an empty filter
// matches everything.
type Filter struct {
	Raw          string
	WithFlags    []Flag
	WithoutFlags []Flag
}

func (f Filter) IsAll() bool {
	return f.Raw == "" && len(f.WithFlags) == 0 && len(f.WithoutFlags) == 0
}

func (f Filter) String() string {
	if f.Raw != "" {
		return f.Raw
	}
	if f.IsAll() {
		return "ALL"
	}

	var parts []string
	for _, fl := range f.WithFlags {
		parts = append(parts, strings.ToUpper(strings.TrimPrefix(string(fl), `\`)))
	}
	for _, fl := range f.WithoutFlags {
		parts = append(parts, "UN"+strings.ToUpper(strings.TrimPrefix(string(fl), `\`)))
	}

	return strings.Join(parts, " ")
}

type ConfigurationError struct {
	Directive Directive
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for flag %s: %s", e.Directive, e.Reason)
}

// DeriveFilter searches for the negation of what the directive sets, so a
// message that was already handled is not picked up again.
func DeriveFilter(d Directive) (Filter, error) {
	switch d.Flag {
	case Seen, Answered, Flagged:
	case Deleted:
		if d.Set {
			return Filter{}, nil
		}
	default:
		return Filter{}, &ConfigurationError{
			Directive: d,
			Reason:    "no search filter can be derived, set an explicit filter",
		}
	}

	if d.Set {
		return Filter{WithoutFlags: []Flag{d.Flag}}, nil
	}

	return Filter{WithFlags: []Flag{d.Flag}}, nil
}

// ResolveFilter prefers an explicitly configured filter over a derived one.
func ResolveFilter(explicit string, d Directive) (Filter, error) {
	if raw := strings.TrimSpace(explicit); raw != "" {
		return Filter{Raw: raw}, nil
	}

	return DeriveFilter(d)
}
