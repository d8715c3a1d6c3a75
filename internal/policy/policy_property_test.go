package policy

import (
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// Whatever name is configured, the resolved directive always yields a filter.
func TestProperty_ResolvedDirectiveAlwaysDerivesFilter(t *testing.T) {
	log := zap.NewNop().Sugar()

	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.OneOf(
			rapid.SampledFrom([]string{"SEEN", "ANSWERED", "FLAGGED", "UNFLAGGED", "DELETED", "DRAFT", "RECENT"}),
			rapid.String(),
		).Draw(rt, "name")

		d := ResolveFlag(name, log)
		if d.Flag == Draft || d.Flag == Recent {
			rt.Fatalf("ResolveFlag(%q) selected %v", name, d)
		}
		if _, err := DeriveFilter(d); err != nil {
			rt.Fatalf("DeriveFilter(%v): %v", d, err)
		}
	})
}

// The derived filter never selects messages already carrying the result of
// the directive.
func TestProperty_DerivedFilterExcludesProcessed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := Directive{
			Flag: rapid.SampledFrom([]Flag{Seen, Answered, Flagged}).Draw(rt, "flag"),
			Set:  rapid.Bool().Draw(rt, "set"),
		}

		f, err := DeriveFilter(d)
		if err != nil {
			rt.Fatalf("DeriveFilter(%v): %v", d, err)
		}

		list := f.WithFlags
		if d.Set {
			list = f.WithoutFlags
		}
		if len(list) != 1 || list[0] != d.Flag {
			rt.Fatalf("DeriveFilter(%v) = %+v", d, f)
		}
	})
}
