package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

// StepMatcher decides, for a given step, whether a CLI flag such as
// --proof-at should fire. It implements cli.Generic so it can be used
// directly as a urfave/cli flag value.
type StepMatcher struct {
	raw string
	fn  func(step uint64) bool
}

func NewStepMatcher(never bool) *StepMatcher {
	if never {
		return &StepMatcher{raw: "never", fn: func(uint64) bool { return false }}
	}
	return &StepMatcher{raw: "", fn: func(uint64) bool { return false }}
}

// Set parses the grammar: "never" (disabled), "=<n>" (exact step),
// "%<n>" (every n steps), or a bare "<n>" meaning "at or after step n".
func (m *StepMatcher) Set(s string) error {
	m.raw = s
	switch {
	case s == "" || s == "never":
		m.fn = func(uint64) bool { return false }
		return nil
	case strings.HasPrefix(s, "="):
		n, err := strconv.ParseUint(s[1:], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid exact-step matcher %q: %w", s, err)
		}
		m.fn = func(step uint64) bool { return step == n }
		return nil
	case strings.HasPrefix(s, "%"):
		n, err := strconv.ParseUint(s[1:], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid every-n matcher %q: %w", s, err)
		}
		if n == 0 {
			return fmt.Errorf("every-n matcher %q: n must be nonzero", s)
		}
		m.fn = func(step uint64) bool { return step%n == 0 }
		return nil
	default:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid step matcher %q: %w", s, err)
		}
		m.fn = func(step uint64) bool { return step >= n }
		return nil
	}
}

func (m *StepMatcher) String() string { return m.raw }

// Matches reports whether the matcher fires for st's current step.
func (m *StepMatcher) Matches(st *singlethreaded.State) bool {
	if m.fn == nil {
		return false
	}
	return m.fn(st.Step)
}
