package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

func atStep(n uint64) *singlethreaded.State {
	st := singlethreaded.New()
	st.Step = n
	return st
}

func TestStepMatcherNever(t *testing.T) {
	m := NewStepMatcher(true)
	require.False(t, m.Matches(atStep(0)))
	require.False(t, m.Matches(atStep(1000)))
}

func TestStepMatcherExact(t *testing.T) {
	m := NewStepMatcher(false)
	require.NoError(t, m.Set("=42"))
	require.False(t, m.Matches(atStep(41)))
	require.True(t, m.Matches(atStep(42)))
	require.False(t, m.Matches(atStep(43)))
}

func TestStepMatcherEveryN(t *testing.T) {
	m := NewStepMatcher(false)
	require.NoError(t, m.Set("%10"))
	require.True(t, m.Matches(atStep(0)))
	require.True(t, m.Matches(atStep(20)))
	require.False(t, m.Matches(atStep(21)))
}

func TestStepMatcherAtOrAfter(t *testing.T) {
	m := NewStepMatcher(false)
	require.NoError(t, m.Set("100"))
	require.False(t, m.Matches(atStep(99)))
	require.True(t, m.Matches(atStep(100)))
	require.True(t, m.Matches(atStep(200)))
}

func TestStepMatcherInvalid(t *testing.T) {
	m := NewStepMatcher(false)
	require.Error(t, m.Set("%0"))
	require.Error(t, m.Set("=abc"))
}
