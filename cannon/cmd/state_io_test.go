package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

func TestStateIOJSONRoundTrip(t *testing.T) {
	st := singlethreaded.New()
	st.PC = 0x1234
	require.NoError(t, st.Memory.SetMemory(0x1000, 0xDEADBEEF))

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, writeState(path, st))

	got, err := readState(path)
	require.NoError(t, err)
	require.Equal(t, st.PC, got.PC)
	require.Equal(t, st.Memory.MerkleRoot(), got.Memory.MerkleRoot())
}

func TestStateIOBinaryRoundTrip(t *testing.T) {
	st := singlethreaded.New()
	st.PC = 0x5678
	require.NoError(t, st.Memory.SetMemory(0x2000, 0x01020304))

	path := filepath.Join(t.TempDir(), "state.bin")
	require.NoError(t, writeState(path, st))

	got, err := readState(path)
	require.NoError(t, err)
	require.Equal(t, st.PC, got.PC)
	require.Equal(t, st.Memory.MerkleRoot(), got.Memory.MerkleRoot())
}
