package program

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

func TestPatchStackLayout(t *testing.T) {
	st := singlethreaded.New()
	require.NoError(t, PatchStack(st, []string{"cannon", "program.bin", "--flag"}))

	sp := st.Registers[regSP]
	require.Equal(t, uint32(highMemoryStart), sp)

	readWord := func(addr uint32) uint32 {
		v, err := st.Memory.GetMemory(addr)
		require.NoError(t, err)
		return v
	}

	argc := readWord(sp)
	require.Equal(t, uint32(3), argc)

	argv0 := readWord(sp + 4)
	require.NotZero(t, argv0)

	argvTerm := readWord(sp + 4 + 3*4)
	require.Zero(t, argvTerm)

	var buf [len("cannon")]byte
	r := st.Memory.ReadMemoryRange(argv0, uint32(len(buf)))
	_, err := r.Read(buf[:])
	require.NoError(t, err)
	require.Equal(t, "cannon", string(buf[:]))
}

func TestPatchStackDefaultsArgs(t *testing.T) {
	st := singlethreaded.New()
	require.NoError(t, PatchStack(st, nil))

	sp := st.Registers[regSP]
	argc, err := st.Memory.GetMemory(sp)
	require.NoError(t, err)
	require.Equal(t, uint32(1), argc)
}

func TestPadWordAligns(t *testing.T) {
	require.Equal(t, 4, len(pad([]byte{1})))
	require.Equal(t, 4, len(pad([]byte{1, 2, 3, 4})))
	require.Equal(t, 8, len(pad([]byte{1, 2, 3, 4, 5})))
}

func TestStoreMemBigEndian(t *testing.T) {
	st := singlethreaded.New()
	require.NoError(t, PatchStack(st, []string{"x"}))
	v, err := st.Memory.GetMemory(uint32(highMemoryStart))
	require.NoError(t, err)
	var want [4]byte
	binary.BigEndian.PutUint32(want[:], 1)
	require.Equal(t, binary.BigEndian.Uint32(want[:]), v)
}
