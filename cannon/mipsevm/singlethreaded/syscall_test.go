package singlethreaded

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// fakeOracle is a minimal in-memory PreimageOracle for tests: it records
// hints and serves one fixed preimage regardless of the requested key.
type fakeOracle struct {
	hints    [][]byte
	preimage []byte
}

func (f *fakeOracle) Hint(v []byte) { f.hints = append(f.hints, append([]byte{}, v...)) }

func (f *fakeOracle) GetPreimage(key [32]byte) ([]byte, error) {
	return f.preimage, nil
}

func runSyscall(t *testing.T, us *InstrumentedState, pc uint32) {
	st := us.GetState()
	require.NoError(t, st.Memory.SetMemory(pc, 0x0000000C)) // syscall
	st.PC = pc
	st.NextPC = pc + 4
	_, err := us.Step(false)
	require.NoError(t, err)
}

func TestHintWriteRoundTrip(t *testing.T) {
	st := New()
	oracle := &fakeOracle{}
	us := NewInstrumentedState(st, oracle, nil, nil, nil)

	hint := []byte("HINT")
	buf := make([]byte, 8)
	buf[3] = byte(len(hint)) // big-endian 4-byte length prefix
	copy(buf[4:], hint)
	require.NoError(t, st.Memory.SetMemoryRange(0x4000, bytes.NewReader(buf)))

	st.Registers[2] = 4004   // v0: write
	st.Registers[4] = 4      // a0: fd = hint write
	st.Registers[5] = 0x4000 // a1: buf
	st.Registers[6] = uint32(len(buf))

	runSyscall(t, us, 0x0)
	require.Len(t, oracle.hints, 1)
	require.Equal(t, hint, oracle.hints[0])
}

func TestPreimageReadRoundTrip(t *testing.T) {
	st := New()
	oracle := &fakeOracle{preimage: []byte("hello world")}
	us := NewInstrumentedState(st, oracle, nil, nil, nil)

	var key common.Hash
	key[31] = 0x07
	st.PreimageKey = key
	st.PreimageOffset = 8 // skip the synthetic 8-byte length prefix

	st.Registers[2] = 4003   // v0: read
	st.Registers[4] = 5      // a0: fd = preimage read
	st.Registers[5] = 0x5000 // a1: buf
	st.Registers[6] = 4      // a2: count

	runSyscall(t, us, 0x0)

	v, err := st.Memory.GetMemory(0x5000)
	require.NoError(t, err)
	require.Equal(t, []byte("hell"), []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	require.Equal(t, uint32(4), st.Registers[2])
	require.Equal(t, uint32(12), st.PreimageOffset)
}

func TestPreimageKeyWrite(t *testing.T) {
	st := New()
	oracle := &fakeOracle{}
	us := NewInstrumentedState(st, oracle, nil, nil, nil)

	var want common.Hash
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, st.Memory.SetMemoryRange(0x6000, bytes.NewReader(want[:])))

	st.Registers[2] = 4004 // v0: write
	st.Registers[4] = 6    // a0: fd = preimage key write
	st.Registers[6] = 4    // a2: bytes per call

	for i := 0; i < 8; i++ {
		st.Registers[5] = 0x6000 + uint32(i*4) // a1: buf
		runSyscall(t, us, uint32(i*4))
	}

	require.Equal(t, want, st.PreimageKey)
	require.Equal(t, uint32(0), st.PreimageOffset)
}
