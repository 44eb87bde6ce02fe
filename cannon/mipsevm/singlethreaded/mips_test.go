package singlethreaded

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddu(t *testing.T) {
	st := New()
	st.PC = 0x100
	st.NextPC = 0x104
	st.Registers[8] = 5
	st.Registers[9] = 7
	require.NoError(t, st.Memory.SetMemory(0x100, 0x01095021)) // addu $10, $8, $9

	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)

	require.Equal(t, uint32(12), st.Registers[10])
	require.Equal(t, uint32(0x104), st.PC)
	require.Equal(t, uint32(0x108), st.NextPC)
	require.Equal(t, uint64(1), st.Step)
}

func TestBranchDelaySlot(t *testing.T) {
	st := New()
	require.NoError(t, st.Memory.SetMemory(0x0, 0x10000002))  // beq $0, $0, +2
	require.NoError(t, st.Memory.SetMemory(0x4, 0x24080001))  // addiu $8, $0, 1
	require.NoError(t, st.Memory.SetMemory(0xC, 0x24080002))  // addiu $8, $0, 2
	st.PC = 0
	st.NextPC = 4

	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)
	_, err = us.Step(false)
	require.NoError(t, err)

	require.Equal(t, uint32(1), st.Registers[8], "delay slot instruction must execute before the branch lands")
	require.Equal(t, uint32(0xC), st.PC)
}

func TestExitGroupSyscall(t *testing.T) {
	st := New()
	st.Registers[2] = 4246 // v0: exit_group
	st.Registers[4] = 0x42 // a0: exit code
	require.NoError(t, st.Memory.SetMemory(0x0, 0x0000000C)) // syscall

	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)
	require.True(t, st.Exited)
	require.Equal(t, uint8(0x42), st.ExitCode)

	preStep := st.Step
	wit, err := us.Step(false)
	require.NoError(t, err)
	require.Nil(t, wit)
	require.Equal(t, preStep, st.Step, "stepping an exited state must be a no-op")
}

func TestMmapHeapBump(t *testing.T) {
	st := New()
	st.Heap = 0x20000000
	st.Registers[2] = 4090    // v0: mmap
	st.Registers[4] = 0       // a0: addr hint (none)
	st.Registers[5] = 0x3000  // a1: length
	require.NoError(t, st.Memory.SetMemory(0x0, 0x0000000C)) // syscall

	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)

	require.Equal(t, uint32(0x20000000), st.Registers[2])
	require.Equal(t, uint32(0x20003000), st.Heap)
}

func TestDivisionByZero(t *testing.T) {
	st := New()
	st.Registers[8] = 0x7
	st.Registers[9] = 0
	require.NoError(t, st.Memory.SetMemory(0x0, 0x0109001B)) // divu $8, $9

	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)
	require.Equal(t, uint32(0x7), st.HI)
	require.Equal(t, uint32(0xFFFFFFFF), st.LO)
}

func TestRegZeroImmutable(t *testing.T) {
	st := New()
	require.NoError(t, st.Memory.SetMemory(0x0, 0x00000000)) // sll $0, $0, 0
	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)
	require.Equal(t, uint32(0), st.Registers[0])
}

func TestFcntlGetFlags(t *testing.T) {
	st := New()
	st.Registers[2] = 4055 // v0: fcntl
	st.Registers[4] = 0    // a0: fd 0 (stdin)
	st.Registers[5] = 3    // a1: F_GETFL
	require.NoError(t, st.Memory.SetMemory(0x0, 0x0000000C)) // syscall

	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)
	require.Equal(t, uint32(0), st.Registers[2], "stdin is opened O_RDONLY")

	st2 := New()
	st2.Registers[2] = 4055 // v0: fcntl
	st2.Registers[4] = 1    // a0: fd 1 (stdout)
	st2.Registers[5] = 3    // a1: F_GETFL
	require.NoError(t, st2.Memory.SetMemory(0x0, 0x0000000C)) // syscall

	us2 := NewInstrumentedState(st2, nil, nil, nil, nil)
	_, err = us2.Step(false)
	require.NoError(t, err)
	require.Equal(t, uint32(1), st2.Registers[2], "stdout is opened O_WRONLY")
}

func TestLwlUnalignedLoad(t *testing.T) {
	st := New()
	require.NoError(t, st.Memory.SetMemory(0x1000, 0x11223344))
	// lwl $8, 0x1001($0); loads the three bytes from 0x1001 to the end of
	// the word into the high bytes of $8, leaving its low byte unchanged.
	require.NoError(t, st.Memory.SetMemory(0x0, 0x88081001))
	us := NewInstrumentedState(st, nil, nil, nil, nil)
	_, err := us.Step(false)
	require.NoError(t, err)
	require.Equal(t, uint32(0x22334400), st.Registers[8])
}
