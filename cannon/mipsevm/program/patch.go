package program

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/anton-rs/cannon/cannon/mipsevm/memory"
	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

const wordSizeBytes = 4

// highMemoryStart is the top of the address space handed to PatchStack, one
// page below the reserved top-of-memory guard.
const highMemoryStart = 0x7FFFF000

// regSP is register $29, the o32 ABI stack pointer.
const regSP = 29

// PatchStack sets up the guest's initial stack frame: sp, argc/argv, an
// envp holding a single GODEBUG entry, and a minimal auxv (AT_PAGESZ,
// AT_RANDOM), matching what a MIPS32 o32 ABI process expects to find on
// entry.
func PatchStack(st *singlethreaded.State, args []string) error {
	sp := uint32(highMemoryStart)
	if err := st.Memory.SetMemoryRange(sp-4*memory.PageSize, bytes.NewReader(make([]byte, 5*memory.PageSize))); err != nil {
		return fmt.Errorf("allocating stack pages: %w", err)
	}
	st.Registers[regSP] = sp

	storeMem := func(addr, v uint32) error {
		var dat [wordSizeBytes]byte
		binary.BigEndian.PutUint32(dat[:], v)
		return st.Memory.SetMemoryRange(addr, bytes.NewReader(dat[:]))
	}

	if len(args) == 0 {
		args = []string{"cannon"}
	}

	// 9 fixed words (argc, argv terminator, envp[0], envp terminator,
	// AT_PAGESZ pair, AT_RANDOM pair, AT_NULL) plus one word per argv entry.
	auxvOffset := sp + wordSizeBytes*uint32(9+len(args))
	randomness := pad([]byte("4;byfairdiceroll"))
	if err := st.Memory.SetMemoryRange(auxvOffset, bytes.NewReader(randomness)); err != nil {
		return err
	}

	envpOffset := auxvOffset + uint32(len(randomness))
	envar := pad(append([]byte("GODEBUG=memprofilerate=0"), 0x0))
	if err := st.Memory.SetMemoryRange(envpOffset, bytes.NewReader(envar)); err != nil {
		return err
	}

	argOffset := envpOffset + uint32(len(envar))
	argvOffsets := make([]uint32, len(args))
	for i, a := range args {
		buf := pad(append([]byte(a), 0x0))
		if err := st.Memory.SetMemoryRange(argOffset, bytes.NewReader(buf)); err != nil {
			return err
		}
		argvOffsets[i] = argOffset
		argOffset += uint32(len(buf))
	}

	if err := storeMem(sp, uint32(len(args))); err != nil { // argc
		return err
	}
	off := sp + wordSizeBytes
	for _, o := range argvOffsets {
		if err := storeMem(off, o); err != nil {
			return err
		}
		off += wordSizeBytes
	}
	if err := storeMem(off, 0); err != nil { // argv terminator
		return err
	}
	off += wordSizeBytes
	if err := storeMem(off, envpOffset); err != nil { // envp[0]
		return err
	}
	off += wordSizeBytes
	if err := storeMem(off, 0); err != nil { // envp terminator
		return err
	}
	off += wordSizeBytes
	if err := storeMem(off, 6); err != nil { // AT_PAGESZ
		return err
	}
	off += wordSizeBytes
	if err := storeMem(off, 4096); err != nil {
		return err
	}
	off += wordSizeBytes
	if err := storeMem(off, 25); err != nil { // AT_RANDOM
		return err
	}
	off += wordSizeBytes
	if err := storeMem(off, auxvOffset); err != nil {
		return err
	}
	off += wordSizeBytes
	return storeMem(off, 0) // AT_NULL
}

// pad right-pads buf with zero bytes to word alignment.
func pad(buf []byte) []byte {
	if len(buf)%wordSizeBytes == 0 {
		return buf
	}
	return append(buf, make([]byte, wordSizeBytes-len(buf)%wordSizeBytes)...)
}

// patchTarget names a runtime symbol to stub out with an immediate return,
// used to keep a handful of syscalls the Go runtime issues at startup
// (thread creation, CPU affinity probing) from tripping ErrInvalidSyscall.
type patchTarget struct {
	symbol string
}

var goRuntimePatches = []patchTarget{
	{symbol: "runtime.futex"},
	{symbol: "runtime.sched_getaffinity"},
	{symbol: "runtime.osinit"},
}

// PatchGo overwrites the entry instruction of a small set of Go runtime
// symbols with "jr $ra; nop" so a GOOS=linux GOARCH=mips binary that
// assumes real kernel support for threading and CPU topology can still
// boot under the single-threaded emulator. Symbols not present in f's
// symbol table are silently skipped: not every Go toolchain version emits
// all of them.
func PatchGo(f *elf.File, st *singlethreaded.State) error {
	syms, err := f.Symbols()
	if err != nil {
		// No symbol table (fully stripped binary): nothing to patch.
		return nil
	}
	byName := make(map[string]elf.Symbol, len(syms))
	for _, s := range syms {
		byName[s.Name] = s
	}
	const jrRA = 0x03E00008 // jr $ra
	const nop = 0x00000000
	for _, t := range goRuntimePatches {
		sym, ok := byName[t.symbol]
		if !ok || sym.Value == 0 {
			continue
		}
		addr := uint32(sym.Value)
		if err := st.Memory.SetMemory(addr, jrRA); err != nil {
			return fmt.Errorf("patching %s: %w", t.symbol, err)
		}
		if err := st.Memory.SetMemory(addr+4, nop); err != nil {
			return fmt.Errorf("patching %s delay slot: %w", t.symbol, err)
		}
	}
	return nil
}
