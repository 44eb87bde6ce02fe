// Package program loads a statically-linked MIPS32 big-endian ELF binary
// into an initial machine State and patches it to run under the emulator
// without a real kernel underneath it.
package program

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

// HeapStart is the first address handed out by the mmap syscall.
const HeapStart = 0x20000000

// LoadELF reads every PT_LOAD segment of f into a fresh State's memory and
// points PC/NextPC at the entry point.
func LoadELF(f *elf.File) (*singlethreaded.State, error) {
	if f.Machine != elf.EM_MIPS {
		return nil, fmt.Errorf("expected an EM_MIPS binary, got %s", f.Machine)
	}
	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("expected a 32-bit binary, got %s", f.Class)
	}
	if f.ByteOrder != nil && f.Data != elf.ELFDATA2MSB {
		return nil, fmt.Errorf("expected a big-endian binary")
	}

	s := singlethreaded.New()
	s.PC = uint32(f.Entry)
	s.NextPC = uint32(f.Entry) + 4
	s.Heap = HeapStart

	for i, prog := range f.Progs {
		if prog.Type == elf.PT_MIPS_ABIFLAGS {
			continue
		}
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		r := io.Reader(io.NewSectionReader(prog, 0, int64(prog.Filesz)))
		if prog.Filesz != prog.Memsz {
			if prog.Filesz > prog.Memsz {
				return nil, fmt.Errorf("program segment %d: file size (%d) exceeds mem size (%d)", i, prog.Filesz, prog.Memsz)
			}
			r = io.MultiReader(r, bytes.NewReader(make([]byte, prog.Memsz-prog.Filesz)))
		}

		lastByte := prog.Vaddr + prog.Memsz - 1
		if lastByte > 0xFFFFFFFF || lastByte < prog.Vaddr {
			return nil, fmt.Errorf("program segment %d out of range: 0x%x-0x%x", i, prog.Vaddr, lastByte)
		}
		if lastByte >= HeapStart {
			return nil, fmt.Errorf("program segment %d overlaps the heap at 0x%x-0x%x", i, prog.Vaddr, lastByte)
		}
		if err := s.Memory.SetMemoryRange(uint32(prog.Vaddr), r); err != nil {
			return nil, fmt.Errorf("loading program segment %d: %w", i, err)
		}
	}

	return s, nil
}
