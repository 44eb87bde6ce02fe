package singlethreaded

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Sentinel errors returned by the interpreter. Wrap with fmt.Errorf("%w")
// at the call site to attach the offending value.
var (
	ErrUnalignedMemoryAccess = fmt.Errorf("unaligned memory access")
	ErrInvalidInstruction    = fmt.Errorf("invalid instruction")
	ErrInvalidSyscall        = fmt.Errorf("invalid syscall")
)

// Syscall numbers understood by handleSyscall, matching the Linux/MIPS
// numbering the reference toolchain's libc targets.
const (
	sysMmap      = 4090
	sysBrk       = 4045
	sysClone     = 4120
	sysExitGroup = 4246
	sysRead      = 4003
	sysWrite     = 4004
	sysFcntl     = 4055
)

// File descriptors understood by read/write.
const (
	fdStdin         = 0
	fdStdout        = 1
	fdStderr        = 2
	fdHintRead      = 3
	fdHintWrite     = 4
	fdPreimageRead  = 5
	fdPreimageWrite = 6
)

const (
	mipsEBADF  = 0x9
	mipsEINVAL = 0x16
)

func signExtend(v uint32, bit uint) uint32 {
	if v&(1<<(bit-1)) != 0 {
		return v | (^uint32(0) << bit)
	}
	return v & ((1 << bit) - 1)
}

func lwl(rtVal, mem, addr uint32) uint32 {
	sl := (addr & 3) * 8
	val := mem << sl
	mask := ^uint32(0) << sl
	return (rtVal &^ mask) | val
}

func lwr(rtVal, mem, addr uint32) uint32 {
	sr := 24 - (addr&3)*8
	val := mem >> sr
	mask := ^uint32(0) >> sr
	return (rtVal &^ mask) | val
}

func swl(rtVal, mem, addr uint32) uint32 {
	sr := (addr & 3) * 8
	val := rtVal >> sr
	mask := ^uint32(0) >> sr
	return (mem &^ mask) | val
}

func swr(rtVal, mem, addr uint32) uint32 {
	sl := 24 - (addr&3)*8
	val := rtVal << sl
	mask := ^uint32(0) << sl
	return (mem &^ mask) | val
}

func (m *InstrumentedState) setReg(i uint32, v uint32) {
	if i == 0 {
		return
	}
	m.state.Registers[i] = v
}

// innerStep decodes and executes exactly one instruction at state.PC,
// leaving the branch-delay bookkeeping (PC/NextPC) consistent for the
// following call.
func (m *InstrumentedState) innerStep() error {
	s := m.state

	insn, err := s.Memory.GetMemory(s.PC)
	if err != nil {
		return fmt.Errorf("fetching instruction at 0x%x: %w", s.PC, err)
	}

	opcode := insn >> 26
	rs := (insn >> 21) & 0x1F
	rt := (insn >> 16) & 0x1F
	rd := (insn >> 11) & 0x1F
	shamt := (insn >> 6) & 0x1F
	funct := insn & 0x3F
	imm16 := insn & 0xFFFF
	simm16 := signExtend(imm16, 16)
	imm26 := insn & 0x3FFFFFF

	rsVal := s.Registers[rs]
	rtVal := s.Registers[rt]

	oldPC := s.PC
	oldNextPC := s.NextPC
	newNextPC := oldNextPC + 4

	advance := func() error {
		s.PC = oldNextPC
		s.NextPC = newNextPC
		return nil
	}

	branchTo := func(taken bool) {
		if taken {
			newNextPC = oldPC + 4 + (simm16 << 2)
		}
	}

	switch opcode {
	case 0x00: // SPECIAL
		switch funct {
		case 0x00: // sll
			m.setReg(rd, rtVal<<shamt)
		case 0x02: // srl
			m.setReg(rd, rtVal>>shamt)
		case 0x03: // sra
			m.setReg(rd, uint32(int32(rtVal)>>shamt))
		case 0x04: // sllv
			m.setReg(rd, rtVal<<(rsVal&0x1F))
		case 0x06: // srlv
			m.setReg(rd, rtVal>>(rsVal&0x1F))
		case 0x07: // srav
			m.setReg(rd, uint32(int32(rtVal)>>(rsVal&0x1F)))
		case 0x08: // jr
			newNextPC = rsVal
		case 0x09: // jalr
			m.setReg(rd, oldPC+8)
			newNextPC = rsVal
		case 0x0A: // movz
			if rtVal == 0 {
				m.setReg(rd, rsVal)
			}
		case 0x0B: // movn
			if rtVal != 0 {
				m.setReg(rd, rsVal)
			}
		case 0x0C: // syscall
			if err := m.handleSyscall(); err != nil {
				return err
			}
		case 0x0F: // sync
			// no-op: single-threaded machine, nothing to fence.
		case 0x10: // mfhi
			m.setReg(rd, s.HI)
		case 0x11: // mthi
			s.HI = rsVal
		case 0x12: // mflo
			m.setReg(rd, s.LO)
		case 0x13: // mtlo
			s.LO = rsVal
		case 0x18: // mult
			prod := int64(int32(rsVal)) * int64(int32(rtVal))
			s.HI, s.LO = uint32(uint64(prod)>>32), uint32(prod)
		case 0x19: // multu
			prod := uint64(rsVal) * uint64(rtVal)
			s.HI, s.LO = uint32(prod>>32), uint32(prod)
		case 0x1A: // div
			if rtVal == 0 {
				s.HI, s.LO = rsVal, 0xFFFFFFFF
			} else {
				s.HI = uint32(int32(rsVal) % int32(rtVal))
				s.LO = uint32(int32(rsVal) / int32(rtVal))
			}
		case 0x1B: // divu
			if rtVal == 0 {
				s.HI, s.LO = rsVal, 0xFFFFFFFF
			} else {
				s.HI = rsVal % rtVal
				s.LO = rsVal / rtVal
			}
		case 0x20: // add
			m.setReg(rd, rsVal+rtVal)
		case 0x21: // addu
			m.setReg(rd, rsVal+rtVal)
		case 0x22: // sub
			m.setReg(rd, rsVal-rtVal)
		case 0x23: // subu
			m.setReg(rd, rsVal-rtVal)
		case 0x24: // and
			m.setReg(rd, rsVal&rtVal)
		case 0x25: // or
			m.setReg(rd, rsVal|rtVal)
		case 0x26: // xor
			m.setReg(rd, rsVal^rtVal)
		case 0x27: // nor
			m.setReg(rd, ^(rsVal | rtVal))
		case 0x2A: // slt
			if int32(rsVal) < int32(rtVal) {
				m.setReg(rd, 1)
			} else {
				m.setReg(rd, 0)
			}
		case 0x2B: // sltu
			if rsVal < rtVal {
				m.setReg(rd, 1)
			} else {
				m.setReg(rd, 0)
			}
		default:
			return fmt.Errorf("SPECIAL funct 0x%x at pc 0x%x: %w", funct, oldPC, ErrInvalidInstruction)
		}

	case 0x01: // REGIMM
		switch rt {
		case 0x00: // bltz
			branchTo(int32(rsVal) < 0)
		case 0x01: // bgez
			branchTo(int32(rsVal) >= 0)
		default:
			return fmt.Errorf("REGIMM rt 0x%x at pc 0x%x: %w", rt, oldPC, ErrInvalidInstruction)
		}

	case 0x02: // j
		newNextPC = (oldNextPC & 0xF0000000) | (imm26 << 2)
	case 0x03: // jal
		m.setReg(31, oldPC+8)
		newNextPC = (oldNextPC & 0xF0000000) | (imm26 << 2)
	case 0x04: // beq
		branchTo(rsVal == rtVal)
	case 0x05: // bne
		branchTo(rsVal != rtVal)
	case 0x06: // blez
		branchTo(int32(rsVal) <= 0)
	case 0x07: // bgtz
		branchTo(int32(rsVal) > 0)
	case 0x08: // addi
		m.setReg(rt, rsVal+simm16)
	case 0x09: // addiu
		m.setReg(rt, rsVal+simm16)
	case 0x0A: // slti
		if int32(rsVal) < int32(simm16) {
			m.setReg(rt, 1)
		} else {
			m.setReg(rt, 0)
		}
	case 0x0B: // sltiu
		if rsVal < simm16 {
			m.setReg(rt, 1)
		} else {
			m.setReg(rt, 0)
		}
	case 0x0C: // andi
		m.setReg(rt, rsVal&imm16)
	case 0x0D: // ori
		m.setReg(rt, rsVal|imm16)
	case 0x0E: // xori
		m.setReg(rt, rsVal^imm16)
	case 0x0F: // lui
		m.setReg(rt, imm16<<16)

	case 0x1C: // SPECIAL2
		switch funct {
		case 0x02: // mul
			m.setReg(rd, uint32(int32(rsVal)*int32(rtVal)))
		case 0x20: // clz
			m.setReg(rd, uint32(bits.LeadingZeros32(rsVal)))
		default:
			return fmt.Errorf("SPECIAL2 funct 0x%x at pc 0x%x: %w", funct, oldPC, ErrInvalidInstruction)
		}

	case 0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26: // lb lh lwl lw lbu lhu lwr
		addr := rsVal + simm16
		if (opcode == 0x21 || opcode == 0x25) && addr&0x1 != 0 {
			return fmt.Errorf("halfword load at 0x%x: %w", addr, ErrUnalignedMemoryAccess)
		}
		if opcode == 0x23 && addr&0x3 != 0 {
			return fmt.Errorf("word load at 0x%x: %w", addr, ErrUnalignedMemoryAccess)
		}
		wordAddr := addr &^ 3
		if err := m.trackMemAccess(wordAddr); err != nil {
			return err
		}
		mem, err := s.Memory.GetMemory(wordAddr)
		if err != nil {
			return err
		}
		byteIdx := addr & 3
		var val uint32
		switch opcode {
		case 0x20: // lb
			val = signExtend((mem>>(24-byteIdx*8))&0xFF, 8)
		case 0x24: // lbu
			val = (mem >> (24 - byteIdx*8)) & 0xFF
		case 0x21: // lh
			val = signExtend((mem>>(16-(addr&2)*8))&0xFFFF, 16)
		case 0x25: // lhu
			val = (mem >> (16 - (addr&2)*8)) & 0xFFFF
		case 0x23: // lw
			val = mem
		case 0x22: // lwl
			val = lwl(rtVal, mem, addr)
		case 0x26: // lwr
			val = lwr(rtVal, mem, addr)
		}
		m.setReg(rt, val)

	case 0x28, 0x29, 0x2A, 0x2B, 0x2E: // sb sh swl sw swr
		addr := rsVal + simm16
		if opcode == 0x29 && addr&0x1 != 0 {
			return fmt.Errorf("halfword store at 0x%x: %w", addr, ErrUnalignedMemoryAccess)
		}
		if opcode == 0x2B && addr&0x3 != 0 {
			return fmt.Errorf("word store at 0x%x: %w", addr, ErrUnalignedMemoryAccess)
		}
		wordAddr := addr &^ 3
		if err := m.trackMemAccess(wordAddr); err != nil {
			return err
		}
		mem, err := s.Memory.GetMemory(wordAddr)
		if err != nil {
			return err
		}
		byteIdx := addr & 3
		var val uint32
		switch opcode {
		case 0x28: // sb
			shift := 24 - byteIdx*8
			val = (mem &^ (uint32(0xFF) << shift)) | ((rtVal & 0xFF) << shift)
		case 0x29: // sh
			shift := 16 - (addr&2)*8
			val = (mem &^ (uint32(0xFFFF) << shift)) | ((rtVal & 0xFFFF) << shift)
		case 0x2B: // sw
			val = rtVal
		case 0x2A: // swl
			val = swl(rtVal, mem, addr)
		case 0x2E: // swr
			val = swr(rtVal, mem, addr)
		}
		if err := s.Memory.SetMemory(wordAddr, val); err != nil {
			return err
		}

	default:
		return fmt.Errorf("opcode 0x%x at pc 0x%x: %w", opcode, oldPC, ErrInvalidInstruction)
	}

	return advance()
}

// handleSyscall services the small Linux/MIPS syscall surface the
// compiled programs need: memory growth, thread spawn as a no-op,
// process exit, and the pre-image protocol's read/write plumbing.
func (m *InstrumentedState) handleSyscall() error {
	s := m.state
	syscallNum := s.Registers[2]
	a0, a1, a2 := s.Registers[4], s.Registers[5], s.Registers[6]

	v0 := uint32(0)
	v1 := uint32(0)

	m.log.Debug("syscall", "num", syscallNum, "step", s.Step, "a0", a0, "a1", a1, "a2", a2)

	switch syscallNum {
	case sysMmap:
		sz := a1
		if sz&(4096-1) != 0 {
			sz += 4096 - (sz & (4096 - 1))
		}
		if a0 == 0 {
			v0 = s.Heap
			s.Heap += sz
		} else {
			v0 = a0
		}
	case sysBrk:
		v0 = 0x40000000
	case sysClone:
		v0 = 1
	case sysExitGroup:
		s.Exited = true
		s.ExitCode = uint8(a0)
		m.log.Info("exit_group", "code", s.ExitCode, "step", s.Step)
		return nil
	case sysRead:
		switch a0 {
		case fdStdin:
			// no input available; report EOF.
		case fdPreimageRead:
			effAddr := a1 &^ 3
			if err := m.trackMemAccess(effAddr); err != nil {
				return err
			}
			dat, datLen, err := m.readPreimage(s.PreimageKey, s.PreimageOffset)
			if err != nil {
				return err
			}
			mem, err := s.Memory.GetMemory(effAddr)
			if err != nil {
				return err
			}
			alignment := a1 & 3
			space := 4 - alignment
			if uint32(datLen) < space {
				space = uint32(datLen)
			}
			if a2 < space {
				space = a2
			}
			var outWord [4]byte
			binary.BigEndian.PutUint32(outWord[:], mem)
			copy(outWord[alignment:], dat[:space])
			if err := s.Memory.SetMemory(effAddr, binary.BigEndian.Uint32(outWord[:])); err != nil {
				return err
			}
			s.PreimageOffset += space
			v0 = space
		case fdHintRead:
			v0 = a2
		default:
			v0 = 0xFFFFFFFF
			v1 = mipsEBADF
		}
	case sysWrite:
		switch a0 {
		case fdStdout:
			if m.stdOut != nil {
				_, _ = m.stdOut.Write(s.Memory.ReadBytes(a1, a2))
			}
			v0 = a2
		case fdStderr:
			if m.stdErr != nil {
				_, _ = m.stdErr.Write(s.Memory.ReadBytes(a1, a2))
			}
			v0 = a2
		case fdHintWrite:
			m.hintBuf = append(m.hintBuf, s.Memory.ReadBytes(a1, a2)...)
			for len(m.hintBuf) >= 4 {
				hintLen := binary.BigEndian.Uint32(m.hintBuf[:4])
				if uint32(len(m.hintBuf)) < 4+hintLen {
					break
				}
				hint := m.hintBuf[4 : 4+hintLen]
				s.LastHint = append(s.LastHint[:0:0], m.hintBuf[:4+hintLen]...)
				m.hintBuf = m.hintBuf[4+hintLen:]
				if m.preimageOracle != nil {
					m.preimageOracle.Hint(hint)
				}
			}
			v0 = a2
		case fdPreimageWrite:
			effAddr := a1 &^ 3
			if err := m.trackMemAccess(effAddr); err != nil {
				return err
			}
			mem, err := s.Memory.GetMemory(effAddr)
			if err != nil {
				return err
			}
			alignment := a1 & 3
			space := 4 - alignment
			if a2 < space {
				space = a2
			}
			var word [4]byte
			binary.BigEndian.PutUint32(word[:], mem)
			m.keyBuf = append(m.keyBuf, word[alignment:alignment+space]...)
			if uint32(len(m.keyBuf)) > 32 {
				m.keyBuf = m.keyBuf[uint32(len(m.keyBuf))-32:]
			}
			copy(s.PreimageKey[:], leftPad32(m.keyBuf))
			s.PreimageOffset = 0
			v0 = space
		default:
			v0 = 0xFFFFFFFF
			v1 = mipsEBADF
		}
	case sysFcntl:
		if a1 == 3 { // F_GETFL
			switch a0 {
			case fdStdin, fdPreimageRead, fdHintRead:
				v0 = 0 // O_RDONLY
			case fdStdout, fdStderr, fdPreimageWrite, fdHintWrite:
				v0 = 1 // O_WRONLY
			default:
				v0 = 0xFFFFFFFF
				v1 = mipsEBADF
			}
		} else {
			v0 = 0xFFFFFFFF
			v1 = mipsEINVAL
		}
	default:
		if m.strictSyscalls {
			return fmt.Errorf("syscall number %d: %w", syscallNum, ErrInvalidSyscall)
		}
	}

	s.Registers[2] = v0
	s.Registers[7] = v1
	return nil
}

// leftPad32 returns key padded on the left with zero bytes to 32 bytes.
func leftPad32(key []byte) []byte {
	if len(key) >= 32 {
		return key
	}
	out := make([]byte, 32)
	copy(out[32-len(key):], key)
	return out
}
