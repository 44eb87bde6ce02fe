// Package singlethreaded implements the classic, single-threaded Cannon
// machine state: one program counter, one register file, and a
// deterministic 226-byte witness encoding consumed by the on-chain
// verifier.
package singlethreaded

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum-optimism/optimism/op-service/serialize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/anton-rs/cannon/cannon/mipsevm/memory"
)

// StateWitnessSize is the byte length of the packed witness the on-chain
// verifier hashes to recover a state's commitment.
const StateWitnessSize = 226

// VMStatus classifies a state for the top byte of its state hash.
type VMStatus uint8

const (
	VMStatusValid      VMStatus = 0
	VMStatusInvalid    VMStatus = 1
	VMStatusPanic      VMStatus = 2
	VMStatusUnfinished VMStatus = 3
)

func vmStatus(exited bool, exitCode uint8) VMStatus {
	if !exited {
		return VMStatusUnfinished
	}
	switch exitCode {
	case 0:
		return VMStatusValid
	case 1:
		return VMStatusInvalid
	default:
		return VMStatusPanic
	}
}

// State is the complete, serializable machine state of the single-threaded
// MIPS32 emulator.
type State struct {
	Memory *memory.Memory `json:"memory"`

	PreimageKey    common.Hash `json:"preimageKey"`
	PreimageOffset uint32      `json:"preimageOffset"`

	PC     uint32 `json:"pc"`
	NextPC uint32 `json:"nextPC"`
	LO     uint32 `json:"lo"`
	HI     uint32 `json:"hi"`
	Heap   uint32 `json:"heap"`

	ExitCode uint8 `json:"exit"`
	Exited   bool  `json:"exited"`

	Step uint64 `json:"step"`

	Registers [32]uint32 `json:"registers"`

	// LastHint is the most recently completed hint payload (4-byte length
	// prefix followed by its bytes), retained so a VM resumed from a
	// snapshot can replay it to a freshly started oracle server. It is not
	// part of the state hash.
	LastHint hexutil.Bytes `json:"lastHint,omitempty"`
}

func New() *State {
	return &State{
		Memory: memory.NewMemory(),
		Heap:   0x20000000,
	}
}

func (s *State) GetPC() uint32 { return s.PC }
func (s *State) GetHeap() uint32 { return s.Heap }
func (s *State) GetExitCode() uint8 { return s.ExitCode }
func (s *State) GetExited() bool { return s.Exited }
func (s *State) GetStep() uint64 { return s.Step }
func (s *State) GetRegistersRef() *[32]uint32 { return &s.Registers }
func (s *State) GetLastHint() hexutil.Bytes { return s.LastHint }

// EncodeWitness packs the state into the fixed 226-byte layout the
// on-chain verifier expects and returns the witness alongside its state
// hash (with the VM status folded into the hash's first byte).
func (s *State) EncodeWitness() ([]byte, common.Hash) {
	out := make([]byte, 0, StateWitnessSize)
	memRoot := s.Memory.MerkleRoot()
	out = append(out, memRoot[:]...)
	out = append(out, s.PreimageKey[:]...)
	out = binary.BigEndian.AppendUint32(out, s.PreimageOffset)
	out = binary.BigEndian.AppendUint32(out, s.PC)
	out = binary.BigEndian.AppendUint32(out, s.NextPC)
	out = binary.BigEndian.AppendUint32(out, s.LO)
	out = binary.BigEndian.AppendUint32(out, s.HI)
	out = binary.BigEndian.AppendUint32(out, s.Heap)
	out = append(out, s.ExitCode)
	if s.Exited {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = binary.BigEndian.AppendUint64(out, s.Step)
	for _, r := range s.Registers {
		out = binary.BigEndian.AppendUint32(out, r)
	}
	if len(out) != StateWitnessSize {
		panic(fmt.Sprintf("encoded witness has unexpected length %d, want %d", len(out), StateWitnessSize))
	}

	hash := crypto.Keccak256Hash(out)
	hash[0] = byte(vmStatus(s.Exited, s.ExitCode))
	return out, hash
}

// stateJSON is the JSON wire shape for State, matching the field casing
// fixed by the external snapshot format.
type stateJSON struct {
	Memory         *memory.Memory `json:"memory"`
	PreimageKey    common.Hash    `json:"preimageKey"`
	PreimageOffset uint32         `json:"preimageOffset"`
	PC             uint32         `json:"pc"`
	NextPC         uint32         `json:"nextPC"`
	LO             uint32         `json:"lo"`
	HI             uint32         `json:"hi"`
	Heap           uint32         `json:"heap"`
	ExitCode       uint8          `json:"exit"`
	Exited         bool           `json:"exited"`
	Step           uint64         `json:"step"`
	Registers      [32]uint32     `json:"registers"`
	LastHint       hexutil.Bytes  `json:"lastHint,omitempty"`
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		Memory:         s.Memory,
		PreimageKey:    s.PreimageKey,
		PreimageOffset: s.PreimageOffset,
		PC:             s.PC,
		NextPC:         s.NextPC,
		LO:             s.LO,
		HI:             s.HI,
		Heap:           s.Heap,
		ExitCode:       s.ExitCode,
		Exited:         s.Exited,
		Step:           s.Step,
		Registers:      s.Registers,
		LastHint:       s.LastHint,
	})
}

func (s *State) UnmarshalJSON(dat []byte) error {
	var j stateJSON
	j.Memory = memory.NewMemory()
	if err := json.Unmarshal(dat, &j); err != nil {
		return err
	}
	s.Memory = j.Memory
	s.PreimageKey = j.PreimageKey
	s.PreimageOffset = j.PreimageOffset
	s.PC = j.PC
	s.NextPC = j.NextPC
	s.LO = j.LO
	s.HI = j.HI
	s.Heap = j.Heap
	s.ExitCode = j.ExitCode
	s.Exited = j.Exited
	s.Step = j.Step
	s.Registers = j.Registers
	s.LastHint = j.LastHint
	return nil
}

// stateFormatVersion is a leading tag on the binary snapshot so a future
// layout revision can coexist with old snapshot files.
const stateFormatVersion uint8 = 1

// Serialize writes a compact binary snapshot of the full state, used by
// the CLI whenever a state path ends in ".bin". Field order matches
// EncodeWitness for readability but is otherwise independent of it.
func (s *State) Serialize(w io.Writer) error {
	bout := serialize.NewBinaryWriter(w)
	if err := bout.WriteUInt(stateFormatVersion); err != nil {
		return err
	}
	if err := s.Memory.Serialize(w); err != nil {
		return err
	}
	if _, err := w.Write(s.PreimageKey[:]); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.PreimageOffset); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.PC); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.NextPC); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.LO); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.HI); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.Heap); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.ExitCode); err != nil {
		return err
	}
	var exited uint8
	if s.Exited {
		exited = 1
	}
	if err := bout.WriteUInt(exited); err != nil {
		return err
	}
	if err := bout.WriteUInt(s.Step); err != nil {
		return err
	}
	for _, r := range s.Registers {
		if err := bout.WriteUInt(r); err != nil {
			return err
		}
	}
	if err := bout.WriteUInt(uint32(len(s.LastHint))); err != nil {
		return err
	}
	_, err := w.Write(s.LastHint)
	return err
}

// Deserialize reads back a snapshot written by Serialize.
func (s *State) Deserialize(r io.Reader) error {
	bin := serialize.NewBinaryReader(r)
	var version uint8
	if err := bin.ReadUInt(&version); err != nil {
		return err
	}
	if version != stateFormatVersion {
		return fmt.Errorf("unsupported state format version %d", version)
	}
	s.Memory = memory.NewMemory()
	if err := s.Memory.Deserialize(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, s.PreimageKey[:]); err != nil {
		return err
	}
	if err := bin.ReadUInt(&s.PreimageOffset); err != nil {
		return err
	}
	if err := bin.ReadUInt(&s.PC); err != nil {
		return err
	}
	if err := bin.ReadUInt(&s.NextPC); err != nil {
		return err
	}
	if err := bin.ReadUInt(&s.LO); err != nil {
		return err
	}
	if err := bin.ReadUInt(&s.HI); err != nil {
		return err
	}
	if err := bin.ReadUInt(&s.Heap); err != nil {
		return err
	}
	if err := bin.ReadUInt(&s.ExitCode); err != nil {
		return err
	}
	var exited uint8
	if err := bin.ReadUInt(&exited); err != nil {
		return err
	}
	s.Exited = exited != 0
	if err := bin.ReadUInt(&s.Step); err != nil {
		return err
	}
	for i := range s.Registers {
		if err := bin.ReadUInt(&s.Registers[i]); err != nil {
			return err
		}
	}
	var hintLen uint32
	if err := bin.ReadUInt(&hintLen); err != nil {
		return err
	}
	s.LastHint = make(hexutil.Bytes, hintLen)
	_, err := io.ReadFull(r, s.LastHint)
	return err
}
