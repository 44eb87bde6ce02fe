package singlethreaded

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/anton-rs/cannon/cannon/mipsevm/memory"
)

// PreimageOracle is the interpreter-facing view of the pre-image server:
// content-addressed key/value lookups plus an out-of-band hint channel.
type PreimageOracle interface {
	Hint(v []byte)
	GetPreimage(key [32]byte) ([]byte, error)
}

// StepWitness is the constant-size proof bundle produced by one Step call
// when proof generation is requested.
type StepWitness struct {
	// State is the pre-step witness encoding (§4.4), 226 bytes.
	State []byte
	// StateHash is EncodeWitness's accompanying hash, with the VM status
	// byte already folded into byte 0.
	StateHash common.Hash

	// MemProof is the instruction-fetch proof, followed by the
	// memory-access proof if the step touched a second location.
	MemProof []byte

	PreimageKey    common.Hash
	PreimageValue  []byte
	PreimageOffset uint32
}

// InstrumentedState drives one State through the MIPS32 interpreter,
// producing per-step witnesses and servicing the pre-image protocol.
type InstrumentedState struct {
	state *State

	stdOut io.Writer
	stdErr io.Writer
	log    log.Logger

	preimageOracle PreimageOracle

	// strictSyscalls, when true, makes an unrecognized syscall number
	// return ErrInvalidSyscall instead of the reference's silent v0=0.
	strictSyscalls bool

	// per-step scratch, reset at the top of every Step call.
	memProofEnabled bool
	lastMemAccess   uint32
	memProof        [memory.MemProofSize]byte

	lastPreimage       []byte
	lastPreimageKey    common.Hash
	lastPreimageOffset uint32

	// preimage-client wire state, see §4.3. The hint ack itself is not
	// modeled here: preimageOracle.Hint blocks on it internally.
	keyBuf  []byte
	hintBuf []byte
}

const noMemAccess = ^uint32(0)

func NewInstrumentedState(state *State, oracle PreimageOracle, stdOut, stdErr io.Writer, logger log.Logger) *InstrumentedState {
	if logger == nil {
		logger = log.NewLogger(log.DiscardHandler())
	}
	return &InstrumentedState{
		state:          state,
		stdOut:         stdOut,
		stdErr:         stdErr,
		log:            logger,
		preimageOracle: oracle,
		lastMemAccess:  noMemAccess,
	}
}

func (m *InstrumentedState) GetState() *State { return m.state }

func (m *InstrumentedState) LastPreimage() (key common.Hash, value []byte, offset uint32) {
	return m.lastPreimageKey, m.lastPreimage, m.lastPreimageOffset
}

// trackMemAccess records the proof for a memory address touched by the
// current instruction beyond the instruction fetch itself. Only one such
// address is expected per step.
func (m *InstrumentedState) trackMemAccess(addr uint32) error {
	if m.memProofEnabled && m.lastMemAccess != addr {
		if m.lastMemAccess != noMemAccess {
			return fmt.Errorf("unexpected second memory access at 0x%x, already have access at 0x%x", addr, m.lastMemAccess)
		}
		m.lastMemAccess = addr
		m.memProof = m.state.Memory.MerkleProof(addr)
	}
	return nil
}

// readPreimage returns up to 32 bytes of the (8-byte length prefixed)
// preimage for key, starting at offset, fetching it from the oracle on a
// key change.
func (m *InstrumentedState) readPreimage(key common.Hash, offset uint32) ([32]byte, int, error) {
	if key != m.lastPreimageKey {
		m.lastPreimageKey = key
		data, err := m.preimageOracle.GetPreimage(key)
		if err != nil {
			return [32]byte{}, 0, fmt.Errorf("fetching preimage 0x%x: %w", key, err)
		}
		preimage := make([]byte, 8+len(data))
		binary.BigEndian.PutUint64(preimage[:8], uint64(len(data)))
		copy(preimage[8:], data)
		m.lastPreimage = preimage
	}
	m.lastPreimageOffset = offset

	var out [32]byte
	if int(offset) >= len(m.lastPreimage) {
		return out, 0, nil
	}
	n := copy(out[:], m.lastPreimage[offset:])
	return out, n, nil
}

// Step executes exactly one instruction. If the state has already exited,
// Step is a no-op and returns a nil witness.
func (m *InstrumentedState) Step(proof bool) (*StepWitness, error) {
	if m.state.Exited {
		return nil, nil
	}

	m.memProofEnabled = proof
	m.lastMemAccess = noMemAccess
	m.lastPreimageOffset = noMemAccess

	var witness *StepWitness
	if proof {
		instrProof := m.state.Memory.MerkleProof(m.state.PC)
		encoded, hash := m.state.EncodeWitness()
		witness = &StepWitness{
			State:     encoded,
			StateHash: hash,
			MemProof:  append([]byte{}, instrProof[:]...),
		}
	}

	if err := m.innerStep(); err != nil {
		return nil, err
	}
	m.state.Step++

	if witness != nil {
		if m.lastMemAccess != noMemAccess {
			witness.MemProof = append(witness.MemProof, m.memProof[:]...)
		}
		if m.lastPreimageOffset != noMemAccess {
			witness.PreimageKey = m.lastPreimageKey
			witness.PreimageValue = m.lastPreimage
			witness.PreimageOffset = m.lastPreimageOffset
		}
	}
	return witness, nil
}
