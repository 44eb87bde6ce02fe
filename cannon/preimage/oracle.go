// Package preimage bridges the interpreter's PreimageOracle interface to
// the wire-level hint/preimage protocol served by an external oracle
// process, over the file-descriptor pairs described by the emulator's
// syscall surface.
package preimage

import (
	"fmt"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

// ErrOracleTransportFailure wraps an I/O failure on the preimage channel,
// as returned by Adapter.GetPreimage. Adapter.Hint has no error return; a
// failure on the hint channel panics inside op-preimage's HintWriter.
var ErrOracleTransportFailure = fmt.Errorf("oracle transport failure")

// rawKey adapts a plain 32-byte key to preimage.Key without asserting
// anything about its type byte; the emulator only ever routes keys
// through, it never derives semantics from them.
type rawKey [32]byte

func (k rawKey) PreimageKey() [32]byte { return k }

// rawHint carries an already-encoded hint payload through the
// preimage.Hint interface, which normally expects a structured hint value
// that knows how to render itself; the interpreter only ever has the raw
// bytes the guest wrote, so it renders itself verbatim.
type rawHint []byte

func (h rawHint) Hint() string { return string(h) }

// Adapter satisfies singlethreaded.PreimageOracle over a pair of
// op-preimage clients, one per channel.
type Adapter struct {
	pCl *preimage.OracleClient
	hCl *preimage.HintWriter
}

var _ singlethreaded.PreimageOracle = (*Adapter)(nil)

// NewAdapter wraps already-connected preimage and hint channels. rw pairs
// are typically the client end of a preimage.CreateBidirectionalChannel
// pair, or preimage.ClientPreimageChannel()/ClientHinterChannel() when this
// process is itself the forked guest side.
func NewAdapter(preimageRW, hintRW preimage.FileChannel) *Adapter {
	return &Adapter{
		pCl: preimage.NewOracleClient(preimageRW),
		hCl: preimage.NewHintWriter(hintRW),
	}
}

func (a *Adapter) GetPreimage(key [32]byte) (dat []byte, err error) {
	// op-preimage's OracleClient panics on channel I/O errors.
	defer func() {
		if r := recover(); r != nil {
			dat, err = nil, fmt.Errorf("%w: %v", ErrOracleTransportFailure, r)
		}
	}()
	return a.pCl.Get(rawKey(key)), nil
}

func (a *Adapter) Hint(v []byte) {
	a.hCl.Hint(rawHint(v))
}

// ChannelPair is one bidirectional pipe: the local end handed to an
// in-process Adapter, and the remote end handed to a forked subprocess via
// os/exec.Cmd.ExtraFiles.
type ChannelPair struct {
	Client preimage.FileChannel
	Host   preimage.FileChannel
}

// Close closes both ends of the pair.
func (p *ChannelPair) Close() error {
	if err := p.Client.Close(); err != nil {
		return err
	}
	return p.Host.Close()
}

// Channels holds the hint and preimage pipe pairs needed to run an oracle
// server as a subprocess of the CLI driver.
type Channels struct {
	Hint     ChannelPair
	Preimage ChannelPair
}

// CreateBidirectionalChannels allocates the two os.Pipe-backed channel
// pairs the hint and preimage protocols need, mirroring the reference
// CLI's ProcessPreimageOracle setup.
func CreateBidirectionalChannels() (*Channels, error) {
	hClient, hHost, err := preimage.CreateBidirectionalChannel()
	if err != nil {
		return nil, fmt.Errorf("allocating hint channel: %w", err)
	}
	pClient, pHost, err := preimage.CreateBidirectionalChannel()
	if err != nil {
		return nil, fmt.Errorf("allocating preimage channel: %w", err)
	}
	return &Channels{
		Hint:     ChannelPair{Client: hClient, Host: hHost},
		Preimage: ChannelPair{Client: pClient, Host: pHost},
	}, nil
}

// NewLocalAdapter builds an Adapter over the client ends of a Channels,
// for use by an interpreter running in the same process as the pipes'
// creator (as opposed to a forked subprocess using ClientPreimageChannel).
func NewLocalAdapter(ch *Channels) *Adapter {
	return NewAdapter(ch.Preimage.Client, ch.Hint.Client)
}
