package memory

import (
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

var hasherPool = sync.Pool{
	New: func() any {
		return crypto.NewKeccakState()
	},
}

func getHasher() crypto.KeccakState {
	return hasherPool.Get().(crypto.KeccakState)
}

func putHasher(h crypto.KeccakState) {
	h.Reset()
	hasherPool.Put(h)
}

// HashPair returns keccak256(left || right).
func HashPair(left, right [32]byte) [32]byte {
	h := getHasher()
	defer putHasher(h)
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	_, _ = h.Read(out[:])
	return out
}

// zeroHashes[i] is the root of an all-zero subtree of depth i (i.e. 2^i
// leaves of 32 zero bytes each). zeroHashes[0] is a single zero leaf.
var zeroHashes = func() [256][32]byte {
	var out [256][32]byte
	for i := 1; i < 256; i++ {
		out[i] = HashPair(out[i-1], out[i-1])
	}
	return out
}()

// ZeroHashes exposes the precomputed zero-subtree hash table, indexed by
// subtree depth (number of levels below the node).
func ZeroHashes() *[256][32]byte {
	return &zeroHashes
}
