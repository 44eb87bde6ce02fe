package memory

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWordReadWrite(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetMemory(0x1000, 0xDEADBEEF))
	v, err := m.GetMemory(0x1000)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v)

	v, err = m.GetMemory(0x1004)
	require.NoError(t, err)
	require.Equal(t, uint32(0), v)
}

func TestUnalignedAccessRejected(t *testing.T) {
	m := NewMemory()
	require.ErrorIs(t, m.SetMemory(0x1001, 1), ErrUnaligned)
	_, err := m.GetMemory(0x1002)
	require.ErrorIs(t, err, ErrUnaligned)
}

func TestZeroEquivalence(t *testing.T) {
	m := NewMemory()
	require.Equal(t, zeroHashes[MemProofLeafCount-1], m.MerkleRoot())
}

func TestMerkleProofSingleWrite(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetMemory(0x10000, 0xaabbccdd))
	proof := m.MerkleProof(0x10000)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, proof[:4])
	for i := 0; i < MemProofLeafCount-1; i++ {
		start := 32 + i*32
		var got [32]byte
		copy(got[:], proof[start:start+32])
		require.Equalf(t, zeroHashes[i], got, "sibling %d should be the zero hash of that depth", i)
	}
}

// foldProof reconstructs a merkle root from a leaf-containing proof and the
// address the proof was generated for, exactly as the on-chain verifier
// would: it starts from the leaf value at proof[0] and folds in each
// sibling according to the corresponding address bit.
func foldProof(proof [MemProofSize]byte, addr uint32) [32]byte {
	var node [32]byte
	copy(node[:], proof[:32])
	path := addr >> 5
	for i := 1; i < MemProofLeafCount; i++ {
		var sib [32]byte
		copy(sib[:], proof[i*32:(i+1)*32])
		if path&1 != 0 {
			node = HashPair(sib, node)
		} else {
			node = HashPair(node, sib)
		}
		path >>= 1
	}
	return node
}

func TestMerkleProofSoundness(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetMemory(0x10000, 0xaabbccdd))
	require.NoError(t, m.SetMemory(0x80004, 42))
	require.NoError(t, m.SetMemory(0x13370000, 123))

	root := m.MerkleRoot()
	proof := m.MerkleProof(0x80004)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x2a}, proof[4:8])

	got := foldProof(proof, 0x80004)
	require.Equal(t, root, got, "proof must verify against the root")
}

func TestRootDeterminism(t *testing.T) {
	writes := []struct {
		addr uint32
		val  uint32
	}{
		{0x1000, 1}, {0x2004, 2}, {0x1000, 3}, {0x800000, 4},
	}

	m1 := NewMemory()
	for _, w := range writes {
		require.NoError(t, m1.SetMemory(w.addr, w.val))
	}
	root1 := m1.MerkleRoot()

	m2 := NewMemory()
	for _, w := range writes {
		require.NoError(t, m2.SetMemory(w.addr, w.val))
	}
	root2 := m2.MerkleRoot()

	require.Equal(t, root1, root2)
}

func TestSetMemoryRange(t *testing.T) {
	m := NewMemory()
	data := bytes.Repeat([]byte{0x42}, PageSize+16)
	require.NoError(t, m.SetMemoryRange(0xFF8, bytes.NewReader(data)))

	v, err := m.GetMemory(0xFF8)
	require.NoError(t, err)
	require.Equal(t, uint32(0x42424242), v)

	// crosses into the next page
	v, err = m.GetMemory(0x1FF8)
	require.NoError(t, err)
	require.Equal(t, uint32(0x42424242), v)
}

func TestReadMemoryRangeZeroFillsAbsentPages(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetMemory(0x1000, 0xAABBCCDD))
	r := m.ReadMemoryRange(0x0FFC, 12)
	out := make([]byte, 12)
	n, err := io.ReadFull(r, out)
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.Equal(t, []byte{0, 0, 0, 0, 0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 0, 0}, out)
}

func TestJSONRoundTrip(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetMemory(0x2000, 0x11223344))
	require.NoError(t, m.SetMemory(0x400000, 0x55667788))

	dat, err := m.MarshalJSON()
	require.NoError(t, err)

	m2 := NewMemory()
	require.NoError(t, m2.UnmarshalJSON(dat))
	require.Equal(t, m.MerkleRoot(), m2.MerkleRoot())
}

func TestBinarySerializeRoundTrip(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetMemory(0x2000, 0x11223344))
	require.NoError(t, m.SetMemory(0x400000, 0x55667788))

	var buf bytes.Buffer
	require.NoError(t, m.Serialize(&buf))

	m2 := NewMemory()
	require.NoError(t, m2.Deserialize(&buf))
	require.Equal(t, m.MerkleRoot(), m2.MerkleRoot())
}
