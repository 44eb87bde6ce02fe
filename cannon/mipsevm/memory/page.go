package memory

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// PageAddrSize is the number of bits of a byte address that fall within a page.
	PageAddrSize = 12
	// PageKeySize is the number of bits of a byte address that select a page.
	PageKeySize = 32 - PageAddrSize
	// PageSize is the number of bytes in a page.
	PageSize = 1 << PageAddrSize
	// PageAddrMask masks the in-page byte offset out of a full address.
	PageAddrMask = PageSize - 1
	// MaxPageCount is the number of pages needed to cover the full 32-bit address space.
	MaxPageCount = 1 << PageKeySize
	// PageKeyMask masks the page index out of a page-index-shifted address.
	PageKeyMask = MaxPageCount - 1
)

// Page is the raw 4096-byte content of a page. This is a plain byte array:
// JSON encoding is the caller's responsibility, kept separate from
// CachedPage so the wire format (plain base64, see marshalPageJSON and
// pageEntry below) never depends on how the in-memory Merkle cache
// happens to be laid out.
type Page [PageSize]byte

// CachedPage is a page of memory plus a lazily-computed cache of the
// 128-leaf, depth-7 Merkle tree over its 4096 bytes (leaves are 32 bytes;
// 4096/32 = 128 = 2^7).
type CachedPage struct {
	Data Page
	// Cache is a 1-indexed binary heap over the page's internal Merkle tree.
	// Indices 64..127 hold the hash of each 64-byte (2-leaf) chunk of Data;
	// indices 1..63 hold the hash of their children. Index 1 is the page root.
	Cache [PageSize / 32][32]byte
	// OkLow/OkHigh together form a 128-bit valid mask over Cache, one bit
	// per index (indices 0..63 in OkLow, 64..127 in OkHigh).
	OkLow, OkHigh uint64
}

func getLowHighMask(k uint64) (lowMask, highMask uint64) {
	mask := uint64(1) << (k & 63)
	isHigh := k >> 6
	return mask * (1 - isHigh), mask * isHigh
}

func (p *CachedPage) getBit(k uint64) bool {
	lowMask, highMask := getLowHighMask(k)
	return (p.OkLow&lowMask | p.OkHigh&highMask) != 0
}

func (p *CachedPage) setBit(k uint64) {
	lowMask, highMask := getLowHighMask(k)
	p.OkLow |= lowMask
	p.OkHigh |= highMask
}

// Invalidate marks stale every cached node whose subtree covers pageAddr.
func (p *CachedPage) Invalidate(pageAddr uint32) {
	if pageAddr >= PageSize {
		panic("invalid page addr")
	}
	k := uint64(PageSize|pageAddr) >> 5
	for k > 0 {
		lowMask, highMask := getLowHighMask(k)
		p.OkLow &^= lowMask
		p.OkHigh &^= highMask
		k >>= 1
	}
}

// InvalidateFull marks every cached node stale, e.g. after a bulk write.
func (p *CachedPage) InvalidateFull() {
	p.OkLow = 0
	p.OkHigh = 0
}

// MerkleRoot returns the page's root hash, recomputing any stale cache entries.
func (p *CachedPage) MerkleRoot() [32]byte {
	for i := uint64(0); i < PageSize; i += 64 {
		j := PageSize/32/2 + i/64
		if p.getBit(j) {
			continue
		}
		p.Cache[j] = HashData(p.Data[i : i+64])
		p.setBit(j)
	}
	for i := uint64(PageSize/32 - 2); i > 0; i -= 2 {
		j := i >> 1
		if p.getBit(j) {
			continue
		}
		p.Cache[j] = HashPair(p.Cache[i], p.Cache[i+1])
		p.setBit(j)
	}
	return p.Cache[1]
}

// MerkleizeSubtree returns the hash at gindex within this page's own
// 128-leaf subtree, where gindex 1 is the page root and gindex in
// [128, 256) addresses a raw 32-byte leaf.
func (p *CachedPage) MerkleizeSubtree(gindex uint64) [32]byte {
	_ = p.MerkleRoot()
	if gindex >= PageSize/32 {
		if gindex >= (PageSize/32)*2 {
			panic("gindex too deep for page")
		}
		leafIndex := gindex & ((PageSize / 32) - 1)
		var out [32]byte
		copy(out[:], p.Data[leafIndex*32:leafIndex*32+32])
		return out
	}
	return p.Cache[gindex]
}

// pageEntry is the JSON wire shape for one present page in a Memory
// snapshot. Data is plain base64 of the raw page bytes: the on-disk
// snapshot format is an external interchange format, so it must not
// vary with whatever compression a given build happens to link in.
type pageEntry struct {
	Index uint32 `json:"index"`
	Data  string `json:"data"`
}

func marshalPageJSON(index uint32, data []byte) ([]byte, error) {
	return json.Marshal(pageEntry{
		Index: index,
		Data:  base64.StdEncoding.EncodeToString(data),
	})
}

func unmarshalPageJSON(raw json.RawMessage) (uint32, []byte, error) {
	var e pageEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return 0, nil, err
	}
	dat, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return 0, nil, fmt.Errorf("decoding page %d data: %w", e.Index, err)
	}
	if len(dat) != PageSize {
		return 0, nil, fmt.Errorf("page %d: expected %d bytes, got %d", e.Index, PageSize, len(dat))
	}
	return e.Index, dat, nil
}

// HashData is a small helper distinguishing "hash raw bytes" (used at the
// bottom of a page's tree, where two 32-byte leaves are hashed together as
// one 64-byte buffer) from HashPair's [32]byte-typed inputs.
func HashData(data []byte) [32]byte {
	h := getHasher()
	defer putHasher(h)
	h.Write(data)
	var out [32]byte
	_, _ = h.Read(out[:])
	return out
}
