// Package memory implements the paged, Merkleized 32-bit address space
// shared by the interpreter and the on-chain verifier: a sparse
// generalized-index tree over 2^20 pages of 4096 bytes each, with an
// inner 128-leaf tree cached per page.
package memory

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/bits"
	"sort"
)

const (
	// WordSize is the address width, in bits, of this architecture.
	WordSize = 32
	// MemProofLeafCount is the number of 32-byte entries in a memory proof:
	// the addressed leaf itself, followed by one sibling per tree level up
	// to (but not including) the root.
	MemProofLeafCount = WordSize - 4
	// MemProofSize is the encoded byte length of a memory proof.
	MemProofSize = MemProofLeafCount * 32
)

var ErrUnaligned = fmt.Errorf("memory access must be word-aligned")

// Memory is a sparse, Merkleized, word-addressable 32-bit byte space.
// Pages are allocated lazily on first write and are never freed.
type Memory struct {
	// generalized index -> cached hash, or an explicit nil for "invalidated,
	// needs recompute". Absent from the map entirely means no page below
	// the node has been written, so the node is the zero-subtree hash for
	// its depth.
	nodes map[uint64]*[32]byte

	pages map[uint32]*CachedPage

	// small direct-mapped cache of the last two pages looked up, since
	// instruction fetch and the following data access usually land in the
	// same or adjacent page.
	lastPageKeys [2]uint32
	lastPage     [2]*CachedPage
}

func NewMemory() *Memory {
	return &Memory{
		nodes:        make(map[uint64]*[32]byte),
		pages:        make(map[uint32]*CachedPage),
		lastPageKeys: [2]uint32{^uint32(0), ^uint32(0)},
	}
}

func (m *Memory) PageCount() int {
	return len(m.pages)
}

func (m *Memory) ForEachPage(fn func(pageIndex uint32, page *CachedPage) error) error {
	for pageIndex, page := range m.pages {
		if err := fn(pageIndex, page); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) pageLookup(pageIndex uint32) (*CachedPage, bool) {
	if pageIndex == m.lastPageKeys[0] {
		return m.lastPage[0], true
	}
	if pageIndex == m.lastPageKeys[1] {
		return m.lastPage[1], true
	}
	p, ok := m.pages[pageIndex]
	if ok {
		m.lastPageKeys[1] = m.lastPageKeys[0]
		m.lastPage[1] = m.lastPage[0]
		m.lastPageKeys[0] = pageIndex
		m.lastPage[0] = p
	}
	return p, ok
}

func (m *Memory) allocPage(pageIndex uint32) *CachedPage {
	p := &CachedPage{}
	m.pages[pageIndex] = p
	m.lastPageKeys[0] = pageIndex
	m.lastPage[0] = p
	m.invalidatePage(pageIndex)
	return p
}

// invalidatePage drops every cached ancestor of a page's root, from the
// page's own gindex up to the tree root.
func (m *Memory) invalidatePage(pageIndex uint32) {
	k := (uint64(1) << PageKeySize) | uint64(pageIndex)
	for k > 0 {
		m.nodes[k] = nil
		k >>= 1
	}
}

// invalidate drops the cached ancestors of the 32-byte leaf containing addr,
// including the in-page cache for that leaf.
func (m *Memory) invalidate(addr uint32) {
	pageIndex := addr >> PageAddrSize
	if p, ok := m.pageLookup(pageIndex); ok {
		p.Invalidate(addr & PageAddrMask)
	}
	m.invalidatePage(pageIndex)
}

func (m *Memory) SetMemory(addr uint32, v uint32) error {
	if addr&0x3 != 0 {
		return fmt.Errorf("write to address 0x%x: %w", addr, ErrUnaligned)
	}
	pageIndex := addr >> PageAddrSize
	pageAddr := addr & PageAddrMask
	p, ok := m.pageLookup(pageIndex)
	if !ok {
		p = m.allocPage(pageIndex)
	}
	binary.BigEndian.PutUint32(p.Data[pageAddr:pageAddr+4], v)
	p.Invalidate(pageAddr)
	m.invalidatePage(pageIndex)
	return nil
}

func (m *Memory) GetMemory(addr uint32) (uint32, error) {
	if addr&0x3 != 0 {
		return 0, fmt.Errorf("read from address 0x%x: %w", addr, ErrUnaligned)
	}
	pageIndex := addr >> PageAddrSize
	pageAddr := addr & PageAddrMask
	p, ok := m.pageLookup(pageIndex)
	if !ok {
		return 0, nil
	}
	return binary.BigEndian.Uint32(p.Data[pageAddr : pageAddr+4]), nil
}

// SetMemoryRange writes bytes from r into memory starting at addr, which
// need not be aligned. It proceeds page at a time.
func (m *Memory) SetMemoryRange(addr uint32, r io.Reader) error {
	for {
		pageIndex := addr >> PageAddrSize
		pageAddr := addr & PageAddrMask
		p, ok := m.pageLookup(pageIndex)
		if !ok {
			p = m.allocPage(pageIndex)
		}
		n, err := r.Read(p.Data[pageAddr:])
		if n > 0 {
			p.InvalidateFull()
			m.invalidatePage(pageIndex)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		addr += uint32(n)
	}
}

// memReader lazily reads a byte range out of a Memory, yielding zero bytes
// for any address that falls in an unallocated page.
type memReader struct {
	m      *Memory
	addr   uint32
	length uint32
}

func (r *memReader) Read(dest []byte) (int, error) {
	if r.length == 0 {
		return 0, io.EOF
	}
	pageIndex := r.addr >> PageAddrSize
	pageAddr := r.addr & PageAddrMask
	n := uint32(PageSize) - pageAddr // bytes remaining in this page
	if uint32(len(dest)) < n {
		n = uint32(len(dest))
	}
	if n > r.length {
		n = r.length
	}
	if p, ok := r.m.pageLookup(pageIndex); ok {
		copy(dest[:n], p.Data[pageAddr:pageAddr+n])
	} else {
		for i := uint32(0); i < n; i++ {
			dest[i] = 0
		}
	}
	r.addr += n
	r.length -= n
	return int(n), nil
}

func (m *Memory) ReadMemoryRange(addr, length uint32) io.Reader {
	return &memReader{m: m, addr: addr, length: length}
}

// ReadBytes is a convenience wrapper for callers, such as the stdout/stderr
// syscall path, that just want length bytes starting at addr as a slice.
func (m *Memory) ReadBytes(addr, length uint32) []byte {
	out := make([]byte, length)
	_, _ = io.ReadFull(m.ReadMemoryRange(addr, length), out)
	return out
}

// MerkleizeSubtree returns the hash rooted at gindex, delegating into the
// owning page's own tree once the gindex is deep enough to identify a
// single page.
func (m *Memory) MerkleizeSubtree(gindex uint64) [32]byte {
	l := uint64(bits.Len64(gindex))
	if l > MemProofLeafCount {
		panic("gindex too deep")
	}
	if l > PageKeySize {
		depthIntoPage := l - 1 - PageKeySize
		pageIndex := (gindex >> depthIntoPage) & PageKeyMask
		if p, ok := m.pageLookup(uint32(pageIndex)); ok {
			pageGindex := (uint64(1) << depthIntoPage) | (gindex & ((uint64(1) << depthIntoPage) - 1))
			return p.MerkleizeSubtree(pageGindex)
		}
		return zeroHashes[MemProofLeafCount-l]
	}
	n, ok := m.nodes[gindex]
	if !ok {
		return zeroHashes[MemProofLeafCount-l]
	}
	if n != nil {
		return *n
	}
	left := m.MerkleizeSubtree(gindex << 1)
	right := m.MerkleizeSubtree(gindex<<1 | 1)
	r := HashPair(left, right)
	m.nodes[gindex] = &r
	return r
}

func (m *Memory) MerkleRoot() [32]byte {
	return m.MerkleizeSubtree(1)
}

func (m *Memory) traverseBranch(parent uint64, addr uint32, depth uint8) [][32]byte {
	if depth == WordSize-5 {
		return [][32]byte{m.MerkleizeSubtree(parent)}
	}
	if depth > WordSize-5 {
		panic("traversed too deep")
	}
	self := parent << 1
	sibling := self | 1
	if addr&(1<<(WordSize-1-depth)) != 0 {
		self, sibling = sibling, self
	}
	proof := m.traverseBranch(self, addr, depth+1)
	return append(proof, m.MerkleizeSubtree(sibling))
}

func (m *Memory) MerkleProof(addr uint32) [MemProofSize]byte {
	proof := m.traverseBranch(1, addr, 0)
	var out [MemProofSize]byte
	for i := 0; i < MemProofLeafCount; i++ {
		copy(out[i*32:(i+1)*32], proof[i][:])
	}
	return out
}

// Serialize writes a compact binary snapshot: page count followed by
// (index uint32, 4096 raw bytes) pairs sorted by index.
func (m *Memory) Serialize(w io.Writer) error {
	indices := make([]uint32, 0, len(m.pages))
	for idx := range m.pages {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	if err := binary.Write(w, binary.BigEndian, uint32(len(indices))); err != nil {
		return err
	}
	for _, idx := range indices {
		if err := binary.Write(w, binary.BigEndian, idx); err != nil {
			return err
		}
		if _, err := w.Write(m.pages[idx].Data[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Deserialize(r io.Reader) error {
	m.nodes = make(map[uint64]*[32]byte)
	m.pages = make(map[uint32]*CachedPage)
	m.lastPageKeys = [2]uint32{^uint32(0), ^uint32(0)}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var idx uint32
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return err
		}
		p := &CachedPage{}
		if _, err := io.ReadFull(r, p.Data[:]); err != nil {
			return err
		}
		m.pages[idx] = p
		m.invalidatePage(idx)
	}
	return nil
}

func (m *Memory) MarshalJSON() ([]byte, error) {
	indices := make([]uint32, 0, len(m.pages))
	for idx := range m.pages {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, idx := range indices {
		if i > 0 {
			buf.WriteByte(',')
		}
		entry, err := marshalPageJSON(idx, m.pages[idx].Data[:])
		if err != nil {
			return nil, err
		}
		buf.Write(entry)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (m *Memory) UnmarshalJSON(dat []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(dat, &raw); err != nil {
		return err
	}
	m.nodes = make(map[uint64]*[32]byte)
	m.pages = make(map[uint32]*CachedPage)
	m.lastPageKeys = [2]uint32{^uint32(0), ^uint32(0)}
	for _, r := range raw {
		idx, data, err := unmarshalPageJSON(r)
		if err != nil {
			return err
		}
		p := &CachedPage{}
		copy(p.Data[:], data)
		m.pages[idx] = p
		m.invalidatePage(idx)
	}
	return nil
}
