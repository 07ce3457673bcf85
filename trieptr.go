// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// NodeType tags the eight trie node variants.
type NodeType byte

const (
	NodeNull NodeType = iota
	NodeInline
	NodeBasicKeyedTerminal
	NodeSparse
	NodeCompressed
	NodeLargeKey
	NodeBinary
	NodeDenseBranch
	numNodeTypes
)

func (t NodeType) String() string {
	switch t {
	case NodeNull:
		return "Null"
	case NodeInline:
		return "Inline"
	case NodeBasicKeyedTerminal:
		return "BasicKeyedTerminal"
	case NodeSparse:
		return "Sparse"
	case NodeCompressed:
		return "Compressed"
	case NodeLargeKey:
		return "LargeKey"
	case NodeBinary:
		return "Binary"
	case NodeDenseBranch:
		return "DenseBranch"
	default:
		return "Unknown"
	}
}

// A TriePtr is a 64-bit tagged pointer: one state bit (copy-on-write
// vs. in-place mutable) and a 4-bit type tag
// selecting which of the eight node variants to interpret the pointee
// as occupy the top 5 bits, leaving the low 59 bits for a region byte
// offset. Keeping the tag in the high bits (rather than stealing an
// aligned pointer's low bits, as a native-pointer tagged union would)
// means offsets need no alignment discipline, since StringAllocator
// hands back arbitrary byte offsets.
type TriePtr uint64

const (
	tptrOffsetBits = 59
	tptrOffsetMask = (uint64(1) << tptrOffsetBits) - 1
	tptrStateBits  = 1
)

// NullTriePtr is the zero value: state=CopyOnWrite, type=NodeNull, offset=0.
const NullTriePtr TriePtr = 0

// NewTriePtr packs a pointer to a node of type typ at offset off.
func NewTriePtr(inPlace bool, typ NodeType, off int64) TriePtr {
	if uint64(off)&^tptrOffsetMask != 0 {
		panic("mmtrie: TriePtr offset out of range")
	}
	v := uint64(off) & tptrOffsetMask
	v |= uint64(typ&0xf) << tptrOffsetBits
	if inPlace {
		v |= 1 << (tptrOffsetBits + 4)
	}
	return TriePtr(v)
}

// InPlace reports whether the pointee is currently mutable in place
// within the writer's transaction (state bit set), as opposed to
// requiring copy-on-write before modification.
func (p TriePtr) InPlace() bool { return uint64(p)>>(tptrOffsetBits+4)&1 != 0 }

// Type returns the node variant tag.
func (p TriePtr) Type() NodeType { return NodeType((uint64(p) >> tptrOffsetBits) & 0xf) }

// Offset returns the region byte offset of the pointee.
func (p TriePtr) Offset() int64 { return int64(uint64(p) & tptrOffsetMask) }

// IsNull reports whether p is the empty/absent pointer.
func (p TriePtr) IsNull() bool { return p.Type() == NodeNull }

// WithInPlace returns a copy of p with the state bit set/cleared,
// leaving type and offset unchanged (used when a writer claims
// exclusive in-place mutation rights on a freshly copied node).
func (p TriePtr) WithInPlace(v bool) TriePtr {
	bit := uint64(1) << (tptrOffsetBits + 4)
	u := uint64(p) &^ bit
	if v {
		u |= bit
	}
	return TriePtr(u)
}

// NodeInline packs an entire leaf entry directly into the 59 bits a
// TriePtr otherwise spends on a region offset, so a one-entry subtrie
// with a short key and a narrow value costs zero allocation: no node
// buffer, no string-allocator slot, nothing to free later. The 59 bits
// split as keyLen:7 | valueBits:6 | key<<valueBits | value, mirroring
// how NewTriePtr already packs type/state above the offset field.
const (
	inlineKeyLenBits   = 7
	inlineValueLenBits = 6
	inlineDataBits     = tptrOffsetBits - inlineKeyLenBits - inlineValueLenBits
)

// bitLen64 returns the number of bits needed to right-align v, 0 for v==0.
func bitLen64(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}

// NewInlineTriePtr attempts to pack a keyLen-bit key and value into a
// TriePtr. It reports false when the pair does not fit, in which case
// the caller must fall back to a real allocated node.
func NewInlineTriePtr(inPlace bool, keyLen int, key, value uint64) (TriePtr, bool) {
	if keyLen < 0 || keyLen > (1<<inlineKeyLenBits)-1 {
		return 0, false
	}
	valueBits := bitLen64(value)
	if valueBits > (1<<inlineValueLenBits)-1 {
		return 0, false
	}
	if keyLen+valueBits > inlineDataBits {
		return 0, false
	}
	data := (key << uint(valueBits)) | value
	v := uint64(keyLen) << uint(inlineDataBits+inlineValueLenBits)
	v |= uint64(valueBits) << uint(inlineDataBits)
	v |= data
	v |= uint64(NodeInline&0xf) << tptrOffsetBits
	if inPlace {
		v |= 1 << (tptrOffsetBits + 4)
	}
	return TriePtr(v), true
}

// InlineKeyLen returns the packed key's bit length; p must be NodeInline.
func (p TriePtr) InlineKeyLen() int {
	return int(uint64(p) >> uint(inlineDataBits+inlineValueLenBits))
}

// inlineValueBits returns the packed value's bit width; p must be NodeInline.
func (p TriePtr) inlineValueBits() int {
	return int((uint64(p) >> uint(inlineDataBits)) & ((1 << inlineValueLenBits) - 1))
}

// InlineKeyAndValue unpacks the key and value carried directly inside
// p's bits; p must be NodeInline.
func (p TriePtr) InlineKeyAndValue() (key, value uint64) {
	data := uint64(p) & ((uint64(1) << uint(inlineDataBits)) - 1)
	vb := uint(p.inlineValueBits())
	mask := (uint64(1) << vb) - 1
	value = data & mask
	key = data >> vb
	return key, value
}
