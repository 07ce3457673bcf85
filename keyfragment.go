// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "encoding/binary"

// A KeyFragment is a bit-granular, big-endian ordered sequence of bits.
// Numeric keys are byte-swapped to big-endian before being wrapped so
// that numeric order matches trie order, mirroring the
// network-byte-order convention lldb's handle encoding uses throughout
// (h2b/b2h in falloc.go).
//
// KeyFragment is a plain Go value while being built/matched/walked;
// AllocRepr/LoadRepr/DeallocRepr/CopyRepr are the only operations that
// touch a Region, materializing it as either an inline byte run (stored
// directly in the owning node's encoding) or a chain of 64-byte
// node-allocator slots for fragments too long to inline (the "heap"
// representation).
type KeyFragment struct {
	nbits int
	data  []byte // ceil(nbits/8) bytes, MSB-first, unused trailing bits zero
}

// maxInlineBits is the largest fragment stored inline in a node's own
// encoding: up to 4 64-bit words, 4*64=256 bits.
const maxInlineBits = 256

// heapChunkSize is the node-allocator slot size used for heap key
// fragment chunks.
const heapChunkSize = 64
const heapChunkPayload = heapChunkSize - 8 // 8 bytes reserved for the next-chunk offset

// KeyFromUint64 returns a KeyFragment of nbits bits (<=64) holding the low
// nbits bits of v in big-endian numeric order.
func KeyFromUint64(v uint64, nbits int) KeyFragment {
	if nbits < 0 || nbits > 64 {
		panic("mmtrie: invalid KeyFragment bit length")
	}
	v <<= uint(64 - nbits)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	nbytes := (nbits + 7) / 8
	kf := KeyFragment{nbits: nbits, data: append([]byte(nil), b[:nbytes]...)}
	kf.maskTail()
	return kf
}

// KeyFromBytes returns a KeyFragment of exactly len(b)*8 bits.
func KeyFromBytes(b []byte) KeyFragment {
	return KeyFragment{nbits: len(b) * 8, data: append([]byte(nil), b...)}
}

// Len reports the fragment's length in bits.
func (kf KeyFragment) Len() int { return kf.nbits }

func (kf *KeyFragment) maskTail() {
	if kf.nbits%8 == 0 {
		return
	}
	last := len(kf.data) - 1
	if last < 0 {
		return
	}
	keep := uint(kf.nbits % 8)
	kf.data[last] &= ^byte(0) << (8 - keep)
}

// bitAt returns bit i (0 = most significant bit of the fragment).
func (kf KeyFragment) bitAt(i int) int {
	byt := kf.data[i/8]
	return int((byt >> uint(7-i%8)) & 1)
}

func (kf *KeyFragment) setBit(i int, v int) {
	mask := byte(1) << uint(7-i%8)
	if v != 0 {
		kf.data[i/8] |= mask
	} else {
		kf.data[i/8] &^= mask
	}
}

// GetBits returns n bits (n<=64) starting at startBit, right-aligned in
// the result.
func (kf KeyFragment) GetBits(n, startBit int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<1 | uint64(kf.bitAt(startBit+i))
	}
	return v
}

// GetKey returns the whole fragment as a right-aligned uint64; the
// fragment must be <=64 bits.
func (kf KeyFragment) GetKey() uint64 {
	if kf.nbits > 64 {
		panic("mmtrie: GetKey: fragment longer than 64 bits")
	}
	return kf.GetBits(kf.nbits, 0)
}

// Prefix returns the first n bits.
func (kf KeyFragment) Prefix(n int) KeyFragment {
	if n > kf.nbits {
		n = kf.nbits
	}
	nbytes := (n + 7) / 8
	out := KeyFragment{nbits: n, data: append([]byte(nil), kf.data[:nbytes]...)}
	out.maskTail()
	return out
}

// Suffix returns the last n bits.
func (kf KeyFragment) Suffix(n int) KeyFragment {
	if n > kf.nbits {
		n = kf.nbits
	}
	return kf.sub(kf.nbits-n, n)
}

func (kf KeyFragment) sub(start, n int) KeyFragment {
	out := KeyFragment{nbits: n, data: make([]byte, (n+7)/8)}
	for i := 0; i < n; i++ {
		out.setBit(i, kf.bitAt(start+i))
	}
	out.maskTail()
	return out
}

// CommonPrefixLen returns the number of leading bits shared with other.
func (kf KeyFragment) CommonPrefixLen(other KeyFragment) int {
	n := kf.nbits
	if other.nbits < n {
		n = other.nbits
	}
	i := 0
	for ; i < n; i++ {
		if kf.bitAt(i) != other.bitAt(i) {
			break
		}
	}
	return i
}

// CommonPrefix returns the shared leading bits of kf and other.
func (kf KeyFragment) CommonPrefix(other KeyFragment) KeyFragment {
	return kf.Prefix(kf.CommonPrefixLen(other))
}

// Append returns kf with other's bits appended.
func (kf KeyFragment) Append(other KeyFragment) KeyFragment {
	out := KeyFragment{nbits: kf.nbits + other.nbits, data: make([]byte, (kf.nbits+other.nbits+7)/8)}
	for i := 0; i < kf.nbits; i++ {
		out.setBit(i, kf.bitAt(i))
	}
	for i := 0; i < other.nbits; i++ {
		out.setBit(kf.nbits+i, other.bitAt(i))
	}
	out.maskTail()
	return out
}

// Consume strips prefix from the front of kf if it matches, reporting
// whether it did.
func (kf *KeyFragment) Consume(prefix KeyFragment) bool {
	if kf.nbits < prefix.nbits {
		return false
	}
	if kf.CommonPrefixLen(prefix) != prefix.nbits {
		return false
	}
	*kf = kf.sub(prefix.nbits, kf.nbits-prefix.nbits)
	return true
}

// RemoveBits removes and returns the leftmost n bits (n<=64).
func (kf *KeyFragment) RemoveBits(n int) uint64 {
	v := kf.GetBits(n, 0)
	*kf = kf.sub(n, kf.nbits-n)
	return v
}

// PushFront prepends n bits of v (right-aligned in v) to kf.
func (kf *KeyFragment) PushFront(v uint64, n int) {
	*kf = KeyFromUint64(v, n).Append(*kf)
}

// PopFront removes and returns the leftmost n bits; alias of RemoveBits
// kept for naming parity with PushFront.
func (kf *KeyFragment) PopFront(n int) uint64 { return kf.RemoveBits(n) }

// Equal reports whether kf and other are bit-for-bit identical.
func (kf KeyFragment) Equal(other KeyFragment) bool {
	return kf.nbits == other.nbits && kf.CommonPrefixLen(other) == kf.nbits
}

// --- on-region representation -------------------------------------------------

// KeyFragmentRepr is the on-disk form of a KeyFragment: either inline
// (the bytes are copied directly into the caller-provided buffer) or a
// pointer to a chain of heap chunks.
type KeyFragmentRepr struct {
	nbits  int
	inline []byte // non-nil for the inline case
	offset int64  // first heap chunk, for the heap case
}

func (r KeyFragmentRepr) isHeap() bool { return r.inline == nil }

// AllocRepr materializes kf for storage inside a node, allocating heap
// chunks via na if it does not fit inline.
func AllocRepr(na *NodeAllocator, kf KeyFragment) (KeyFragmentRepr, error) {
	if kf.nbits <= maxInlineBits {
		return KeyFragmentRepr{nbits: kf.nbits, inline: append([]byte(nil), kf.data...)}, nil
	}
	var first, prev int64 = -1, -1
	remaining := append([]byte(nil), kf.data...)
	for len(remaining) > 0 {
		off, err := na.Allocate(heapChunkSize)
		if err != nil {
			return KeyFragmentRepr{}, err
		}
		n := len(remaining)
		if n > heapChunkPayload {
			n = heapChunkPayload
		}
		err = na.region.Pinned(func(mem []byte) error {
			if off+heapChunkSize > int64(len(mem)) {
				return &ErrRegionResize{MinSize: off + heapChunkSize}
			}
			binary.LittleEndian.PutUint64(mem[off:], uint64(0)) // next=0 terminator, patched below
			copy(mem[off+8:off+8+int64(n)], remaining[:n])
			return nil
		})
		if err != nil {
			return KeyFragmentRepr{}, err
		}
		if first < 0 {
			first = off
		}
		if prev >= 0 {
			na.region.Pinned(func(mem []byte) error {
				binary.LittleEndian.PutUint64(mem[prev:], uint64(off))
				return nil
			})
		}
		prev = off
		remaining = remaining[n:]
	}
	return KeyFragmentRepr{nbits: kf.nbits, offset: first}, nil
}

// LoadRepr reconstructs a KeyFragment from its on-region representation.
func LoadRepr(na *NodeAllocator, r KeyFragmentRepr) (kf KeyFragment, err error) {
	if !r.isHeap() {
		return KeyFragment{nbits: r.nbits, data: append([]byte(nil), r.inline...)}, nil
	}
	need := (r.nbits + 7) / 8
	out := make([]byte, 0, need)
	off := r.offset
	for off != 0 && len(out) < need {
		var next int64
		err = na.region.Pinned(func(mem []byte) error {
			if off+heapChunkSize > int64(len(mem)) {
				return &ErrRegionResize{MinSize: off + heapChunkSize}
			}
			next = int64(binary.LittleEndian.Uint64(mem[off:]))
			take := need - len(out)
			if take > heapChunkPayload {
				take = heapChunkPayload
			}
			out = append(out, mem[off+8:off+8+int64(take)]...)
			return nil
		})
		if err != nil {
			return KeyFragment{}, err
		}
		off = next
	}
	kf = KeyFragment{nbits: r.nbits, data: out}
	kf.maskTail()
	return kf, nil
}

// DeallocRepr releases a heap representation's chunk chain; a no-op for
// inline representations.
func DeallocRepr(na *NodeAllocator, r KeyFragmentRepr) error {
	if !r.isHeap() {
		return nil
	}
	off := r.offset
	for off != 0 {
		var next int64
		err := na.region.Pinned(func(mem []byte) error {
			next = int64(binary.LittleEndian.Uint64(mem[off:]))
			return nil
		})
		if err != nil {
			return err
		}
		if err := na.Deallocate(off, heapChunkSize); err != nil {
			return err
		}
		off = next
	}
	return nil
}

// CopyRepr deep-copies a representation so that the copy can be mutated
// or deallocated independently of the original: every KeyFragmentRepr
// owns its own storage.
func CopyRepr(na *NodeAllocator, r KeyFragmentRepr) (KeyFragmentRepr, error) {
	kf, err := LoadRepr(na, r)
	if err != nil {
		return KeyFragmentRepr{}, err
	}
	return AllocRepr(na, kf)
}
