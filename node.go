// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "encoding/binary"

// NodeStore is the shared backing for all eight trie node variants.
// Rather than giving each variant its own allocator
// plumbing, every node is serialized to a flat byte slice and handed to
// the StringAllocator, which already picks the node allocator for small
// encodings and the page allocator for large ones — the
// same "one generic alloc/free call, size class chosen internally"
// shape as cznic/lldb's Allocator façade over its Filer, just reused
// one level up instead of reimplemented per node type. NodeInline is
// the one exception: it never touches sa/na at all, since its entire
// payload lives inside the TriePtr word itself.
type NodeStore struct {
	na *NodeAllocator
	sa *StringAllocator
}

// NewNodeStore builds a node store on top of na/sa.
func NewNodeStore(na *NodeAllocator, sa *StringAllocator) *NodeStore {
	return &NodeStore{na: na, sa: sa}
}

// node is the in-memory decoded form shared by every variant; which
// fields are meaningful is determined by typ: an eight-way tagged
// union, here a single struct switched on by the TriePtr type tag
// rather than eight distinct Go types, since every operation already
// has to route by TriePtr.Type() regardless of representation.
type node struct {
	typ      NodeType
	prefix   KeyFragmentRepr // path-compression prefix consumed before this node
	hasValue bool
	value    uint64

	key KeyFragmentRepr // BasicKeyedTerminal/Inline: the single remaining key suffix

	// LargeKey: 1-3 entries whose keys may be too long to inline.
	lkeys   []KeyFragmentRepr
	lvalues []uint64

	// Sparse/Compressed: entries of identical bit length <=64,
	// ascending, packed as right-aligned uint64 keys.
	keyLen  int
	mkeys   []uint64
	mvalues []uint64

	// Binary (branchBits==1, exactly 2 slots) / DenseBranch
	// (branchBits in [2,4], rank-compacted slots): a bitmap of the
	// present branches in the low 2^branchBits bits of branch, and
	// children in ascending-label rank order.
	branchBits int
	branch     uint64
	children   []TriePtr
}

// encode serializes n to a flat byte buffer; n.typ must not be
// NodeNull or NodeInline (neither is ever persisted).
func (n *node) encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(n.typ), n.flags())
	if n.hasValue {
		var v [8]byte
		binary.LittleEndian.PutUint64(v[:], n.value)
		buf = append(buf, v[:]...)
	}
	buf = appendRepr(buf, n.prefix)
	switch n.typ {
	case NodeBasicKeyedTerminal:
		buf = appendRepr(buf, n.key)
	case NodeLargeKey:
		buf = appendUvarint(buf, uint64(len(n.lkeys)))
		for i, k := range n.lkeys {
			buf = appendRepr(buf, k)
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], n.lvalues[i])
			buf = append(buf, v[:]...)
		}
	case NodeSparse, NodeCompressed:
		buf = appendUvarint(buf, uint64(n.keyLen))
		buf = appendUvarint(buf, uint64(len(n.mkeys)))
		for i, k := range n.mkeys {
			var b [16]byte
			binary.LittleEndian.PutUint64(b[0:], k)
			binary.LittleEndian.PutUint64(b[8:], n.mvalues[i])
			buf = append(buf, b[:]...)
		}
	case NodeBinary, NodeDenseBranch:
		buf = append(buf, byte(n.branchBits))
		var bb [8]byte
		binary.LittleEndian.PutUint64(bb[:], n.branch)
		buf = append(buf, bb[:]...)
		buf = appendUvarint(buf, uint64(len(n.children)))
		for _, c := range n.children {
			var w [8]byte
			binary.LittleEndian.PutUint64(w[:], uint64(c))
			buf = append(buf, w[:]...)
		}
	}
	return buf
}

func (n *node) flags() byte {
	var f byte
	if n.hasValue {
		f |= 1
	}
	return f
}

func decodeNode(buf []byte) (*node, error) {
	if len(buf) < 2 {
		return nil, &ErrIntegrity{Type: ErrBadNodeTag, Detail: "node buffer too short"}
	}
	n := &node{typ: NodeType(buf[0])}
	if n.typ >= numNodeTypes {
		return nil, &ErrIntegrity{Type: ErrBadNodeTag, Arg: int64(buf[0])}
	}
	flags := buf[1]
	n.hasValue = flags&1 != 0
	pos := 2
	if n.hasValue {
		if pos+8 > len(buf) {
			return nil, &ErrIntegrity{Type: ErrBadNodeTag, Detail: "truncated value"}
		}
		n.value = binary.LittleEndian.Uint64(buf[pos:])
		pos += 8
	}
	var err error
	n.prefix, pos, err = readRepr(buf, pos)
	if err != nil {
		return nil, err
	}
	switch n.typ {
	case NodeBasicKeyedTerminal:
		n.key, pos, err = readRepr(buf, pos)
		if err != nil {
			return nil, err
		}
	case NodeLargeKey:
		count, n2 := binary.Uvarint(buf[pos:])
		pos += n2
		n.lkeys = make([]KeyFragmentRepr, count)
		n.lvalues = make([]uint64, count)
		for i := range n.lkeys {
			n.lkeys[i], pos, err = readRepr(buf, pos)
			if err != nil {
				return nil, err
			}
			if pos+8 > len(buf) {
				return nil, &ErrIntegrity{Type: ErrBadNodeTag, Detail: "truncated LargeKey value"}
			}
			n.lvalues[i] = binary.LittleEndian.Uint64(buf[pos:])
			pos += 8
		}
	case NodeSparse, NodeCompressed:
		keyLen, n2 := binary.Uvarint(buf[pos:])
		pos += n2
		n.keyLen = int(keyLen)
		count, n3 := binary.Uvarint(buf[pos:])
		pos += n3
		n.mkeys = make([]uint64, count)
		n.mvalues = make([]uint64, count)
		for i := range n.mkeys {
			n.mkeys[i] = binary.LittleEndian.Uint64(buf[pos:])
			n.mvalues[i] = binary.LittleEndian.Uint64(buf[pos+8:])
			pos += 16
		}
	case NodeBinary, NodeDenseBranch:
		n.branchBits = int(buf[pos])
		pos++
		n.branch = binary.LittleEndian.Uint64(buf[pos:])
		pos += 8
		count, n2 := binary.Uvarint(buf[pos:])
		pos += n2
		n.children = make([]TriePtr, count)
		for i := range n.children {
			n.children[i] = TriePtr(binary.LittleEndian.Uint64(buf[pos:]))
			pos += 8
		}
	}
	return n, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	k := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:k]...)
}

// appendRepr inline-encodes a KeyFragmentRepr: 4-byte bit length, 1-byte
// inline-length-or-0xFF-for-heap, then either the inline bytes or an
// 8-byte heap chunk offset.
func appendRepr(buf []byte, r KeyFragmentRepr) []byte {
	var lenb [4]byte
	binary.LittleEndian.PutUint32(lenb[:], uint32(r.nbits))
	buf = append(buf, lenb[:]...)
	if r.isHeap() {
		buf = append(buf, 0xFF)
		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], uint64(r.offset))
		return append(buf, off[:]...)
	}
	buf = append(buf, byte(len(r.inline)))
	return append(buf, r.inline...)
}

func readRepr(buf []byte, pos int) (KeyFragmentRepr, int, error) {
	if pos+5 > len(buf) {
		return KeyFragmentRepr{}, 0, &ErrIntegrity{Type: ErrBadNodeTag, Detail: "truncated key fragment repr"}
	}
	nbits := int(binary.LittleEndian.Uint32(buf[pos:]))
	pos += 4
	l := buf[pos]
	pos++
	if l == 0xFF {
		off := int64(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
		return KeyFragmentRepr{nbits: nbits, offset: off}, pos, nil
	}
	inline := append([]byte(nil), buf[pos:pos+int(l)]...)
	pos += int(l)
	return KeyFragmentRepr{nbits: nbits, inline: inline}, pos, nil
}

// store allocates and writes n, returning a TriePtr tagged with n.typ.
// inPlace marks the freshly stored copy as owned by the current writer:
// a node a transaction just wrote is in-place mutable until the
// transaction commits or another reader pins it. NodeInline is handled
// specially: it always tries to pack directly into the returned TriePtr
// first, falling back to a real BasicKeyedTerminal/LargeKey node only
// when the key/value pair does not fit the 59 available bits.
func (ns *NodeStore) store(n *node, inPlace bool) (TriePtr, error) {
	switch n.typ {
	case NodeNull:
		return NullTriePtr, nil
	case NodeInline:
		kf, err := LoadRepr(ns.na, n.key)
		if err != nil {
			return NullTriePtr, err
		}
		if p, ok := NewInlineTriePtr(inPlace, kf.Len(), kf.GetKey(), n.value); ok {
			return p, nil
		}
		keyRepr, err := AllocRepr(ns.na, kf)
		if err != nil {
			return NullTriePtr, err
		}
		if keyRepr.isHeap() {
			return ns.store(&node{typ: NodeLargeKey, prefix: n.prefix, hasValue: true,
				lkeys: []KeyFragmentRepr{keyRepr}, lvalues: []uint64{n.value}}, inPlace)
		}
		return ns.store(&node{typ: NodeBasicKeyedTerminal, prefix: n.prefix, hasValue: true,
			key: keyRepr, value: n.value}, inPlace)
	}
	buf := n.encode()
	off, err := ns.sa.Allocate(buf)
	if err != nil {
		return NullTriePtr, err
	}
	return NewTriePtr(inPlace, n.typ, off), nil
}

// load decodes the node pointed to by ptr, along with the exact byte
// length of its encoding (needed by free to pick the right allocator
// path back out). An Inline pointer carries its payload directly in its
// own bits and is decoded without touching the allocators at all; its
// reported size is 0 since nothing was allocated for it.
func (ns *NodeStore) load(ptr TriePtr) (*node, int, error) {
	if ptr.IsNull() {
		return &node{typ: NodeNull}, 0, nil
	}
	if ptr.Type() == NodeInline {
		keyLen := ptr.InlineKeyLen()
		key, value := ptr.InlineKeyAndValue()
		kf := KeyFromUint64(key, keyLen)
		keyRepr, err := AllocRepr(ns.na, kf)
		if err != nil {
			return nil, 0, err
		}
		return &node{typ: NodeInline, prefix: emptyRepr, hasValue: true, value: value, key: keyRepr}, 0, nil
	}
	buf, err := ns.sa.Load(ptr.Offset())
	if err != nil {
		return nil, 0, err
	}
	n, err := decodeNode(buf)
	if err != nil {
		return nil, 0, err
	}
	return n, len(buf), nil
}

// free releases the storage for ptr (size is the encoded length
// returned alongside it by load) and any heap key-fragment chunks it
// owns directly. It does not recurse into a branching node's children;
// callers that discard a whole subtree use freeSubtree for that.
func (ns *NodeStore) free(ptr TriePtr, size int) error {
	if ptr.IsNull() || ptr.Type() == NodeInline {
		return nil
	}
	n, _, err := ns.load(ptr)
	if err != nil {
		return err
	}
	if err := DeallocRepr(ns.na, n.prefix); err != nil {
		return err
	}
	switch n.typ {
	case NodeBasicKeyedTerminal:
		if err := DeallocRepr(ns.na, n.key); err != nil {
			return err
		}
	case NodeLargeKey:
		for _, k := range n.lkeys {
			if err := DeallocRepr(ns.na, k); err != nil {
				return err
			}
		}
	}
	return ns.sa.Deallocate(ptr.Offset(), size)
}

// freeSubtree releases ptr and, if it is a branching node, every node
// reachable beneath it: used once gather-and-rebuild has captured a
// subtree's entries into a flat list and a fresh replacement has been
// built, so the old nodes can be discarded wholesale.
func freeSubtree(ns *NodeStore, ptr TriePtr) error {
	if ptr.IsNull() {
		return nil
	}
	n, size, err := ns.load(ptr)
	if err != nil {
		return err
	}
	if n.typ == NodeBinary || n.typ == NodeDenseBranch {
		for _, c := range n.children {
			if err := freeSubtree(ns, c); err != nil {
				return err
			}
		}
	}
	return ns.free(ptr, size)
}
