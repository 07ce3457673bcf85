// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "encoding/binary"

// trieBlockMagic identifies a valid TrieBlock slot.
const trieBlockMagic = 0xF07111AA110A62A6

// trieBlockSize is the fixed on-disk footprint of one TrieBlock slot:
// magic(8) + versionMajor(1) + versionMinor(1) + type(1) + pad(5) +
// root(8) = 24, rounded up to 32 for alignment.
const trieBlockSize = 32

const (
	tbOffMagic   = 0
	tbOffVerMaj  = 8
	tbOffVerMin  = 9
	tbOffType    = 10
	tbOffRoot    = 16
)

// trieBlockVersionMajor/Minor is the on-disk format version written
// into every newly allocated slot.
const (
	trieBlockVersionMajor = 1
	trieBlockVersionMinor = 0
)

// reservedTrieSlots is the number of low-numbered slots (ids 0 through
// reservedTrieSlots-1) that are never handed to a caller.
const reservedTrieSlots = 7

// MaxTrieId bounds how many distinct named tries one region can host.
const MaxTrieId = 64

// stringFreeListTrieId and pageRegistryTrieId are two more engine-private
// tries, one slot past the public id range: the string allocator's
// page-block free list (stringalloc.go) and the page allocator's
// (order,offset)->type registry (pagealloc.go), respectively. Both need
// the same lock-free, persisted, CAS-published structure an ordinary
// Trie already provides, so rather than inventing a second on-disk
// format they are simply tries nobody calls CreateTrie for.
const (
	stringFreeListTrieId = MaxTrieId
	pageRegistryTrieId   = MaxTrieId + 1
	internalTrieSlots    = MaxTrieId + 2
)

// TrieAllocator is the fixed-size registry of named tries living at a
// single, well-known page (pagetable.go's offTrieAllocPage), so that a
// process reopening a region can find every trie's root without first
// walking anything else.
type TrieAllocator struct {
	region  Region
	ns      *NodeStore
	baseOff int64
}

// OpenTrieAllocator initializes (on a freshly created region) or
// attaches to (on reopen) the trie registry page.
func OpenTrieAllocator(region Region, ns *NodeStore, baseOff int64) (*TrieAllocator, error) {
	ta := &TrieAllocator{region: region, ns: ns, baseOff: baseOff}
	err := region.Pinned(func(mem []byte) error {
		end := baseOff + int64(internalTrieSlots)*trieBlockSize
		if end > int64(len(mem)) {
			return &ErrRegionResize{MinSize: end}
		}
		for id := 0; id < reservedTrieSlots; id++ {
			off := ta.slotOffset(id)
			if binary.LittleEndian.Uint64(mem[off+tbOffMagic:]) != trieBlockMagic {
				ta.initSlotLocked(mem, id, 0)
			}
		}
		for _, id := range [...]int{stringFreeListTrieId, pageRegistryTrieId} {
			off := ta.slotOffset(id)
			if binary.LittleEndian.Uint64(mem[off+tbOffMagic:]) != trieBlockMagic {
				ta.initSlotLocked(mem, id, 0)
			}
		}
		return nil
	})
	return ta, err
}

// OpenStringFreeListTrie attaches to the string allocator's internal
// free-block trie.
func (ta *TrieAllocator) OpenStringFreeListTrie() (*Trie, error) {
	return ta.Open(stringFreeListTrieId)
}

// OpenPageRegistryTrie attaches to the page allocator's internal
// (order,offset)->type registry trie.
func (ta *TrieAllocator) OpenPageRegistryTrie() (*Trie, error) {
	return ta.Open(pageRegistryTrieId)
}

func (ta *TrieAllocator) slotOffset(id int) int64 { return ta.baseOff + int64(id)*trieBlockSize }

func (ta *TrieAllocator) initSlotLocked(mem []byte, id int, typ byte) {
	off := ta.slotOffset(id)
	binary.LittleEndian.PutUint64(mem[off+tbOffMagic:], trieBlockMagic)
	mem[off+tbOffVerMaj] = trieBlockVersionMajor
	mem[off+tbOffVerMin] = trieBlockVersionMinor
	mem[off+tbOffType] = typ
	binary.LittleEndian.PutUint64(mem[off+tbOffRoot:], uint64(NullTriePtr))
}

// Allocate reserves slot id (>=reservedTrieSlots) for a new trie of the
// given type tag, failing if it already holds a live trie.
func (ta *TrieAllocator) Allocate(id int, typ byte) error {
	if id < reservedTrieSlots || id >= MaxTrieId {
		return &ErrLogical{"trie id out of range", int64(id)}
	}
	return ta.region.Pinned(func(mem []byte) error {
		off := ta.slotOffset(id)
		end := off + trieBlockSize
		if end > int64(len(mem)) {
			return &ErrRegionResize{MinSize: end}
		}
		if binary.LittleEndian.Uint64(mem[off+tbOffMagic:]) == trieBlockMagic && mem[off+tbOffType] != 0 {
			return &ErrLogical{"trie id already allocated", int64(id)}
		}
		ta.initSlotLocked(mem, id, typ)
		return nil
	})
}

// Deallocate releases slot id, leaving it reinitialized to empty.
func (ta *TrieAllocator) Deallocate(id int) error {
	return ta.region.Pinned(func(mem []byte) error {
		ta.initSlotLocked(mem, id, 0)
		return nil
	})
}

// Open attaches a *Trie to slot id's root word.
func (ta *TrieAllocator) Open(id int) (*Trie, error) {
	return openTrie(ta.ns, ta.region, ta.slotOffset(id)+tbOffRoot)
}

// TrieOffset returns the region offset of slot id's TrieBlock.
func (ta *TrieAllocator) TrieOffset(id int) int64 { return ta.slotOffset(id) }
