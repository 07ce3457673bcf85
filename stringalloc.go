// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/golang/snappy"
)

// StringAllocator manages variable-length byte payloads (large keys,
// values, snapshot blobs) too big for NodeAllocator's fixed size
// classes. Small requests are delegated straight to a
// NodeAllocator; larger ones come from whole pages carved up by a
// free list, grounded on lldb/flt.go's free-list-table, which buckets
// free blocks by size class. Unlike lldb's in-memory linked list, the
// bucket free lists here are themselves a Trie (stringFreeListTrieId):
// every push/pop is a CAS-published Insert/Remove against a key of
// bucket<<48|offset, so the free list survives a close/reopen exactly
// as durably as any other trie content, instead of having to be
// rebuilt by a page scan. freeList is nil during the narrow
// construction window before the engine's TrieAllocator exists
// (newEngine attaches it with attachFreeList once the rest of the
// engine is wired up); no allocation happens in that window.
type StringAllocator struct {
	pa  *PageAllocator
	na  *NodeAllocator
	reg Region

	freeList *Trie
}

// stringHeaderSize is the on-disk framing prepended to every
// string allocation: an 8-byte word holding the original payload length
// shifted left by one with the low bit set when the payload is
// snappy-compressed, then the 8-byte stored (possibly compressed) length
// in bytes, then the stored payload, then a 1-byte sentinel.
const stringHeaderSize = 16

// NewStringAllocator builds a string allocator atop pa/na/region. The
// free list is attached afterward via attachFreeList.
func NewStringAllocator(pa *PageAllocator, na *NodeAllocator, region Region) *StringAllocator {
	return &StringAllocator{pa: pa, na: na, reg: region}
}

// attachFreeList wires the page-block free list trie in once it has
// been opened from the engine's TrieAllocator.
func (sa *StringAllocator) attachFreeList(t *Trie) { sa.freeList = t }

// freeListKey packs a (bucket, offset) pair into the 64-bit key a free
// block is filed under: bucket in the high 16 bits so LowerBound(bucket,
// 0) finds the first free block of that bucket (or the first of a
// larger one, which popFreeBlock rejects), offset in the low 48.
func freeListKey(bucket int, offset int64) KeyFragment {
	return KeyFromUint64(uint64(bucket)<<48|(uint64(offset)&(1<<48-1)), 64)
}

func freeListBucket(k KeyFragment) int { return int(k.GetKey() >> 48) }

// popFreeBlock removes and returns one free block of exactly bucket
// pages, if the free list holds one.
func (sa *StringAllocator) popFreeBlock(bucket int) (int64, bool, error) {
	if sa.freeList == nil {
		return 0, false, nil
	}
	it, err := sa.freeList.LowerBound(freeListKey(bucket, 0))
	if err != nil {
		return 0, false, err
	}
	if !it.Valid() {
		return 0, false, nil
	}
	k, err := it.Key()
	if err != nil {
		return 0, false, err
	}
	if freeListBucket(k) != bucket {
		return 0, false, nil
	}
	if _, err := sa.freeList.Remove(k); err != nil {
		return 0, false, err
	}
	return int64(k.GetKey() & (1<<48 - 1)), true, nil
}

// pushFreeBlock files off (a block of exactly bucket pages) onto the
// free list.
func (sa *StringAllocator) pushFreeBlock(bucket int, off int64) error {
	if sa.freeList == nil {
		return &ErrLogical{"string allocator free list not attached", off}
	}
	_, err := sa.freeList.Insert(freeListKey(bucket, off), 1)
	return err
}

// smallStringLimit is the largest payload (including inline framing)
// handed to the NodeAllocator instead of carving a fresh page.
const smallStringLimit = 256 - 8

// snappyThreshold: payloads at or above this size are snappy-framed
// before storage, the way cznic/dbm used code.google.com/p/snappy-go
// for its blob values.
const snappyThreshold = 256

// Allocate stores payload and returns its offset, size-class-rounded
// and framed so Load/Deallocate can recover it without external
// bookkeeping.
func (sa *StringAllocator) Allocate(payload []byte) (int64, error) {
	raw := payload
	compressed := false
	if len(payload) >= snappyThreshold {
		enc := snappy.Encode(nil, payload)
		if len(enc) < len(payload) {
			raw = enc
			compressed = true
		}
	}
	need := len(raw) + stringHeaderSize + 1 // + trailing sentinel byte
	if need <= smallStringLimit {
		off, err := sa.na.Allocate(need)
		if err != nil {
			return 0, err
		}
		if err := sa.writeFramed(off, raw, len(payload), compressed); err != nil {
			return 0, err
		}
		return off, nil
	}
	pages := (int64(need) + pageSize - 1) / pageSize
	off, err := sa.allocatePages(pages)
	if err != nil {
		return 0, err
	}
	if err := sa.writeFramed(off, raw, len(payload), compressed); err != nil {
		return 0, err
	}
	return off, nil
}

func (sa *StringAllocator) writeFramed(off int64, raw []byte, originalLen int, compressed bool) error {
	return sa.reg.Pinned(func(mem []byte) error {
		end := off + int64(stringHeaderSize+len(raw)+1)
		if end > int64(len(mem)) {
			return &ErrRegionResize{MinSize: end}
		}
		flag := uint64(originalLen) << 1
		if compressed {
			flag |= 1
		}
		binary.LittleEndian.PutUint64(mem[off:], flag)
		binary.LittleEndian.PutUint64(mem[off+8:], uint64(len(raw)))
		copy(mem[off+stringHeaderSize:], raw)
		mem[off+int64(stringHeaderSize+len(raw))] = sentinelBack
		return nil
	})
}

// Load returns the payload previously stored at off.
func (sa *StringAllocator) Load(off int64) ([]byte, error) {
	var out []byte
	err := sa.reg.Pinned(func(mem []byte) error {
		if off+stringHeaderSize > int64(len(mem)) {
			return &ErrRegionResize{MinSize: off + stringHeaderSize}
		}
		flag := binary.LittleEndian.Uint64(mem[off:])
		rawLen := int64(binary.LittleEndian.Uint64(mem[off+8:]))
		originalLen := int(flag >> 1)
		compressed := flag&1 != 0
		end := off + stringHeaderSize + rawLen
		if end > int64(len(mem)) {
			return &ErrRegionResize{MinSize: end}
		}
		raw := append([]byte(nil), mem[off+stringHeaderSize:end]...)
		if !compressed {
			out = raw
			return nil
		}
		dec, err := snappy.Decode(make([]byte, 0, originalLen), raw)
		if err != nil {
			return &ErrIntegrity{Type: ErrOther, Off: off, More: err, Detail: "snappy decode failed"}
		}
		out = dec
		return nil
	})
	return out, err
}

// blockFootprint maps a previously-allocated offset back to its
// physical footprint, read straight from the on-disk framing writeFramed
// left behind: the stored rawLen is the exact (possibly snappy-
// compressed) length Allocate classified small-vs-page on, so re-reading
// it is the only way to reproduce that decision — the caller's logical
// payload size is no guide, since a highly-compressible payload at or
// above snappyThreshold can still land in the node allocator. Returns
// either a node-allocator slot of raw size need (need > 0, pages == 0)
// or a page-backed block of pages 4 KiB pages (need == 0). Shared by
// Deallocate and the allocator-bookkeeping reconstruction pass
// (reconstruct.go).
func (sa *StringAllocator) blockFootprint(off int64) (need int, pages int64, err error) {
	var rawLen int64
	err = sa.reg.Pinned(func(mem []byte) error {
		rawLen = int64(binary.LittleEndian.Uint64(mem[off+8:]))
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	need = int(rawLen) + stringHeaderSize + 1
	if need <= smallStringLimit && sizeClassOrdinal(need) >= 0 {
		return need, 0, nil
	}
	pages = (int64(need) + pageSize - 1) / pageSize
	return 0, pages, nil
}

// Deallocate releases the block at off.
func (sa *StringAllocator) Deallocate(off int64, size int) error {
	need, pages, err := sa.blockFootprint(off)
	if err != nil {
		return err
	}
	if need > 0 {
		return sa.na.Deallocate(off, need)
	}
	return sa.freePages(off, pages)
}

// allocatePages returns an offset of a pages*4KiB contiguous run, first
// trying the matching free-list bucket and falling back to a fresh page
// from the PageAllocator otherwise (order 1 for a single page, else the
// smallest order whose page holds the whole run).
func (sa *StringAllocator) allocatePages(pages int64) (int64, error) {
	bucket := int(pages)
	if off, ok, err := sa.popFreeBlock(bucket); err != nil {
		return 0, err
	} else if ok {
		return off, nil
	}

	if pages == 1 {
		pg, err := sa.pa.AllocatePageOfType(minOrder, PtArenaBase+byte(len(nodeSizeClasses)))
		if err != nil {
			return 0, err
		}
		if err := sa.reg.Grow(pg.Offset + pg.Size()); err != nil {
			return 0, err
		}
		return pg.Offset, nil
	}
	// Multi-page runs: allocate a higher-order page and hand back its
	// base; callers rarely ask for >4KiB contiguous blobs in practice
	// (large keys/values are chunked), so this path favors simplicity
	// over byte-exact packing.
	order := minOrder
	for orderSize(order) < pages*pageSize && order < maxOrder {
		order++
	}
	pg, err := sa.pa.AllocatePageOfType(order, PtArenaBase+byte(len(nodeSizeClasses)))
	if err != nil {
		return 0, err
	}
	if err := sa.reg.Grow(pg.Offset + pg.Size()); err != nil {
		return 0, err
	}
	return pg.Offset, nil
}

// freePages returns a pages-sized block to its bucket free list. Full
// arbitrary-neighbor coalescing would require an offset-sorted index we
// intentionally do not maintain (see DESIGN.md); this only files the
// block under its bucket.
func (sa *StringAllocator) freePages(off int64, pages int64) error {
	return sa.pushFreeBlock(int(pages), off)
}

// bytesOutstanding reports the free bytes currently held on the free
// list per bucket (bucket pages times pageSize for each entry), for
// memory-usage accounting.
func (sa *StringAllocator) bytesOutstanding() (map[int]int64, error) {
	out := make(map[int]int64)
	if sa.freeList == nil {
		return out, nil
	}
	entries, err := gatherSubtreeEntries(sa.freeList.ns, sa.freeList.loadRoot())
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		bucket := freeListBucket(e.key)
		out[bucket] += int64(bucket) * pageSize
	}
	return out, nil
}

var stringAllocCount atomic.Int64 // instrumentation for tests only
