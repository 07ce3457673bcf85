// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "encoding/binary"

// Page geometry: five orders, factor 1024 each, leaf page 4 KiB.
const (
	pageShift  = 12
	pageSize   = 1 << pageShift // 4096
	fanoutBits = 10
	fanout     = 1 << fanoutBits // 1024

	minOrder = 1
	maxOrder = 5
)

// orderSize returns the byte length of a page of the given order.
func orderSize(order int) int64 {
	return int64(pageSize) << uint(fanoutBits*(order-1))
}

// Page-type codes.
const (
	PtEmpty         = 0
	PtMetadata      = 1
	PtPageAllocator = 2
	PtL4Pte         = 8
	PtL3Pte         = 9
	PtL2Pte         = 10
	PtL1Pte         = 11
	Pt4PPage        = 16
	Pt4TPage        = 17
	Pt4GPage        = 18
	Pt4MPage        = 19
	Pt4KPage        = 20
	Pt4PSplit       = 24
	Pt4TSplit       = 25
	Pt4GSplit       = 26
	Pt4MSplit       = 27
	PtArenaBase     = 32 // PT_ARENA_{size} = 32..42, one per node size class
)

// Node-allocator size classes.
var nodeSizeClasses = [...]int{8, 12, 16, 24, 32, 48, 64, 96, 128, 192, 256}

func sizeClassOrdinal(size int) int {
	for i, sz := range nodeSizeClasses {
		if size <= sz {
			return i
		}
	}
	return -1
}

// metadataMagic identifies a valid region.
const metadataMagic = 0x9d49f027a0293fc7

// Byte offsets within the fixed 4096-byte metadata page (bytes 8-4095
// hold region metadata). Only the order-5 claim flag and the
// TrieAllocator's fixed page are scalars that live here directly;
// every other piece of allocator bookkeeping (which pages and node-
// allocator slots are occupied) is durable via the page registry trie
// (pageRegistryTrieId) and reconstructed on open by
// reconstructAllocatorState (reconstruct.go), not by a second
// hand-rolled format bolted onto this page.
const (
	offMagic          = 0
	offAllocatorType  = 8
	offAllocatorVer   = 16
	offAllocatedOrder = 24 // 1 byte: order-5 page has been claimed
	offTrieAllocPage  = 40 // offset of the fixed TrieAllocator page (page index 6)
	metadataPageSize  = pageSize
)

func readMetadataMagic(mem []byte) uint64     { return binary.LittleEndian.Uint64(mem[offMagic:]) }
func writeMetadataMagic(mem []byte, v uint64) { binary.LittleEndian.PutUint64(mem[offMagic:], v) }

func readAllocatedOrder5(mem []byte) bool { return mem[offAllocatedOrder] != 0 }
func writeAllocatedOrder5(mem []byte, v bool) {
	if v {
		mem[offAllocatedOrder] = 1
	} else {
		mem[offAllocatedOrder] = 0
	}
}

func readTrieAllocPage(mem []byte) int64 {
	return int64(binary.LittleEndian.Uint64(mem[offTrieAllocPage:]))
}
func writeTrieAllocPage(mem []byte, v int64) {
	binary.LittleEndian.PutUint64(mem[offTrieAllocPage:], uint64(v))
}

// firstClientPage is page index 6: pages 0 occupies the
// metadata header, 1 the page-table-allocator metadata page, 2-5 the
// order 4..1 page tables for the first 4 MiB block, 6 is the first
// client-usable page (the TrieAllocator header).
const firstClientPage = 6

// splitTypeForOrder returns the page-type code recorded for a page of
// the given order when PageAllocator.newGroup carves it up into a
// group of order-1 children, or PtEmpty for orders with no group
// below them (order 1, the smallest). This is the one consumer of the
// otherwise-unused Pt4{P,T,G,M}Split constants: every group parent is
// now typed and registered the same way a leaf data page is, so
// PageAllocator.reconstructGroups can tell group parents and plain
// leaves apart on reopen purely from the persisted type registry.
func splitTypeForOrder(order int) byte {
	switch order {
	case 5:
		return Pt4PSplit
	case 4:
		return Pt4TSplit
	case 3:
		return Pt4GSplit
	case 2:
		return Pt4MSplit
	default:
		return PtEmpty
	}
}
