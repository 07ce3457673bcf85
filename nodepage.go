// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// A nodeArena is a 4 KiB page subdivided into N slots of one fixed size:
// N = pageSize / physicalSlotSize. Its
// HierarchicalBitmap is the page-local "which slots are taken" bitmap;
// NodeAllocator keeps one or more arenas per size class and picks
// among them via the same lock-free allocate-or-grow pattern as
// PageAllocator, grounded on other_examples' cznic/memory allocator
// (Allocator.pages[log]/Allocator.lists[log]) which is exactly this
// shape once page recycling is delegated to PageAllocator instead of raw
// mmap/munmap per page.
type nodeArena struct {
	offset int64
	slots  int
	bm     *HierarchicalBitmap
	full   bool // best-effort cache, protected by NodeAllocator.mu
}

// sentinelFront/sentinelBack are the debug fill bytes used when
// Options.SentinelSlots is set: 0xA5 before the user data,
// 0x5A after, each one byte wide, verified on free.
const (
	sentinelFront = byte(0xA5)
	sentinelBack  = byte(0x5A)
)

// physicalSlotSize returns the on-page footprint of a logical size class,
// tripled when sentinel mode is enabled (one pad byte on each side would
// suffice, but tripling the nominal size class keeps every slot's start
// cache-aligned the same way the un-sentineled layout is).
func physicalSlotSize(logical int, sentinel bool) int {
	if !sentinel {
		return logical
	}
	return logical * 3
}

func slotsPerArena(physSize int) int {
	return pageSize / physSize
}
