// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "sync"

// NodeAllocator subdivides 4 KiB pages (obtained from a PageAllocator)
// into fixed-size slots drawn from nodeSizeClasses.
type NodeAllocator struct {
	pa       *PageAllocator
	region   Region
	sentinel bool

	mu     sync.Mutex
	arenas [len(nodeSizeClasses)][]*nodeArena
}

// NewNodeAllocator builds a node allocator on top of pa/region. sentinel
// enables the debug fill-and-verify mode.
func NewNodeAllocator(pa *PageAllocator, region Region, sentinel bool) *NodeAllocator {
	return &NodeAllocator{pa: pa, region: region, sentinel: sentinel}
}

// Allocate returns the offset of a free slot able to hold size bytes,
// rounded up to the smallest node size class.
func (na *NodeAllocator) Allocate(size int) (int64, error) {
	ordinal := sizeClassOrdinal(size)
	if ordinal < 0 {
		return 0, &ErrAllocation{Size: int64(size), Msg: "size exceeds node allocator's largest class; use the string allocator"}
	}
	physSize := physicalSlotSize(nodeSizeClasses[ordinal], na.sentinel)
	slots := slotsPerArena(physSize)

	for attempt := 0; ; attempt++ {
		if off, ok := na.tryAllocateFrom(ordinal, physSize, slots); ok {
			if na.sentinel {
				if err := na.fillSentinels(off, nodeSizeClasses[ordinal]); err != nil {
					return 0, err
				}
			}
			return off, nil
		}
		if attempt >= allocRetries {
			if err := na.newArena(ordinal, physSize, slots); err != nil {
				return 0, err
			}
			attempt = -1
		}
	}
}

func (na *NodeAllocator) tryAllocateFrom(ordinal, physSize, slots int) (int64, bool) {
	na.mu.Lock()
	arenas := append([]*nodeArena(nil), na.arenas[ordinal]...)
	na.mu.Unlock()
	for _, a := range arenas {
		if a.full {
			continue
		}
		bit, becameFull := a.bm.Allocate(0)
		if bit < 0 {
			continue
		}
		if becameFull {
			a.full = true
			a.bm.Unlock(bit)
		}
		off := a.offset + int64(bit*physSize)
		if na.sentinel {
			off += 1 // one pad byte reserved at slot head
		}
		return off, true
	}
	return 0, false
}

func (na *NodeAllocator) newArena(ordinal, physSize, slots int) error {
	pg, err := na.pa.AllocatePageOfType(minOrder, byte(PtArenaBase+ordinal))
	if err != nil {
		return err
	}
	if err := na.region.Grow(pg.Offset + pg.Size()); err != nil {
		return err
	}
	na.mu.Lock()
	na.arenas[ordinal] = append(na.arenas[ordinal], &nodeArena{offset: pg.Offset, slots: slots, bm: NewHierarchicalBitmap(slots, false)})
	na.mu.Unlock()
	return nil
}

func (na *NodeAllocator) fillSentinels(off int64, logical int) error {
	return na.region.Pinned(func(mem []byte) error {
		front := off - 1
		back := off + int64(logical)
		if back >= int64(len(mem)) {
			return &ErrRegionResize{MinSize: back + 1}
		}
		mem[front] = sentinelFront
		mem[back] = sentinelBack
		return nil
	})
}

// CheckSentinels verifies the debug fill bytes around a slot previously
// returned by Allocate, returning an *ErrIntegrity if they were
// overwritten (a buffer overrun) or the allocator is not in sentinel
// mode.
func (na *NodeAllocator) CheckSentinels(off int64, size int) error {
	if !na.sentinel {
		return nil
	}
	return na.region.Pinned(func(mem []byte) error {
		front := off - 1
		back := off + int64(size)
		if front < 0 || back >= int64(len(mem)) {
			return &ErrIntegrity{Type: ErrBadSentinel, Off: off, Detail: "sentinel range out of bounds"}
		}
		if mem[front] != sentinelFront {
			return &ErrIntegrity{Type: ErrBadSentinel, Off: off, Detail: "front sentinel corrupted"}
		}
		if mem[back] != sentinelBack {
			return &ErrIntegrity{Type: ErrBadSentinel, Off: off, Detail: "back sentinel corrupted"}
		}
		return nil
	})
}

// markSlotAt sets the occupied bit for the slot backing a node or
// key-fragment chunk previously written at off with the given logical
// size, during allocator-state reconstruction (reconstruct.go). Single-
// threaded by construction (it only runs during engine startup, before
// any arena is exposed to a caller), so it writes the bitmap directly
// rather than going through the lock-free Allocate/Deallocate paths.
func (na *NodeAllocator) markSlotAt(off int64, logicalSize int) {
	ordinal := sizeClassOrdinal(logicalSize)
	if ordinal < 0 {
		return
	}
	physSize := physicalSlotSize(nodeSizeClasses[ordinal], na.sentinel)
	slotOff := off
	if na.sentinel {
		slotOff--
	}
	for _, a := range na.arenas[ordinal] {
		if slotOff < a.offset || slotOff >= a.offset+int64(a.slots*physSize) {
			continue
		}
		bit := int((slotOff - a.offset) / int64(physSize))
		a.bm.bits.MarkAllocated(bit)
		return
	}
}

// Deallocate frees the slot at off, which must have been obtained from
// Allocate with the same size.
func (na *NodeAllocator) Deallocate(off int64, size int) error {
	if na.sentinel {
		if err := na.CheckSentinels(off, size); err != nil {
			return err
		}
	}
	ordinal := sizeClassOrdinal(size)
	if ordinal < 0 {
		return &ErrLogical{"deallocate: size exceeds node allocator classes", int64(size)}
	}
	physSize := physicalSlotSize(nodeSizeClasses[ordinal], na.sentinel)
	slotOff := off
	if na.sentinel {
		slotOff--
	}

	na.mu.Lock()
	arenas := na.arenas[ordinal]
	na.mu.Unlock()
	for _, a := range arenas {
		if slotOff < a.offset || slotOff >= a.offset+int64(a.slots*physSize) {
			continue
		}
		bit := int((slotOff - a.offset) / int64(physSize))
		becameNotFull := a.bm.MarkDeallocated(bit)
		if becameNotFull {
			a.full = false
			a.bm.Unlock(bit)
		}
		return nil
	}
	return &ErrLogical{"deallocate: slot not found in any arena", off}
}
