// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "encoding/binary"

// reconstructAllocatorState rebuilds PageAllocator.groups/types and
// NodeAllocator.arenas from durable state after a reopen. Page-level
// occupancy is exact from the page registry trie alone (every page
// ever handed out, whether a leaf or a group header, is recorded
// there by AllocatePageOfType). Node-allocator slot occupancy is not
// individually recorded that way — only the arena page itself is —
// so it is instead recovered by a mark-sweep walk of every reachable
// node and key-fragment chunk across every trie the region holds
// (including the two engine-private bookkeeping tries), the same
// "find everything still reachable" pass a tracing collector runs
// before reclaiming the rest. A fresh region's registry has no
// entries, so this is a no-op there.
func reconstructAllocatorState(pages *PageAllocator, nodes *NodeAllocator, strs *StringAllocator, ns *NodeStore, tries *TrieAllocator, registry *Trie) error {
	entries, err := gatherSubtreeEntries(registry.ns, registry.loadRoot())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	occ := map[int]map[int64]byte{}
	for _, e := range entries {
		order, offset := decodePageRegistryKey(e.key)
		if occ[order] == nil {
			occ[order] = map[int64]byte{}
		}
		typ := byte(e.value)
		occ[order][offset] = typ
		pages.types.Store(pageKey{order, offset}, typ)
	}

	reconstructGroups(pages, occ)
	reconstructNodeArenas(nodes, occ[minOrder])

	for id := 0; id < internalTrieSlots; id++ {
		t, err := tries.Open(id)
		if err != nil {
			return err
		}
		if err := markLiveStorage(ns, strs, nodes, t.loadRoot()); err != nil {
			return err
		}
	}
	finalizeArenaFullFlags(nodes)
	return nil
}

// reconstructGroups rebuilds pa.groups[order] from plain page-registry
// membership: a sub-page is occupied iff some entry exists at its exact
// (order,offset), whether that entry is itself a leaf or a further group
// header. Every group except one is discovered by finding its parent
// (order+1) page's splitTypeForOrder(order+1) registry entry. The one
// exception is the order-1/base-0 group covering the reserved header
// block: its parent order-2 page predates any dynamic allocation (wired
// directly into the region's fixed layout by NewPageAllocator, never
// passed through recordType), so it has no parent registry entry to
// discover it by and is instead replayed directly against the group
// NewPageAllocator already seeded.
func reconstructGroups(pa *PageAllocator, occ map[int]map[int64]byte) {
	base0 := pa.groups[1][0]
	full0 := true
	for i := 0; i < fanout; i++ {
		sub := int64(i) * orderSize(minOrder)
		if _, ok := occ[minOrder][sub]; ok {
			base0.bm.bits.MarkAllocated(i)
		} else {
			full0 = false
		}
	}
	if full0 {
		base0.full.Store(true)
	}

	for order := 1; order < maxOrder; order++ {
		parentType := splitTypeForOrder(order + 1)
		for base, typ := range occ[order+1] {
			if typ != parentType || (order == minOrder && base == 0) {
				continue
			}
			bm := NewHierarchicalBitmap(fanout, false)
			full := true
			for i := 0; i < fanout; i++ {
				sub := base + int64(i)*orderSize(order)
				if _, ok := occ[order][sub]; ok {
					bm.bits.MarkAllocated(i)
				} else {
					full = false
				}
			}
			pg := &pageGroup{base: base, bm: bm}
			pg.full.Store(full)
			pa.groups[order] = append(pa.groups[order], pg)
		}
	}
}

// reconstructNodeArenas rebuilds na.arenas' bases from order-1 registry
// entries typed as a node size class (as opposed to the whole-page
// string block type or a group header, neither of which is ever typed
// PtArenaBase+ordinal for ordinal < len(nodeSizeClasses)). Per-slot
// occupancy within each arena is left all-free here; markLiveStorage
// fills it in afterward.
func reconstructNodeArenas(na *NodeAllocator, order1 map[int64]byte) {
	for offset, typ := range order1 {
		if typ < PtArenaBase || int(typ)-PtArenaBase >= len(nodeSizeClasses) {
			continue
		}
		ordinal := int(typ) - PtArenaBase
		physSize := physicalSlotSize(nodeSizeClasses[ordinal], na.sentinel)
		slots := slotsPerArena(physSize)
		na.arenas[ordinal] = append(na.arenas[ordinal], &nodeArena{
			offset: offset, slots: slots, bm: NewHierarchicalBitmap(slots, false),
		})
	}
}

// finalizeArenaFullFlags recomputes each arena's best-effort "full"
// cache after markLiveStorage has set every occupied bit.
func finalizeArenaFullFlags(na *NodeAllocator) {
	for _, arenas := range na.arenas {
		for _, a := range arenas {
			full := true
			for i := 0; i < a.slots; i++ {
				if !a.bm.IsAllocated(i) {
					full = false
					break
				}
			}
			a.full = full
		}
	}
}

// markLiveStorage walks every node reachable from ptr, marking the
// node-allocator slot (if any) backing each node and each heap key-
// fragment chunk it owns. Branching nodes recurse into every child;
// NodeInline carries no backing allocation and is skipped.
func markLiveStorage(ns *NodeStore, sa *StringAllocator, na *NodeAllocator, ptr TriePtr) error {
	if ptr.IsNull() || ptr.Type() == NodeInline {
		return nil
	}
	n, _, err := ns.load(ptr)
	if err != nil {
		return err
	}
	if err := markNodeStorage(sa, na, ptr.Offset()); err != nil {
		return err
	}
	if err := markReprStorage(na, n.prefix); err != nil {
		return err
	}
	switch n.typ {
	case NodeBasicKeyedTerminal:
		if err := markReprStorage(na, n.key); err != nil {
			return err
		}
	case NodeLargeKey:
		for _, k := range n.lkeys {
			if err := markReprStorage(na, k); err != nil {
				return err
			}
		}
	}
	if n.typ == NodeBinary || n.typ == NodeDenseBranch {
		for _, pr := range branchPairs(n) {
			if err := markLiveStorage(ns, sa, na, pr.child); err != nil {
				return err
			}
		}
	}
	return nil
}

// markNodeStorage marks the physical footprint of a node's own
// encoded bytes, classifying it the same way StringAllocator.Deallocate
// would: a node-allocator slot, or a page-backed block (already
// accounted for at the page-registry level, so no further marking is
// needed there).
func markNodeStorage(sa *StringAllocator, na *NodeAllocator, off int64) error {
	need, _, err := sa.blockFootprint(off)
	if err != nil {
		return err
	}
	if need > 0 {
		na.markSlotAt(off, need)
	}
	return nil
}

// markReprStorage walks a heap KeyFragmentRepr's chunk chain, marking
// each chunk's node-allocator slot; a no-op for inline representations.
func markReprStorage(na *NodeAllocator, r KeyFragmentRepr) error {
	if !r.isHeap() {
		return nil
	}
	off := r.offset
	for off != 0 {
		na.markSlotAt(off, heapChunkSize)
		var next int64
		err := na.region.Pinned(func(mem []byte) error {
			next = int64(binary.LittleEndian.Uint64(mem[off:]))
			return nil
		})
		if err != nil {
			return err
		}
		off = next
	}
	return nil
}
