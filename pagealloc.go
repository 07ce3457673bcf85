// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import (
	"sync"
	"sync/atomic"
)

// A Page identifies an allocated page by its offset and order.
type Page struct {
	Offset int64
	Order  int
}

// Size returns the byte length of the page.
func (p Page) Size() int64 { return orderSize(p.Order) }

// pageGroup is one order+1-sized page subdivided into up to fanout pages
// of the group's order; its HierarchicalBitmap is the "contains-a-
// free-page-of-order-k" bit source descent reduces to, once a group has
// been located.
type pageGroup struct {
	base int64
	bm   *HierarchicalBitmap
	full atomic.Bool // cache: skip fully-allocated groups when scanning
}

// PageAllocator implements a hierarchical page-table allocator. The
// "order-5 claimed" flag is persisted directly in the region's metadata
// page; every other allocation is
// additionally recorded as an (order,offset)->type entry in a
// dedicated registry trie (pageRegistryTrieId), including the
// previously-untyped group-parent pages newGroup carves up
// (splitTypeForOrder). On reopen, reconstructGroups replays that
// registry to rebuild pa.groups/pa.types from scratch: PageAllocator
// itself is constructed before any Trie can exist (a Trie's nodes are
// stored through the very allocator stack PageAllocator roots), so
// registry is nil until the engine attaches it post-construction
// (attachRegistry); allocations made before that point are the fixed,
// hardcoded reserved header pages, never recorded dynamically either
// way.
type PageAllocator struct {
	region   Region
	mu       sync.Mutex // serializes group-list growth; bit allocation is lock-free
	groups   [maxOrder + 1][]*pageGroup
	types    sync.Map // (order,offset) -> type byte, mirrors registry for Checker/tests
	registry *Trie    // page registry trie; nil until attachRegistry
}

type pageKey struct {
	order  int
	offset int64
}

// NewPageAllocator wraps region with a page allocator. For a freshly
// created (zero-length-content) region, it initializes the metadata page;
// an existing one's metadata page is left as it is, and its page groups
// are rebuilt later from the page registry trie (reconstruct.go).
func NewPageAllocator(region Region) (*PageAllocator, error) {
	pa := &PageAllocator{region: region}
	err := region.Pinned(func(mem []byte) error {
		if int64(len(mem)) < metadataPageSize {
			return &ErrRegionResize{MinSize: metadataPageSize}
		}
		if readMetadataMagic(mem) != metadataMagic {
			writeMetadataMagic(mem, metadataMagic)
			writeAllocatedOrder5(mem, false)
			writeTrieAllocPage(mem, int64(firstClientPage)*pageSize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Seed the order-1 group covering the reserved header block so the
	// first firstClientPage pages are never handed out again.
	pa.groups[1] = append(pa.groups[1], &pageGroup{base: 0, bm: reservedOrder1Bitmap()})
	return pa, nil
}

// reservedOrder1Bitmap marks subpages 0..firstClientPage-1 of the leading
// 4 MiB block as pre-allocated (metadata + page-table chain).
func reservedOrder1Bitmap() *HierarchicalBitmap {
	bm := NewHierarchicalBitmap(fanout, false)
	for i := 0; i < firstClientPage; i++ {
		bm.Allocate(0)
	}
	return bm
}

const allocRetries = 4

// AllocatePage returns a page of the requested order, recursively
// allocating/splitting a parent page if every existing group of this
// order is full.
func (pa *PageAllocator) AllocatePage(order int) (Page, error) {
	if order < minOrder || order > maxOrder {
		return Page{}, &ErrLogical{"invalid page order", int64(order)}
	}
	if order == maxOrder {
		return pa.allocateOrder5()
	}
	for attempt := 0; ; attempt++ {
		if pg, ok := pa.tryAllocateFromGroups(order); ok {
			return pg, nil
		}
		if attempt >= allocRetries {
			if err := pa.newGroup(order); err != nil {
				return Page{}, err
			}
			attempt = -1 // retry tryAllocateFromGroups fresh
			continue
		}
	}
}

func (pa *PageAllocator) tryAllocateFromGroups(order int) (Page, bool) {
	pa.mu.Lock()
	groups := append([]*pageGroup(nil), pa.groups[order]...)
	pa.mu.Unlock()
	for _, g := range groups {
		if g.full.Load() {
			continue
		}
		bit, becameFull := g.bm.Allocate(0)
		if bit < 0 {
			continue
		}
		if becameFull {
			g.full.Store(true)
			g.bm.Unlock(bit)
		}
		return Page{Offset: g.base + int64(bit)*orderSize(order), Order: order}, true
	}
	return Page{}, false
}

// attachRegistry wires the page registry trie in once it has been
// opened from the engine's TrieAllocator, and is usable for
// reconstruction. Call reconstructGroups (reconstruct.go) against a
// snapshot of the registry's current contents before attaching, so
// reconstruction reads pre-attach state and every allocation from this
// point on is also recorded going forward.
func (pa *PageAllocator) attachRegistry(t *Trie) { pa.registry = t }

func (pa *PageAllocator) recordType(order int, offset int64, typ byte) error {
	pa.types.Store(pageKey{order, offset}, typ)
	if pa.registry == nil {
		return nil
	}
	_, err := pa.registry.Insert(pageRegistryKey(order, offset), uint64(typ))
	return err
}

func (pa *PageAllocator) forgetType(order int, offset int64) error {
	pa.types.Delete(pageKey{order, offset})
	if pa.registry == nil {
		return nil
	}
	_, err := pa.registry.Remove(pageRegistryKey(order, offset))
	return err
}

// newGroup allocates a parent page of order+1, typed as a group
// header (splitTypeForOrder) so a later reopen can tell it apart from
// a plain leaf page of the same order, and subdivides it into a fresh
// group of order-sized pages.
func (pa *PageAllocator) newGroup(order int) error {
	parent, err := pa.AllocatePageOfType(order+1, splitTypeForOrder(order+1))
	if err != nil {
		return err
	}
	if err := pa.region.Grow(parent.Offset + parent.Size()); err != nil {
		return err
	}
	pa.mu.Lock()
	pa.groups[order] = append(pa.groups[order], &pageGroup{base: parent.Offset, bm: NewHierarchicalBitmap(fanout, false)})
	pa.mu.Unlock()
	return nil
}

func (pa *PageAllocator) allocateOrder5() (Page, error) {
	var claimed bool
	err := pa.region.Pinned(func(mem []byte) error {
		if readAllocatedOrder5(mem) {
			claimed = true
			return nil
		}
		writeAllocatedOrder5(mem, true)
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	if claimed {
		return Page{}, &ErrAllocation{Order: maxOrder, Msg: "order-5 page already allocated"}
	}
	return Page{Offset: 0, Order: maxOrder}, nil
}

// DeallocatePage clears the allocation bit for page, making its space
// available for reuse by a later AllocatePage of the same order.
func (pa *PageAllocator) DeallocatePage(page Page) error {
	if page.Order == maxOrder {
		if err := pa.region.Pinned(func(mem []byte) error {
			writeAllocatedOrder5(mem, false)
			return nil
		}); err != nil {
			return err
		}
		return pa.forgetType(maxOrder, page.Offset)
	}
	pa.mu.Lock()
	groups := pa.groups[page.Order]
	pa.mu.Unlock()
	for _, g := range groups {
		size := orderSize(page.Order)
		if page.Offset < g.base || page.Offset >= g.base+size*fanout {
			continue
		}
		bit := int((page.Offset - g.base) / size)
		becameNotFull := g.bm.MarkDeallocated(bit)
		if becameNotFull {
			g.full.Store(false)
			g.bm.Unlock(bit)
		}
		return pa.forgetType(page.Order, page.Offset)
	}
	return &ErrLogical{"deallocate: page not found in any group", page.Offset}
}

// AllocatePageOfType allocates a page and records its type code, both
// in the in-memory cache and (once attached) the durable registry.
func (pa *PageAllocator) AllocatePageOfType(order int, typ byte) (Page, error) {
	pg, err := pa.AllocatePage(order)
	if err != nil {
		return Page{}, err
	}
	if err := pa.recordType(order, pg.Offset, typ); err != nil {
		return Page{}, err
	}
	return pg, nil
}

// pageRegistryKey packs an (order,offset) pair into the 64-bit key the
// page registry trie files a page's type code under: order in the top
// byte (order never exceeds maxOrder=5), offset in the low 56 bits.
func pageRegistryKey(order int, offset int64) KeyFragment {
	return KeyFromUint64(uint64(byte(order))<<56|(uint64(offset)&(1<<56-1)), 64)
}

func decodePageRegistryKey(k KeyFragment) (order int, offset int64) {
	v := k.GetKey()
	return int(v >> 56), int64(v & (1<<56 - 1))
}

// TypeOf returns the recorded type code for an allocated page, or
// PtEmpty if unrecorded.
func (pa *PageAllocator) TypeOf(page Page) byte {
	if v, ok := pa.types.Load(pageKey{page.Order, page.Offset}); ok {
		return v.(byte)
	}
	return PtEmpty
}
