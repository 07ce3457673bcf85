// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// An Engine is the top-level handle an embedder opens: one memory-mapped
// region plus the allocator stack built on top of it, wiring together
// every other component. It
// plays the role cznic/dbm's DB type plays over lldb's Allocator: a
// single mutable handle callers keep around for the life of the
// process, with named tries opened/created through it rather than
// constructed by hand.
type Engine struct {
	Region Region
	Pages  *PageAllocator
	Nodes  *NodeAllocator
	Str    *StringAllocator
	Store  *NodeStore
	Tries  *TrieAllocator
}

// Open creates or attaches to a memory-mapped engine at path.
func Open(path string, opts Options) (*Engine, error) {
	region, err := OpenMMapRegion(path, opts)
	if err != nil {
		return nil, err
	}
	return newEngine(region, opts)
}

// OpenMem creates an engine over an in-memory (non-mmap) region, for
// tests and for embedders that want a pure in-process trie with no
// backing file.
func OpenMem(opts Options) (*Engine, error) {
	region := NewMallocRegion(opts.InitialSize)
	return newEngine(region, opts)
}

func newEngine(region Region, opts Options) (*Engine, error) {
	pages, err := NewPageAllocator(region)
	if err != nil {
		return nil, err
	}
	nodes := NewNodeAllocator(pages, region, opts.SentinelSlots)
	strs := NewStringAllocator(pages, nodes, region)
	store := NewNodeStore(nodes, strs)

	var trieAllocOff int64
	if err := region.Pinned(func(mem []byte) error {
		trieAllocOff = readTrieAllocPage(mem)
		return nil
	}); err != nil {
		return nil, err
	}
	tries, err := OpenTrieAllocator(region, store, trieAllocOff)
	if err != nil {
		return nil, err
	}

	freeListTrie, err := tries.OpenStringFreeListTrie()
	if err != nil {
		return nil, err
	}
	registryTrie, err := tries.OpenPageRegistryTrie()
	if err != nil {
		return nil, err
	}
	if err := reconstructAllocatorState(pages, nodes, strs, store, tries, registryTrie); err != nil {
		return nil, err
	}
	strs.attachFreeList(freeListTrie)
	pages.attachRegistry(registryTrie)

	return &Engine{Region: region, Pages: pages, Nodes: nodes, Str: strs, Store: store, Tries: tries}, nil
}

// CreateTrie allocates and opens a fresh named trie at id.
func (e *Engine) CreateTrie(id int, typ byte) (*Trie, error) {
	if err := e.Tries.Allocate(id, typ); err != nil {
		return nil, err
	}
	return e.Tries.Open(id)
}

// OpenTrie attaches to an already-allocated trie at id.
func (e *Engine) OpenTrie(id int) (*Trie, error) { return e.Tries.Open(id) }

// Snapshot forces the engine's region to a crash-consistent state on
// disk.
func (e *Engine) Snapshot() (int64, error) { return e.Region.Snapshot() }

// Close releases the engine's region.
func (e *Engine) Close() error { return e.Region.Close() }
