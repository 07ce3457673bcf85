// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import (
	"encoding/binary"
	"sync/atomic"
)

// A Trie is one concurrent radix trie rooted at a TriePtr word kept in
// the region. Every mutating operation gathers the entries under the
// current root, rebuilds a new trie from them with the edit applied (see
// insertAt and removeAt), and publishes its root with a single
// compare-and-swap against the current root, so readers
// walking the old root never observe a partial edit. Trie.Transaction
// (txn.go) layers batched,
// in-place, three-way-merged edits on top of this same primitive for
// callers who want to group several operations into one atomic commit.
type Trie struct {
	ns      *NodeStore
	reg     Region
	slotOff int64 // region offset of this trie's TrieBlock.root word
	root    atomic.Uint64
}

// openTrie loads a Trie whose root word lives at slotOff, initializing
// root from whatever is currently persisted there.
func openTrie(ns *NodeStore, reg Region, slotOff int64) (*Trie, error) {
	t := &Trie{ns: ns, reg: reg, slotOff: slotOff}
	err := reg.Pinned(func(mem []byte) error {
		t.root.Store(binary.LittleEndian.Uint64(mem[slotOff:]))
		return nil
	})
	return t, err
}

func (t *Trie) loadRoot() TriePtr { return TriePtr(t.root.Load()) }

func (t *Trie) persistRoot(p TriePtr) error {
	return t.reg.Pinned(func(mem []byte) error {
		binary.LittleEndian.PutUint64(mem[t.slotOff:], uint64(p))
		return nil
	})
}

// casRoot attempts to publish newRoot in place of old, persisting the
// new value to the region on success.
func (t *Trie) casRoot(old, newRoot TriePtr) bool {
	if !t.root.CompareAndSwap(uint64(old), uint64(newRoot)) {
		return false
	}
	t.persistRoot(newRoot)
	return true
}

// emptyRepr is the zero-length KeyFragmentRepr shared by every freshly
// built root-of-subtree prefix that happens to be empty.
var emptyRepr = KeyFragmentRepr{inline: []byte{}}

// Insert adds key/value, replacing any existing value for key. It
// reports whether the key was newly inserted, true exactly once per
// distinct key.
func (t *Trie) Insert(key KeyFragment, value uint64) (bool, error) {
	for {
		old := t.loadRoot()
		newRoot, inserted, err := t.insertAt(old, key, value)
		if err != nil {
			return false, err
		}
		if t.casRoot(old, newRoot) {
			return inserted, nil
		}
	}
}

// insertAt rebuilds the subtree at ptr to additionally hold key/value.
// Rather than walking to the exact point of divergence and splicing in
// a new branch incrementally (four separate cases: break a shared
// prefix, insert a sibling value, break an existing branch wider, or
// recurse into a matching child), every insert gathers ptr's entire
// current contents, folds the new entry into that flat list, and asks
// buildLeaf to construct the replacement subtree from scratch. The old
// subtree is freed once the replacement exists.
func (t *Trie) insertAt(ptr TriePtr, key KeyFragment, value uint64) (TriePtr, bool, error) {
	entries, err := gatherSubtreeEntries(t.ns, ptr)
	if err != nil {
		return NullTriePtr, false, err
	}
	inserted := true
	for i, e := range entries {
		if e.key.Equal(key) {
			entries[i].value = value
			inserted = false
			break
		}
	}
	if inserted {
		entries = append(entries, kvEntry{key: key, value: value})
	}
	np, err := buildLeaf(t.ns, entries)
	if err != nil {
		return NullTriePtr, false, err
	}
	if err := freeSubtree(t.ns, ptr); err != nil {
		return NullTriePtr, false, err
	}
	return np, inserted, nil
}

// Find reports the value stored for key, if any.
func (t *Trie) Find(key KeyFragment) (uint64, bool, error) {
	return findInTrie(t.ns, t.loadRoot(), key)
}

// findInTrie is Find's logic over an arbitrary candidate root, with no
// dependency on a Trie's published root word: used directly by Find and
// by TrieTransaction to peek at working/merge-candidate roots without
// disturbing the live trie other goroutines are reading.
func findInTrie(ns *NodeStore, ptr TriePtr, key KeyFragment) (uint64, bool, error) {
	for {
		if ptr.IsNull() {
			return 0, false, nil
		}
		n, _, err := ns.load(ptr)
		if err != nil {
			return 0, false, err
		}
		prefixKF, err := LoadRepr(ns.na, n.prefix)
		if err != nil {
			return 0, false, err
		}
		cp := key.CommonPrefixLen(prefixKF)
		if cp != prefixKF.Len() {
			return 0, false, nil
		}
		remaining := key.Suffix(key.Len() - cp)
		if !isBranching(n.typ) {
			return leafMatch(ns, n, remaining)
		}
		if remaining.Len() == 0 {
			return n.value, n.hasValue, nil
		}
		label := remaining.GetBits(n.branchBits, 0)
		child, ok := branchChild(n, label)
		if !ok {
			return 0, false, nil
		}
		ptr = child
		key = remaining.Suffix(remaining.Len() - n.branchBits)
	}
}

// Remove deletes key if present, reporting whether it was present.
func (t *Trie) Remove(key KeyFragment) (bool, error) {
	for {
		old := t.loadRoot()
		newRoot, removed, err := t.removeAt(old, key)
		if err != nil {
			return false, err
		}
		if !removed {
			return false, nil
		}
		if t.casRoot(old, newRoot) {
			return true, nil
		}
	}
}

// removeAt mirrors insertAt: gather ptr's entries, drop the one
// matching key (reporting removed=false with the old ptr unchanged if
// it isn't present), and rebuild.
func (t *Trie) removeAt(ptr TriePtr, key KeyFragment) (TriePtr, bool, error) {
	entries, err := gatherSubtreeEntries(t.ns, ptr)
	if err != nil {
		return NullTriePtr, false, err
	}
	idx := -1
	for i, e := range entries {
		if e.key.Equal(key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ptr, false, nil
	}
	remaining := append(append([]kvEntry(nil), entries[:idx]...), entries[idx+1:]...)
	np, err := buildLeaf(t.ns, remaining)
	if err != nil {
		return NullTriePtr, false, err
	}
	if err := freeSubtree(t.ns, ptr); err != nil {
		return NullTriePtr, false, err
	}
	return np, true, nil
}
