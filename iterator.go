// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "sort"

// A TrieIterator walks a Trie's key space in ascending order. It is a
// point-in-time snapshot: gatherSubtreeEntries is called exactly once,
// against whatever root was published when the iterator was created,
// so a concurrent Insert/Remove publishing a new root afterward is
// never observed — the same guarantee a reader gets from any
// copy-on-write structure, just made explicit here as a materialized,
// sorted list instead of a live walk.
type TrieIterator struct {
	t       *Trie
	entries []kvEntry // ascending by key
	idx     int
}

func newSnapshotIterator(t *Trie, root TriePtr) (*TrieIterator, error) {
	entries, err := gatherSubtreeEntries(t.ns, root)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return keyLess(entries[i].key, entries[j].key) })
	return &TrieIterator{t: t, entries: entries}, nil
}

// Begin returns an iterator positioned at the first key in the trie.
func (t *Trie) Begin() (*TrieIterator, error) {
	return newSnapshotIterator(t, t.loadRoot())
}

// End returns the one-past-the-last sentinel iterator.
func (t *Trie) End() *TrieIterator {
	it, _ := newSnapshotIterator(t, t.loadRoot())
	if it == nil {
		it = &TrieIterator{t: t}
	}
	it.idx = len(it.entries)
	return it
}

// Valid reports whether the iterator designates a key/value pair.
func (it *TrieIterator) Valid() bool { return it.idx >= 0 && it.idx < len(it.entries) }

// Key returns the full key at the iterator's current position.
func (it *TrieIterator) Key() (KeyFragment, error) {
	if !it.Valid() {
		return KeyFragment{}, &ErrLogical{"Key: iterator not valid", 0}
	}
	return it.entries[it.idx].key, nil
}

// Value returns the value at the iterator's current position.
func (it *TrieIterator) Value() (uint64, error) {
	if !it.Valid() {
		return 0, &ErrLogical{"Value: iterator not valid", 0}
	}
	return it.entries[it.idx].value, nil
}

// Next advances the iterator to the next key in order, reporting
// whether it remains valid (false once it reaches End).
func (it *TrieIterator) Next() (bool, error) {
	if it.idx < len(it.entries) {
		it.idx++
	}
	return it.Valid(), nil
}

// LowerBound returns an iterator at the first key >= key.
func (t *Trie) LowerBound(key KeyFragment) (*TrieIterator, error) {
	it, err := newSnapshotIterator(t, t.loadRoot())
	if err != nil {
		return nil, err
	}
	it.idx = sort.Search(len(it.entries), func(i int) bool { return !keyLess(it.entries[i].key, key) })
	return it, nil
}

// UpperBound returns an iterator at the first key > key.
func (t *Trie) UpperBound(key KeyFragment) (*TrieIterator, error) {
	it, err := newSnapshotIterator(t, t.loadRoot())
	if err != nil {
		return nil, err
	}
	it.idx = sort.Search(len(it.entries), func(i int) bool { return keyLess(key, it.entries[i].key) })
	return it, nil
}
