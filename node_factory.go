// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "sort"

// kvEntry is one decoded key/value pair, its key expressed relative to
// whatever subtree root it was gathered from. buildLeaf and
// gatherSubtreeEntries are the two halves of this package's insert/
// remove strategy: a structural edit gathers every entry under the
// affected subtree into a flat, sorted-by-construction list, applies
// the edit to that list, and rebuilds the whole subtree from scratch
// with buildLeaf. This trades strictly incremental, per-level
// restructuring for a simpler, uniform builder: every node shape
// (Inline/Basic/LargeKey single leaf, Sparse/Compressed/LargeKey
// multi-leaf, Binary/DenseBranch branch) is produced by one function
// instead of four separate split/merge/promote/demote code paths.
type kvEntry struct {
	key   KeyFragment
	value uint64
}

// isBranching reports whether typ is one of the two node shapes that
// hold children (Binary, DenseBranch) as opposed to a terminal leaf
// container (Inline, BasicKeyedTerminal, Sparse, Compressed, LargeKey).
func isBranching(typ NodeType) bool {
	return typ == NodeBinary || typ == NodeDenseBranch
}

// branchPair is one (label, child) pair of a Binary or DenseBranch node,
// in ascending label order.
type branchPair struct {
	label uint64
	child TriePtr
}

// branchPairs enumerates the present (label, child) pairs of a Binary
// or DenseBranch node. Binary's two slots are fixed by index (0 or 1,
// either may be absent); DenseBranch's children are already
// rank-compacted against its presence bitmap.
func branchPairs(n *node) []branchPair {
	if n.typ == NodeBinary {
		var out []branchPair
		for label := uint64(0); label < 2; label++ {
			if c := n.children[label]; !c.IsNull() {
				out = append(out, branchPair{label, c})
			}
		}
		return out
	}
	var out []branchPair
	idx := 0
	max := uint64(1) << uint(n.branchBits)
	for label := uint64(0); label < max; label++ {
		if denseHasLabel(n, label) {
			out = append(out, branchPair{label, n.children[idx]})
			idx++
		}
	}
	return out
}

// leafEntries decodes every (key, value) pair held directly by a
// terminal leaf-family node n (no recursion: n has no children).
func leafEntries(ns *NodeStore, n *node) ([]kvEntry, error) {
	switch n.typ {
	case NodeInline, NodeBasicKeyedTerminal:
		kf, err := LoadRepr(ns.na, n.key)
		if err != nil {
			return nil, err
		}
		return []kvEntry{{key: kf, value: n.value}}, nil
	case NodeSparse, NodeCompressed:
		out := make([]kvEntry, len(n.mkeys))
		for i, k := range n.mkeys {
			out[i] = kvEntry{key: KeyFromUint64(k, n.keyLen), value: n.mvalues[i]}
		}
		return out, nil
	case NodeLargeKey:
		out := make([]kvEntry, len(n.lkeys))
		for i, r := range n.lkeys {
			kf, err := LoadRepr(ns.na, r)
			if err != nil {
				return nil, err
			}
			out[i] = kvEntry{key: kf, value: n.lvalues[i]}
		}
		return out, nil
	default:
		return nil, &ErrLogical{"leafEntries: not a leaf-family node", int64(n.typ)}
	}
}

// leafMatch reports the value stored for an exact remaining key against
// a terminal leaf-family node, without materializing every entry.
func leafMatch(ns *NodeStore, n *node, remaining KeyFragment) (uint64, bool, error) {
	switch n.typ {
	case NodeInline, NodeBasicKeyedTerminal:
		kf, err := LoadRepr(ns.na, n.key)
		if err != nil {
			return 0, false, err
		}
		if kf.Equal(remaining) {
			return n.value, true, nil
		}
		return 0, false, nil
	case NodeSparse, NodeCompressed:
		if remaining.Len() != n.keyLen {
			return 0, false, nil
		}
		idx, found := multiLeafLookup(n, remaining.GetKey())
		if !found {
			return 0, false, nil
		}
		return n.mvalues[idx], true, nil
	case NodeLargeKey:
		for i, r := range n.lkeys {
			kf, err := LoadRepr(ns.na, r)
			if err != nil {
				return 0, false, err
			}
			if kf.Equal(remaining) {
				return n.lvalues[i], true, nil
			}
		}
		return 0, false, nil
	default:
		return 0, false, &ErrLogical{"leafMatch: not a leaf-family node", int64(n.typ)}
	}
}

// branchChild returns the child reached from n (a Binary or
// DenseBranch node) by label, and whether one is present.
func branchChild(n *node, label uint64) (TriePtr, bool) {
	switch n.typ {
	case NodeBinary:
		c := n.children[label]
		return c, !c.IsNull()
	case NodeDenseBranch:
		idx := denseMatchIndex(n, label)
		if idx < 0 {
			return NullTriePtr, false
		}
		return n.children[idx], true
	default:
		return NullTriePtr, false
	}
}

// gatherSubtreeEntries flattens every (key, value) pair reachable from
// ptr into a list of keys relative to ptr's own starting position,
// recursing through branching nodes and decoding leaf-family nodes
// directly.
func gatherSubtreeEntries(ns *NodeStore, ptr TriePtr) ([]kvEntry, error) {
	if ptr.IsNull() {
		return nil, nil
	}
	n, _, err := ns.load(ptr)
	if err != nil {
		return nil, err
	}
	prefixKF, err := LoadRepr(ns.na, n.prefix)
	if err != nil {
		return nil, err
	}
	var rel []kvEntry
	if isBranching(n.typ) {
		if n.hasValue {
			rel = append(rel, kvEntry{key: KeyFragment{}, value: n.value})
		}
		for _, pr := range branchPairs(n) {
			childEntries, err := gatherSubtreeEntries(ns, pr.child)
			if err != nil {
				return nil, err
			}
			labelKF := KeyFromUint64(pr.label, n.branchBits)
			for _, e := range childEntries {
				rel = append(rel, kvEntry{key: labelKF.Append(e.key), value: e.value})
			}
		}
	} else {
		rel, err = leafEntries(ns, n)
		if err != nil {
			return nil, err
		}
	}
	for i := range rel {
		rel[i].key = prefixKF.Append(rel[i].key)
	}
	return rel, nil
}

// buildSingleLeaf builds the smallest node able to hold one key/value
// pair: a zero-allocation Inline pointer if it fits, else a
// BasicKeyedTerminal (key fits inline in the node's own encoding) or
// LargeKey (key needed a heap chain).
func buildSingleLeaf(ns *NodeStore, key KeyFragment, value uint64) (TriePtr, error) {
	if p, ok := makeInline(key, value, true); ok {
		return p, nil
	}
	keyRepr, err := AllocRepr(ns.na, key)
	if err != nil {
		return NullTriePtr, err
	}
	if keyRepr.isHeap() {
		return ns.store(makeLargeKey(emptyRepr, false, 0, []KeyFragmentRepr{keyRepr}, []uint64{value}), true)
	}
	return ns.store(&node{typ: NodeBasicKeyedTerminal, prefix: emptyRepr, key: keyRepr, hasValue: true, value: value}, true)
}

// buildLeaf is the single entry point that turns a flat list of
// (key, value) pairs — gathered from an affected subtree plus one
// inserted/removed entry — back into a trie subtree. Every structural
// decision (path compression, which multi-leaf shape to pick, when to
// branch and on how many bits) is made here in one place:
//
//  1. zero entries: the empty subtree (NullTriePtr).
//  2. one entry: buildSingleLeaf.
//  3. more than one: strip the entries' shared leading bits into this
//     subtree's own prefix, peel off the at-most-one entry whose key is
//     now empty as this node's own value, then either pack the rest
//     into a multi-leaf node (Sparse, then LargeKey, then Compressed,
//     in that preference order) or split them into a Binary/DenseBranch
//     branch and recurse.
func buildLeaf(ns *NodeStore, entries []kvEntry) (TriePtr, error) {
	if len(entries) == 0 {
		return NullTriePtr, nil
	}
	if len(entries) == 1 {
		return buildSingleLeaf(ns, entries[0].key, entries[0].value)
	}

	shared := entries[0].key.Len()
	for _, e := range entries[1:] {
		if cp := entries[0].key.CommonPrefixLen(e.key); cp < shared {
			shared = cp
		}
	}
	prefixKF := entries[0].key.Prefix(shared)
	prefixRepr, err := AllocRepr(ns.na, prefixKF)
	if err != nil {
		return NullTriePtr, err
	}

	var hasValue bool
	var value uint64
	rest := make([]kvEntry, 0, len(entries))
	for _, e := range entries {
		stripped := e.key.Suffix(e.key.Len() - shared)
		if stripped.Len() == 0 {
			hasValue, value = true, e.value
			continue
		}
		rest = append(rest, kvEntry{key: stripped, value: e.value})
	}

	if !hasValue {
		if np, ok, err := tryMultiLeaf(ns, prefixRepr, rest); ok || err != nil {
			return np, err
		}
	}
	return buildBranch(ns, prefixRepr, hasValue, value, rest)
}

// tryMultiLeaf attempts to pack rest as a Sparse, LargeKey, or
// Compressed terminal node, in that preference order, reporting
// ok=false if none fits (the caller then builds a branch instead).
func tryMultiLeaf(ns *NodeStore, prefixRepr KeyFragmentRepr, rest []kvEntry) (TriePtr, bool, error) {
	sameLen, keyLen := sameKeyLen(rest)

	if sameLen && keyLen <= sparseMaxKeyBits && len(rest) <= sparseMaxEntries {
		keys, values := packMultiLeaf(rest)
		p, err := ns.store(makeSparse(prefixRepr, false, 0, keyLen, keys, values), true)
		return p, true, err
	}
	if len(rest) <= largeKeyMaxEntries {
		lkeys := make([]KeyFragmentRepr, len(rest))
		lvalues := make([]uint64, len(rest))
		sorted := append([]kvEntry(nil), rest...)
		sort.Slice(sorted, func(i, j int) bool { return keyLess(sorted[i].key, sorted[j].key) })
		for i, e := range sorted {
			r, err := AllocRepr(ns.na, e.key)
			if err != nil {
				return NullTriePtr, false, err
			}
			lkeys[i], lvalues[i] = r, e.value
		}
		p, err := ns.store(makeLargeKey(prefixRepr, false, 0, lkeys, lvalues), true)
		return p, true, err
	}
	if sameLen && keyLen <= sparseMaxKeyBits && len(rest) <= compressedMaxEntries {
		keys, values := packMultiLeaf(rest)
		p, err := ns.store(makeCompressed(prefixRepr, false, 0, keyLen, keys, values), true)
		return p, true, err
	}
	return NullTriePtr, false, nil
}

func sameKeyLen(entries []kvEntry) (bool, int) {
	keyLen := entries[0].key.Len()
	for _, e := range entries[1:] {
		if e.key.Len() != keyLen {
			return false, keyLen
		}
	}
	return true, keyLen
}

// packMultiLeaf sorts entries by key and packs them as right-aligned
// uint64 keys, for Sparse/Compressed storage; entries must already all
// share one bit length <= 64.
func packMultiLeaf(entries []kvEntry) (keys, values []uint64) {
	sorted := append([]kvEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].key.GetKey() < sorted[j].key.GetKey() })
	keys = make([]uint64, len(sorted))
	values = make([]uint64, len(sorted))
	for i, e := range sorted {
		keys[i] = e.key.GetKey()
		values[i] = e.value
	}
	return keys, values
}

// buildBranch splits rest into groups by their leading getArity(rest)
// bits and recursively builds each group, assembling either a Binary
// (1 bit, 2 fixed slots) or DenseBranch (2-4 bits, rank-compacted)
// node carrying hasValue/value of its own.
func buildBranch(ns *NodeStore, prefixRepr KeyFragmentRepr, hasValue bool, value uint64, rest []kvEntry) (TriePtr, error) {
	numBits := getArity(rest)
	groups := make(map[uint64][]kvEntry)
	for _, e := range rest {
		label := e.key.GetBits(numBits, 0)
		groups[label] = append(groups[label], kvEntry{key: e.key.Suffix(e.key.Len() - numBits), value: e.value})
	}

	if numBits == 1 {
		var children [2]TriePtr
		for label := uint64(0); label < 2; label++ {
			if g, ok := groups[label]; ok {
				p, err := buildLeaf(ns, g)
				if err != nil {
					return NullTriePtr, err
				}
				children[label] = p
			}
		}
		return ns.store(makeBinary(prefixRepr, hasValue, value, children), true)
	}

	var branch uint64
	var children []TriePtr
	max := uint64(1) << uint(numBits)
	for label := uint64(0); label < max; label++ {
		g, ok := groups[label]
		if !ok {
			continue
		}
		p, err := buildLeaf(ns, g)
		if err != nil {
			return NullTriePtr, err
		}
		branch |= uint64(1) << label
		children = append(children, p)
	}
	return ns.store(makeDenseBranch(prefixRepr, hasValue, value, numBits, branch, children), true)
}

// keyLess orders two KeyFragments bit-lexicographically, shorter-is-
// smaller on a tie. It puts LargeKey's differently-shaped entries into a
// stable order (lookups within LargeKey are a linear scan regardless of
// order), and iterator.go sorts entries and finds bounds with it.
func keyLess(a, b KeyFragment) bool {
	cp := a.CommonPrefixLen(b)
	if cp == a.Len() && cp == b.Len() {
		return false
	}
	if cp == a.Len() {
		return true
	}
	if cp == b.Len() {
		return false
	}
	return a.bitAt(cp) < b.bitAt(cp)
}
