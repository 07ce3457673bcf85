// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "sort"

// sparseMaxEntries bounds how many same-length entries a Sparse node
// holds before buildLeaf reaches for Compressed (more entries, same
// shape) or a branching node instead.
const sparseMaxEntries = 4

// sparseMaxKeyBits is the widest a Sparse/Compressed entry key may be:
// both variants keep keys as right-aligned uint64 words rather than
// KeyFragmentRepr, so an entry never needs an allocation of its own.
const sparseMaxKeyBits = 64

// NodeSparse is a terminal multi-leaf node: up to sparseMaxEntries
// same-length keys (each <=64 bits) packed directly alongside their
// values, no children at all. It is the natural shape for "a handful of
// short keys diverge right here and none of them needs to branch any
// further."
func makeSparse(prefix KeyFragmentRepr, hasValue bool, value uint64, keyLen int, keys, values []uint64) *node {
	return &node{typ: NodeSparse, prefix: prefix, hasValue: hasValue, value: value, keyLen: keyLen, mkeys: keys, mvalues: values}
}

// multiLeafFits reports whether count same-length entries of keyLen
// bits can be represented as a Sparse or Compressed node at all.
func multiLeafFits(keyLen, count int) bool {
	return keyLen >= 0 && keyLen <= sparseMaxKeyBits && count > 0
}

// multiLeafLookup returns the index of key within n's ascending mkeys
// and true if present, or the insertion point and false if absent.
func multiLeafLookup(n *node, key uint64) (int, bool) {
	i := sort.Search(len(n.mkeys), func(i int) bool { return n.mkeys[i] >= key })
	if i < len(n.mkeys) && n.mkeys[i] == key {
		return i, true
	}
	return i, false
}
