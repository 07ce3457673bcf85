// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// compressedMaxEntries bounds how many same-length entries a
// Compressed node holds: more than Sparse's sparseMaxEntries but still
// bit-packed the same way and searched by the same binary search,
// chosen once a node has more same-length siblings than Sparse accepts.
const compressedMaxEntries = 255

// NodeCompressed is, like NodeSparse, a terminal multi-leaf node with
// no children: up to compressedMaxEntries same-length keys packed as
// right-aligned uint64 words. The two variants share physical layout
// and lookup code (multiLeafLookup); they differ only in the entry
// count buildLeaf will accept before giving up and branching instead.
func makeCompressed(prefix KeyFragmentRepr, hasValue bool, value uint64, keyLen int, keys, values []uint64) *node {
	return &node{typ: NodeCompressed, prefix: prefix, hasValue: hasValue, value: value, keyLen: keyLen, mkeys: keys, mvalues: values}
}
