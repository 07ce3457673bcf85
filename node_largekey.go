// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// largeKeyMaxEntries bounds how many entries a LargeKey node holds:
// kept small since, unlike Sparse/Compressed, each entry's key may be a
// heap KeyFragmentRepr chain that costs its own allocation and an extra
// indirection to read.
const largeKeyMaxEntries = 3

// NodeLargeKey is a terminal multi-leaf node whose entries don't share
// a single bit length or don't fit the 64-bit word Sparse/Compressed
// require: each key is its own KeyFragmentRepr, inline or heap-chained
// as AllocRepr decides, alongside its own value.
func makeLargeKey(prefix KeyFragmentRepr, hasValue bool, value uint64, keys []KeyFragmentRepr, values []uint64) *node {
	return &node{typ: NodeLargeKey, prefix: prefix, hasValue: hasValue, value: value, lkeys: keys, lvalues: values}
}
