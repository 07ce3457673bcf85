// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// NodeBasicKeyedTerminal is a single key/value leaf whose remaining key
// suffix fits inline (<=maxInlineBits): the common case for
// a trie holding short keys. basicMatchKey reports whether a candidate
// suffix equals this node's stored key exactly.
func makeBasicKeyedTerminal(ns *NodeStore, prefix, key KeyFragmentRepr, value uint64) (TriePtr, error) {
	n := &node{typ: NodeBasicKeyedTerminal, prefix: prefix, key: key, hasValue: true, value: value}
	return ns.store(n, true)
}

// basicMatchKey reports whether suffix exactly equals n's stored key.
func basicMatchKey(ns *NodeStore, n *node, suffix KeyFragment) (bool, error) {
	key, err := LoadRepr(ns.na, n.key)
	if err != nil {
		return false, err
	}
	return key.Equal(suffix), nil
}
