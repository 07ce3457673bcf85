// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "testing"

// rootNodeType loads the node at the trie's current root and returns its
// type, failing the test if the root is null.
func rootNodeType(t *testing.T, trie *Trie) NodeType {
	t.Helper()
	root := trie.loadRoot()
	if root.IsNull() {
		t.Fatalf("trie root is null")
	}
	n, _, err := trie.ns.load(root)
	if err != nil {
		t.Fatal(err)
	}
	return n.typ
}

func TestMultiLeafStaysSparseUpToFourEntries(t *testing.T) {
	trie := newTestTrie(t)
	for i := 0; i < sparseMaxEntries; i++ {
		if _, err := trie.Insert(KeyFromUint64(uint64(i), 16), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if typ := rootNodeType(t, trie); typ != NodeSparse {
		t.Fatalf("root type = %v, want NodeSparse at %d same-length entries", typ, sparseMaxEntries)
	}
}

func TestMultiLeafPromotesToCompressedAboveSparse(t *testing.T) {
	trie := newTestTrie(t)
	for i := 0; i < sparseMaxEntries+1; i++ {
		if _, err := trie.Insert(KeyFromUint64(uint64(i), 16), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if typ := rootNodeType(t, trie); typ != NodeCompressed {
		t.Fatalf("root type = %v, want NodeCompressed once entries exceed sparseMaxEntries", typ)
	}
}

func TestMultiLeafPromotesToDenseBranchAboveCompressed(t *testing.T) {
	trie := newTestTrie(t)
	n := compressedMaxEntries + 1
	for i := 0; i < n; i++ {
		if _, err := trie.Insert(KeyFromUint64(uint64(i), 16), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if typ := rootNodeType(t, trie); typ != NodeDenseBranch {
		t.Fatalf("root type = %v, want NodeDenseBranch once entries exceed compressedMaxEntries", typ)
	}
	for i := 0; i < n; i++ {
		v, ok, err := trie.Find(KeyFromUint64(uint64(i), 16))
		if err != nil || !ok || v != uint64(i) {
			t.Fatalf("Find(%d) = (%d,%v,%v)", i, v, ok, err)
		}
	}
}

func TestDenseBranchChildrenStayWithinBitWidthCap(t *testing.T) {
	trie := newTestTrie(t)
	n := compressedMaxEntries + 1
	for i := 0; i < n; i++ {
		if _, err := trie.Insert(KeyFromUint64(uint64(i), 16), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	root := trie.loadRoot()
	rn, _, err := trie.ns.load(root)
	if err != nil {
		t.Fatal(err)
	}
	if rn.typ != NodeDenseBranch {
		t.Fatalf("root type = %v, want NodeDenseBranch", rn.typ)
	}
	if rn.branchBits < denseMinBranchBits || rn.branchBits > denseMaxBranchBits {
		t.Fatalf("branchBits = %d, want within [%d,%d]", rn.branchBits, denseMinBranchBits, denseMaxBranchBits)
	}
	for _, pr := range branchPairs(rn) {
		cn, _, err := trie.ns.load(pr.child)
		if err != nil {
			t.Fatal(err)
		}
		if cn.typ == NodeBinary && cn.branchBits != 1 {
			t.Fatalf("NodeBinary child reported branchBits = %d, want 1", cn.branchBits)
		}
		if cn.typ == NodeDenseBranch && (cn.branchBits < denseMinBranchBits || cn.branchBits > denseMaxBranchBits) {
			t.Fatalf("child branchBits = %d, out of range", cn.branchBits)
		}
	}
}

func TestDenseBranchDemotesOnRemove(t *testing.T) {
	trie := newTestTrie(t)
	n := compressedMaxEntries + 1
	for i := 0; i < n; i++ {
		if _, err := trie.Insert(KeyFromUint64(uint64(i), 16), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if typ := rootNodeType(t, trie); typ != NodeDenseBranch {
		t.Fatalf("root type after inserts = %v, want NodeDenseBranch", typ)
	}
	// Remove enough entries to fall back within Compressed's range.
	for i := 0; i < n-5; i++ {
		if removed, err := trie.Remove(KeyFromUint64(uint64(i), 16)); err != nil || !removed {
			t.Fatalf("Remove(%d): removed=%v err=%v", i, removed, err)
		}
	}
	if typ := rootNodeType(t, trie); typ != NodeCompressed {
		t.Fatalf("root type after demotion = %v, want NodeCompressed", typ)
	}
	for i := n - 5; i < n; i++ {
		v, ok, err := trie.Find(KeyFromUint64(uint64(i), 16))
		if err != nil || !ok || v != uint64(i) {
			t.Fatalf("surviving key %d: Find = (%d,%v,%v)", i, v, ok, err)
		}
	}
}

func TestLeafNodeVariantBySize(t *testing.T) {
	trie := newTestTrie(t)
	// A short, single-entry key packs into the inline pointer word with
	// no allocation at all.
	short := KeyFromUint64(0xAB, 8)
	if _, err := trie.Insert(short, 1); err != nil {
		t.Fatal(err)
	}
	if typ := rootNodeType(t, trie); typ != NodeInline {
		t.Fatalf("a single short key produced node type %v, want NodeInline", typ)
	}
	if v, ok, err := trie.Find(short); err != nil || !ok || v != 1 {
		t.Fatalf("Find(short) = (%d,%v,%v)", v, ok, err)
	}

	trie2 := newTestTrie(t)
	long := KeyFromBytes(make([]byte, 64))
	for i := range long.data {
		long.data[i] = byte(i + 1)
	}
	if _, err := trie2.Insert(long, 2); err != nil {
		t.Fatal(err)
	}
	typ := rootNodeType(t, trie2)
	if typ != NodeLargeKey && typ != NodeBasicKeyedTerminal {
		t.Fatalf("a single long-key insert produced node type %v, want a keyed terminal", typ)
	}
	if v, ok, err := trie2.Find(long); err != nil || !ok || v != 2 {
		t.Fatalf("Find(long) = (%d,%v,%v)", v, ok, err)
	}
}

func TestLargeKeyHoldsUpToThreeMixedLengthEntries(t *testing.T) {
	trie := newTestTrie(t)
	keys := []KeyFragment{
		KeyFromBytes(make([]byte, 40)),
		KeyFromBytes(append(make([]byte, 38), 0x01)),
		KeyFromBytes(append(make([]byte, 41), 0x02)),
	}
	for i, k := range keys {
		if _, err := trie.Insert(k, uint64(i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if typ := rootNodeType(t, trie); typ != NodeLargeKey {
		t.Fatalf("root type = %v, want NodeLargeKey for 3 differently-shaped large keys", typ)
	}
	for i, k := range keys {
		v, ok, err := trie.Find(k)
		if err != nil || !ok || v != uint64(i+1) {
			t.Fatalf("Find(keys[%d]) = (%d,%v,%v)", i, v, ok, err)
		}
	}
}
