// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "testing"

func TestIteratorForwardOrder(t *testing.T) {
	trie := newTestTrie(t)
	keys := []uint64{5, 1, 200, 3, 64, 0, 255}
	for _, k := range keys {
		if _, err := trie.Insert(KeyFromUint64(k, 8), k); err != nil {
			t.Fatal(err)
		}
	}

	it, err := trie.Begin()
	if err != nil {
		t.Fatal(err)
	}
	var got []uint64
	for it.Valid() {
		kf, err := it.Key()
		if err != nil {
			t.Fatal(err)
		}
		v, err := it.Value()
		if err != nil {
			t.Fatal(err)
		}
		if kf.GetKey() != v {
			t.Fatalf("key %d does not match stored value %d", kf.GetKey(), v)
		}
		got = append(got, v)
		ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}
	want := []uint64{0, 1, 3, 5, 64, 200, 255}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestIteratorEmptyTrie(t *testing.T) {
	trie := newTestTrie(t)
	it, err := trie.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if it.Valid() {
		t.Fatalf("Begin on an empty trie should be invalid")
	}
}

func TestIteratorLowerUpperBound(t *testing.T) {
	trie := newTestTrie(t)
	for _, k := range []uint64{10, 20, 30, 40} {
		if _, err := trie.Insert(KeyFromUint64(k, 8), k*100); err != nil {
			t.Fatal(err)
		}
	}

	it, err := trie.LowerBound(KeyFromUint64(20, 8))
	if err != nil {
		t.Fatal(err)
	}
	if !it.Valid() {
		t.Fatalf("LowerBound(20) should be valid")
	}
	if kf, _ := it.Key(); kf.GetKey() != 20 {
		t.Fatalf("LowerBound(20) landed on %d, want 20", kf.GetKey())
	}

	it, err = trie.LowerBound(KeyFromUint64(25, 8))
	if err != nil {
		t.Fatal(err)
	}
	if !it.Valid() {
		t.Fatalf("LowerBound(25) should be valid")
	}
	if kf, _ := it.Key(); kf.GetKey() != 30 {
		t.Fatalf("LowerBound(25) landed on %d, want 30", kf.GetKey())
	}

	it, err = trie.UpperBound(KeyFromUint64(30, 8))
	if err != nil {
		t.Fatal(err)
	}
	if !it.Valid() {
		t.Fatalf("UpperBound(30) should be valid")
	}
	if kf, _ := it.Key(); kf.GetKey() != 40 {
		t.Fatalf("UpperBound(30) landed on %d, want 40", kf.GetKey())
	}

	it, err = trie.UpperBound(KeyFromUint64(40, 8))
	if err != nil {
		t.Fatal(err)
	}
	if it.Valid() {
		t.Fatalf("UpperBound(40) should run off the end")
	}
}

func TestIteratorSnapshotIsolation(t *testing.T) {
	trie := newTestTrie(t)
	if _, err := trie.Insert(KeyFromUint64(1, 8), 1); err != nil {
		t.Fatal(err)
	}
	it, err := trie.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trie.Insert(KeyFromUint64(2, 8), 2); err != nil {
		t.Fatal(err)
	}
	// it was created before the second insert and should still only see
	// the single key that existed at Begin time.
	count := 0
	for it.Valid() {
		count++
		ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}
	if count != 1 {
		t.Fatalf("snapshot iterator saw %d keys, want 1", count)
	}
}
