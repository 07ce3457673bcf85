// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "testing"

func newTestTrie(t *testing.T) *Trie {
	t.Helper()
	eng, err := OpenMem(Options{InitialSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	trie, err := eng.CreateTrie(reservedTrieSlots, 1)
	if err != nil {
		t.Fatal(err)
	}
	return trie
}

func TestTrieInsertFindLinear(t *testing.T) {
	trie := newTestTrie(t)
	const n = 1000
	for i := 0; i < n; i++ {
		key := KeyFromUint64(uint64(i), 32)
		inserted, err := trie.Insert(key, uint64(i)*7+1)
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		if !inserted {
			t.Fatalf("Insert(%d) reported not-newly-inserted on first insert", i)
		}
	}
	for i := 0; i < n; i++ {
		key := KeyFromUint64(uint64(i), 32)
		v, ok, err := trie.Find(key)
		if err != nil {
			t.Fatalf("Find(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Find(%d): not found", i)
		}
		if want := uint64(i)*7 + 1; v != want {
			t.Fatalf("Find(%d) = %d, want %d", i, v, want)
		}
	}
}

func TestTrieInsertReplaceReturnsFalse(t *testing.T) {
	trie := newTestTrie(t)
	key := KeyFromUint64(42, 16)
	inserted, err := trie.Insert(key, 1)
	if err != nil || !inserted {
		t.Fatalf("first Insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = trie.Insert(key, 2)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Fatalf("second Insert of same key reported newly-inserted")
	}
	v, ok, err := trie.Find(key)
	if err != nil || !ok || v != 2 {
		t.Fatalf("Find after replace = (%d,%v,%v), want (2,true,nil)", v, ok, err)
	}
}

func TestTrieRemove(t *testing.T) {
	trie := newTestTrie(t)
	keys := []uint64{0, 1, 2, 256, 257, 65535, 1 << 20}
	for _, k := range keys {
		if _, err := trie.Insert(KeyFromUint64(k, 32), k); err != nil {
			t.Fatal(err)
		}
	}
	for _, k := range keys {
		removed, err := trie.Remove(KeyFromUint64(k, 32))
		if err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
		if !removed {
			t.Fatalf("Remove(%d) reported not-present", k)
		}
		if _, ok, err := trie.Find(KeyFromUint64(k, 32)); err != nil || ok {
			t.Fatalf("Find(%d) after remove = ok=%v err=%v, want false", k, ok, err)
		}
	}
}

func TestTrieRemoveIsIdempotent(t *testing.T) {
	trie := newTestTrie(t)
	key := KeyFromUint64(9, 8)
	if _, err := trie.Insert(key, 99); err != nil {
		t.Fatal(err)
	}
	removed, err := trie.Remove(key)
	if err != nil || !removed {
		t.Fatalf("first Remove: removed=%v err=%v", removed, err)
	}
	removed, err = trie.Remove(key)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatalf("second Remove of an absent key reported removed=true")
	}
}

func TestTrieRemoveMissingKey(t *testing.T) {
	trie := newTestTrie(t)
	if _, err := trie.Insert(KeyFromUint64(1, 8), 1); err != nil {
		t.Fatal(err)
	}
	removed, err := trie.Remove(KeyFromUint64(2, 8))
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatalf("Remove of a never-inserted key reported removed=true")
	}
}

func TestEngineCreateTrieAndReopen(t *testing.T) {
	eng, err := OpenMem(Options{InitialSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	trie, err := eng.CreateTrie(reservedTrieSlots, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trie.Insert(KeyFromUint64(123, 16), 456); err != nil {
		t.Fatal(err)
	}

	reopened, err := eng.OpenTrie(reservedTrieSlots)
	if err != nil {
		t.Fatal(err)
	}
	v, ok, err := reopened.Find(KeyFromUint64(123, 16))
	if err != nil || !ok || v != 456 {
		t.Fatalf("reopened trie Find = (%d,%v,%v), want (456,true,nil)", v, ok, err)
	}
}
