// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestEngineOpenMemAndCreateTrie(t *testing.T) {
	eng, err := OpenMem(Options{InitialSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	trie, err := eng.CreateTrie(reservedTrieSlots, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trie.Insert(KeyFromUint64(1, 8), 1); err != nil {
		t.Fatal(err)
	}

	// Creating the same id twice should fail; the slot is already taken.
	if _, err := eng.CreateTrie(reservedTrieSlots, 1); err == nil {
		t.Fatalf("expected an error creating a trie at an already-allocated id")
	}
}

func TestEngineSnapshotOnMemRegionIsNoop(t *testing.T) {
	eng, err := OpenMem(Options{InitialSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()
	n, err := eng.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("Snapshot on a heap-backed engine returned %d, want 0", n)
	}
}

func TestEngineMultipleIndependentTries(t *testing.T) {
	eng, err := OpenMem(Options{InitialSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	a, err := eng.CreateTrie(reservedTrieSlots, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.CreateTrie(reservedTrieSlots+1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Insert(KeyFromUint64(1, 8), 100); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Insert(KeyFromUint64(1, 8), 200); err != nil {
		t.Fatal(err)
	}
	va, _, err := a.Find(KeyFromUint64(1, 8))
	if err != nil {
		t.Fatal(err)
	}
	vb, _, err := b.Find(KeyFromUint64(1, 8))
	if err != nil {
		t.Fatal(err)
	}
	if va != 100 || vb != 200 {
		t.Fatalf("tries a/b should be independent, got a=%d b=%d", va, vb)
	}
}

// TestEngineMMapReopenPreservesAllocatorState closes a file-backed engine
// with live data spread across several node-allocator size classes and
// page groups, a mix of still-present and removed keys, then reopens it
// and checks that every allocator's bookkeeping survived the round trip:
// surviving keys are found with their original values, removed keys stay
// gone, fresh allocations after reopen do not collide with reconstructed
// state, and a Checker pass over the reopened trie reports no corruption.
func TestEngineMMapReopenPreservesAllocatorState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mmtrie.db")

	eng, err := Open(path, Options{Mode: ResCreate, Perm: PermReadWrite, InitialSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	trie, err := eng.CreateTrie(reservedTrieSlots, 1)
	if err != nil {
		t.Fatal(err)
	}

	const n = 600
	for i := 0; i < n; i++ {
		key := KeyFromUint64(uint64(i), 32)
		if _, err := trie.Insert(key, uint64(i)*7+1); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// A handful of long byte-string keys, to force real BasicKeyedTerminal/
	// LargeKey nodes with heap key-fragment chunks instead of everything
	// packing into an inline TriePtr.
	const longKeys = 40
	for i := 0; i < longKeys; i++ {
		key := KeyFromBytes([]byte(fmt.Sprintf("a long trie key requiring heap storage #%04d", i)))
		if _, err := trie.Insert(key, uint64(i)); err != nil {
			t.Fatalf("Insert(long %d): %v", i, err)
		}
	}

	// Remove every third short key so both the node allocator and the
	// page/string free lists carry live free state across the reopen,
	// not just fully-occupied arenas.
	removed := map[int]bool{}
	for i := 0; i < n; i += 3 {
		key := KeyFromUint64(uint64(i), 32)
		ok, err := trie.Remove(key)
		if err != nil || !ok {
			t.Fatalf("Remove(%d): ok=%v err=%v", i, ok, err)
		}
		removed[i] = true
	}

	if _, err := eng.Snapshot(); err != nil {
		t.Fatal(err)
	}
	if err := eng.Close(); err != nil {
		t.Fatal(err)
	}

	eng2, err := Open(path, Options{Mode: ResOpen, Perm: PermReadWrite})
	if err != nil {
		t.Fatal(err)
	}
	defer eng2.Close()

	if eng2.Pages.registry == nil || eng2.Str.freeList == nil {
		t.Fatalf("reopen did not attach the page registry / string free list tries")
	}

	trie2, err := eng2.OpenTrie(reservedTrieSlots)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		key := KeyFromUint64(uint64(i), 32)
		v, ok, err := trie2.Find(key)
		if err != nil {
			t.Fatalf("Find(%d) after reopen: %v", i, err)
		}
		if removed[i] {
			if ok {
				t.Fatalf("Find(%d) after reopen: still present, want removed", i)
			}
			continue
		}
		if !ok {
			t.Fatalf("Find(%d) after reopen: not found", i)
		}
		if want := uint64(i)*7 + 1; v != want {
			t.Fatalf("Find(%d) after reopen = %d, want %d", i, v, want)
		}
	}
	for i := 0; i < longKeys; i++ {
		key := KeyFromBytes([]byte(fmt.Sprintf("a long trie key requiring heap storage #%04d", i)))
		v, ok, err := trie2.Find(key)
		if err != nil || !ok || v != uint64(i) {
			t.Fatalf("Find(long %d) after reopen: v=%d ok=%v err=%v", i, v, ok, err)
		}
	}

	// A reopened allocator must still be able to serve fresh allocations
	// without colliding with anything reconstructed above.
	for i := n; i < n+50; i++ {
		key := KeyFromUint64(uint64(i), 32)
		if _, err := trie2.Insert(key, uint64(i)); err != nil {
			t.Fatalf("Insert(%d) after reopen: %v", i, err)
		}
	}
	for i := n; i < n+50; i++ {
		key := KeyFromUint64(uint64(i), 32)
		v, ok, err := trie2.Find(key)
		if err != nil || !ok || v != uint64(i) {
			t.Fatalf("Find(%d) after post-reopen insert: v=%d ok=%v err=%v", i, v, ok, err)
		}
	}

	c := NewChecker(eng2.Tries, eng2.Store)
	rep := c.Run(CheckerOptions{MinID: reservedTrieSlots, MaxID: reservedTrieSlots})
	if len(rep.Errors) != 0 {
		t.Fatalf("Checker found %d errors after reopen: %v", len(rep.Errors), rep.Errors)
	}
	wantEntries := int64(n - len(removed) + longKeys + 50)
	if rep.EntriesTotal != wantEntries {
		t.Fatalf("Checker EntriesTotal = %d, want %d", rep.EntriesTotal, wantEntries)
	}
}
