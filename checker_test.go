// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "testing"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := OpenMem(Options{InitialSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestCheckerCleanTriesReportNoErrors(t *testing.T) {
	eng := newTestEngine(t)
	trie, err := eng.CreateTrie(reservedTrieSlots, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if _, err := trie.Insert(KeyFromUint64(uint64(i), 16), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}

	c := NewChecker(eng.Tries, eng.Store)
	rep := c.Run(CheckerOptions{MinID: reservedTrieSlots, MaxID: reservedTrieSlots})
	if len(rep.Errors) != 0 {
		t.Fatalf("unexpected errors on a clean trie: %v", rep.Errors)
	}
	if rep.TriesChecked != 1 {
		t.Fatalf("TriesChecked = %d, want 1", rep.TriesChecked)
	}
	if rep.EntriesTotal != 50 {
		t.Fatalf("EntriesTotal = %d, want 50", rep.EntriesTotal)
	}
}

func TestCheckerSkipsUnallocatedIds(t *testing.T) {
	eng := newTestEngine(t)
	c := NewChecker(eng.Tries, eng.Store)
	rep := c.Run(CheckerOptions{MinID: reservedTrieSlots, MaxID: reservedTrieSlots + 3, Recover: true})
	if rep.TriesChecked != 0 {
		t.Fatalf("TriesChecked = %d, want 0 for never-allocated ids", rep.TriesChecked)
	}
	if rep.EntriesTotal != 0 {
		t.Fatalf("EntriesTotal = %d, want 0", rep.EntriesTotal)
	}
}

func TestRepairerKeepsDecodableSubtrees(t *testing.T) {
	eng := newTestEngine(t)
	trie, err := eng.CreateTrie(reservedTrieSlots, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if _, err := trie.Insert(KeyFromUint64(uint64(i), 16), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRepairer(eng.Tries, eng.Store)
	kept, dropped, err := r.Repair(reservedTrieSlots)
	if err != nil {
		t.Fatal(err)
	}
	if dropped != 0 {
		t.Fatalf("Repair on an intact trie dropped %d subtrees, want 0", dropped)
	}
	if kept != 20 {
		t.Fatalf("Repair kept %d entries, want 20", kept)
	}

	// The trie must still answer correctly after repair rebuilt it.
	for i := 0; i < 20; i++ {
		v, ok, err := trie.Find(KeyFromUint64(uint64(i), 16))
		if err != nil || !ok || v != uint64(i) {
			t.Fatalf("Find(%d) after repair = (%d,%v,%v)", i, v, ok, err)
		}
	}
}
