// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "testing"

func TestTransactionCommitNoConflict(t *testing.T) {
	trie := newTestTrie(t)
	if _, err := trie.Insert(KeyFromUint64(1, 8), 10); err != nil {
		t.Fatal(err)
	}

	txn := trie.Transaction()
	if _, err := txn.Insert(KeyFromUint64(2, 8), 20); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Remove(KeyFromUint64(1, 8)); err != nil {
		t.Fatal(err)
	}

	// Not yet visible to the live trie.
	if _, ok, err := trie.Find(KeyFromUint64(2, 8)); err != nil || ok {
		t.Fatalf("key visible before commit: ok=%v err=%v", ok, err)
	}
	// Visible to the transaction's own read-your-writes view.
	if v, ok, err := txn.Find(KeyFromUint64(2, 8)); err != nil || !ok || v != 20 {
		t.Fatalf("txn.Find before commit = (%d,%v,%v), want (20,true,nil)", v, ok, err)
	}

	if err := txn.Commit(nil, nil); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := trie.Find(KeyFromUint64(2, 8)); err != nil || !ok || v != 20 {
		t.Fatalf("after commit, Find(2) = (%d,%v,%v), want (20,true,nil)", v, ok, err)
	}
	if _, ok, err := trie.Find(KeyFromUint64(1, 8)); err != nil || ok {
		t.Fatalf("after commit, key 1 should have been removed: ok=%v err=%v", ok, err)
	}
}

func TestTransactionRollback(t *testing.T) {
	trie := newTestTrie(t)
	txn := trie.Transaction()
	if _, err := txn.Insert(KeyFromUint64(5, 8), 50); err != nil {
		t.Fatal(err)
	}
	txn.Rollback()
	if err := txn.Commit(nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := trie.Find(KeyFromUint64(5, 8)); err != nil || ok {
		t.Fatalf("a rolled-back transaction's edits became visible: ok=%v err=%v", ok, err)
	}
}

func TestTransactionMergeInsertConflict(t *testing.T) {
	trie := newTestTrie(t)
	key := KeyFromUint64(7, 8)
	if _, err := trie.Insert(key, 100); err != nil {
		t.Fatal(err)
	}

	txn := trie.Transaction()
	if _, err := txn.Insert(key, 200); err != nil {
		t.Fatal(err)
	}

	// Simulate an interleaving writer changing the same key after the
	// transaction started but before it commits.
	if _, err := trie.Insert(key, 300); err != nil {
		t.Fatal(err)
	}

	var sawConflict bool
	err := txn.Commit(func(k KeyFragment, txnValue, liveValue uint64) (uint64, bool) {
		sawConflict = true
		if txnValue != 200 || liveValue != 300 {
			t.Fatalf("conflict callback args = (%d,%d), want (200,300)", txnValue, liveValue)
		}
		return txnValue, true // transaction's write wins
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !sawConflict {
		t.Fatalf("expected a merge conflict to be reported")
	}
	if v, ok, err := trie.Find(key); err != nil || !ok || v != 200 {
		t.Fatalf("after merge, Find = (%d,%v,%v), want (200,true,nil)", v, ok, err)
	}
}

func TestTransactionMergeInsertConflictDropped(t *testing.T) {
	trie := newTestTrie(t)
	key := KeyFromUint64(8, 8)
	if _, err := trie.Insert(key, 100); err != nil {
		t.Fatal(err)
	}

	txn := trie.Transaction()
	if _, err := txn.Insert(key, 200); err != nil {
		t.Fatal(err)
	}
	if _, err := trie.Insert(key, 300); err != nil {
		t.Fatal(err)
	}

	err := txn.Commit(func(k KeyFragment, txnValue, liveValue uint64) (uint64, bool) {
		return 0, false // defer to the live writer, drop this transaction's edit
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok, err := trie.Find(key); err != nil || !ok || v != 300 {
		t.Fatalf("after merge (dropped), Find = (%d,%v,%v), want (300,true,nil)", v, ok, err)
	}
}

func TestTransactionMergeRemoveConflict(t *testing.T) {
	trie := newTestTrie(t)
	key := KeyFromUint64(9, 8)
	if _, err := trie.Insert(key, 1); err != nil {
		t.Fatal(err)
	}

	txn := trie.Transaction()
	removed, err := txn.Remove(key)
	if err != nil || !removed {
		t.Fatalf("txn.Remove: removed=%v err=%v", removed, err)
	}

	// Another writer already removed the same key before commit.
	if removed, err := trie.Remove(key); err != nil || !removed {
		t.Fatalf("concurrent Remove: removed=%v err=%v", removed, err)
	}

	var calledback bool
	if err := txn.Commit(nil, func(k KeyFragment) bool {
		calledback = true
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if !calledback {
		t.Fatalf("expected the remove-conflict callback to fire")
	}
	if _, ok, _ := trie.Find(key); ok {
		t.Fatalf("key should remain absent after a merged double-remove")
	}
}
