// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// A TrieTransaction batches several Insert/Remove calls and publishes
// them as a single commit, three-way-merged against whatever the live
// root has become in the meantime: "base" is the root
// the transaction started from, "ours" is the transaction's own working
// root, and "theirs" is the live root read again at commit time. Where
// the same key was touched by both the transaction and an interleaving
// committed change, the caller's conflict callback decides the outcome,
// mirroring the resolve-on-conflict step of a three-way text merge.
type TrieTransaction struct {
	t    *Trie
	base TriePtr
	cur  TriePtr

	ops []txnOp
}

type txnOpKind int

const (
	opInsert txnOpKind = iota
	opRemove
)

type txnOp struct {
	kind  txnOpKind
	key   KeyFragment
	value uint64
}

// MergeInsertConflict resolves a key that both the transaction and a
// concurrently committed change inserted/updated: given the
// transaction's intended value and the value the other writer left
// live, it returns the value to keep and whether to keep it at all
// (false drops the transaction's edit for this key).
type MergeInsertConflict func(key KeyFragment, txnValue, liveValue uint64) (uint64, bool)

// MergeRemoveConflict resolves a key the transaction removed but which
// a concurrent writer already removed independently; returning true
// re-asserts the removal (a no-op, since it is already gone), false
// drops the transaction's edit for this key.
type MergeRemoveConflict func(key KeyFragment) bool

// Transaction begins a new batched transaction against t's current
// root.
func (t *Trie) Transaction() *TrieTransaction {
	root := t.loadRoot()
	return &TrieTransaction{t: t, base: root, cur: root}
}

// Insert stages a key/value write, visible to subsequent Find calls
// within this transaction but not to other readers until Commit.
func (txn *TrieTransaction) Insert(key KeyFragment, value uint64) (bool, error) {
	newRoot, inserted, err := txn.t.insertAt(txn.cur, key, value)
	if err != nil {
		return false, err
	}
	txn.cur = newRoot
	txn.ops = append(txn.ops, txnOp{kind: opInsert, key: key, value: value})
	return inserted, nil
}

// Remove stages a key removal.
func (txn *TrieTransaction) Remove(key KeyFragment) (bool, error) {
	newRoot, removed, err := txn.t.removeAt(txn.cur, key)
	if err != nil {
		return false, err
	}
	if removed {
		txn.cur = newRoot
		txn.ops = append(txn.ops, txnOp{kind: opRemove, key: key})
	}
	return removed, nil
}

// Find reads the transaction's own working copy (read-your-writes).
func (txn *TrieTransaction) Find(key KeyFragment) (uint64, bool, error) {
	return findInTrie(txn.t.ns, txn.cur, key)
}

// Rollback discards the transaction's staged edits; the live trie is
// untouched since nothing was ever published.
func (txn *TrieTransaction) Rollback() {
	txn.ops = nil
	txn.cur = txn.base
}

const maxCommitRetries = 32

// Commit publishes the transaction, three-way-merging against the live
// root if it has moved since Transaction() was called.
func (txn *TrieTransaction) Commit(onInsertConflict MergeInsertConflict, onRemoveConflict MergeRemoveConflict) error {
	if len(txn.ops) == 0 {
		return nil
	}
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		live := txn.t.loadRoot()
		if live == txn.base {
			if txn.t.casRoot(live, txn.cur) {
				return nil
			}
			continue
		}
		merged := live
		for _, op := range txn.ops {
			var err error
			switch op.kind {
			case opInsert:
				merged, err = txn.mergeInsert(merged, op, onInsertConflict)
			case opRemove:
				merged, err = txn.mergeRemove(merged, op, onRemoveConflict)
			}
			if err != nil {
				return err
			}
		}
		if txn.t.casRoot(live, merged) {
			return nil
		}
	}
	return &ErrLogical{"transaction commit: too much contention", int64(maxCommitRetries)}
}

func (txn *TrieTransaction) mergeInsert(root TriePtr, op txnOp, onConflict MergeInsertConflict) (TriePtr, error) {
	baseValue, baseHad, err := findInTrie(txn.t.ns, txn.base, op.key)
	if err != nil {
		return root, err
	}
	liveValue, liveHas, err := findInTrie(txn.t.ns, root, op.key)
	if err != nil {
		return root, err
	}
	value := op.value
	keep := true
	if liveHas && (!baseHad || liveValue != baseValue) {
		if onConflict != nil {
			value, keep = onConflict(op.key, op.value, liveValue)
		}
	}
	if !keep {
		return root, nil
	}
	newRoot, _, err := txn.t.insertAt(root, op.key, value)
	return newRoot, err
}

func (txn *TrieTransaction) mergeRemove(root TriePtr, op txnOp, onConflict MergeRemoveConflict) (TriePtr, error) {
	_, liveHas, err := findInTrie(txn.t.ns, root, op.key)
	if err != nil {
		return root, err
	}
	if !liveHas {
		proceed := true
		if onConflict != nil {
			proceed = onConflict(op.key)
		}
		if !proceed {
			return root, nil
		}
		return root, nil
	}
	newRoot, _, err := txn.t.removeAt(root, op.key)
	return newRoot, err
}

