// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import "fmt"

// CheckerOptions configures a consistency pass over a region, backing
// cmd/mmapcheck.
type CheckerOptions struct {
	MinID   int
	MaxID   int
	Recover bool // keep scanning past a corrupt node instead of aborting
}

// CheckerReport summarizes one Checker run.
type CheckerReport struct {
	TriesChecked  int
	NodesByType   [numNodeTypes]int64
	EntriesTotal  int64
	Errors        []error
}

// Checker walks every trie in [MinID,MaxID] reachable from a region's
// TrieAllocator and verifies every node it can decode, the way
// fsck-style tools built on cznic/lldb's Allocator.Verify walk every
// block in a file.
type Checker struct {
	ta *TrieAllocator
	ns *NodeStore
}

// NewChecker builds a Checker over an already-open registry/node store.
func NewChecker(ta *TrieAllocator, ns *NodeStore) *Checker {
	return &Checker{ta: ta, ns: ns}
}

// Run performs the pass described by opts.
func (c *Checker) Run(opts CheckerOptions) *CheckerReport {
	rep := &CheckerReport{}
	for id := opts.MinID; id <= opts.MaxID; id++ {
		t, err := c.ta.Open(id)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("trie %d: open: %w", id, err))
			if !opts.Recover {
				return rep
			}
			continue
		}
		root := t.loadRoot()
		if root.IsNull() {
			continue
		}
		rep.TriesChecked++
		c.walk(root, rep, opts)
	}
	return rep
}

func (c *Checker) walk(ptr TriePtr, rep *CheckerReport, opts CheckerOptions) {
	if ptr.IsNull() {
		return
	}
	n, _, err := c.ns.load(ptr)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("node at %#x: %w", ptr.Offset(), err))
		return
	}
	rep.NodesByType[n.typ]++

	switch n.typ {
	case NodeInline, NodeBasicKeyedTerminal:
		if !n.hasValue {
			rep.Errors = append(rep.Errors, &ErrIntegrity{Type: ErrBadNodeTag, Off: ptr.Offset(), Detail: "single-entry leaf with no value"})
		} else {
			rep.EntriesTotal++
		}
	case NodeSparse, NodeCompressed:
		if n.hasValue {
			rep.Errors = append(rep.Errors, &ErrIntegrity{Type: ErrBadNodeTag, Off: ptr.Offset(), Detail: "multi-leaf node unexpectedly carries its own value"})
		}
		limit := sparseMaxEntries
		if n.typ == NodeCompressed {
			limit = compressedMaxEntries
		}
		if len(n.mkeys) == 0 || len(n.mkeys) > limit || n.keyLen > sparseMaxKeyBits {
			rep.Errors = append(rep.Errors, &ErrIntegrity{Type: ErrBadBranchCount, Off: ptr.Offset(), Arg: int64(len(n.mkeys)), Detail: "multi-leaf entry count or key width out of range"})
			if !opts.Recover {
				return
			}
		}
		rep.EntriesTotal += int64(len(n.mkeys))
	case NodeLargeKey:
		if n.hasValue {
			rep.Errors = append(rep.Errors, &ErrIntegrity{Type: ErrBadNodeTag, Off: ptr.Offset(), Detail: "LargeKey node unexpectedly carries its own value"})
		}
		if len(n.lkeys) == 0 || len(n.lkeys) > largeKeyMaxEntries {
			rep.Errors = append(rep.Errors, &ErrIntegrity{Type: ErrBadBranchCount, Off: ptr.Offset(), Arg: int64(len(n.lkeys)), Detail: "LargeKey entry count out of range"})
			if !opts.Recover {
				return
			}
		}
		rep.EntriesTotal += int64(len(n.lkeys))
	case NodeBinary, NodeDenseBranch:
		if n.hasValue {
			rep.EntriesTotal++
		}
		pairs := branchPairs(n)
		if len(pairs) == 0 && !n.hasValue {
			rep.Errors = append(rep.Errors, &ErrIntegrity{Type: ErrNotCollapsed, Off: ptr.Offset(), Detail: "branching node with no children and no value"})
			if !opts.Recover {
				return
			}
		}
		if n.typ == NodeDenseBranch && (n.branchBits < denseMinBranchBits || n.branchBits > denseMaxBranchBits) {
			rep.Errors = append(rep.Errors, &ErrIntegrity{Type: ErrBadBranchCount, Off: ptr.Offset(), Arg: int64(n.branchBits), Detail: "DenseBranch branch width out of range"})
		}
		for _, pr := range pairs {
			c.walk(pr.child, rep, opts)
		}
	}
}

// Repairer performs best-effort recovery of a damaged trie by
// re-walking it with Recover semantics and dropping any subtree that
// fails to decode: a lossy but availability-preserving fallback,
// grounded on lldb's "ignore bad block, keep serving the rest of the
// file" recovery posture rather
// than attempting byte-level reconstruction.
type Repairer struct {
	ta *TrieAllocator
	ns *NodeStore
}

// NewRepairer builds a Repairer over an already-open registry/node store.
func NewRepairer(ta *TrieAllocator, ns *NodeStore) *Repairer {
	return &Repairer{ta: ta, ns: ns}
}

// Repair rebuilds trie id by walking its current root, keeping every
// subtree that decodes cleanly and discarding (and counting in dropped)
// any that does not.
func (r *Repairer) Repair(id int) (kept, dropped int, err error) {
	t, err := r.ta.Open(id)
	if err != nil {
		return 0, 0, err
	}
	root := t.loadRoot()
	newRoot, k, d := r.rebuild(root)
	if !t.casRoot(root, newRoot) {
		return k, d, &ErrLogical{"repair: concurrent modification during recovery", int64(id)}
	}
	return k, d, nil
}

func (r *Repairer) rebuild(ptr TriePtr) (TriePtr, int, int) {
	if ptr.IsNull() {
		return NullTriePtr, 0, 0
	}
	n, _, err := r.ns.load(ptr)
	if err != nil {
		return NullTriePtr, 0, 1
	}
	if !isBranching(n.typ) {
		entries, err := leafEntries(r.ns, n)
		if err != nil {
			return NullTriePtr, 0, 1
		}
		return ptr, len(entries), 0
	}
	kept, dropped := 0, 0
	var labels []uint64
	var children []TriePtr
	for _, pr := range branchPairs(n) {
		newChild, k, d := r.rebuild(pr.child)
		kept += k
		dropped += d
		if !newChild.IsNull() {
			labels = append(labels, pr.label)
			children = append(children, newChild)
		}
	}
	np, err := rebuildBranchNode(r.ns, n, labels, children)
	if err != nil {
		return NullTriePtr, kept, dropped + 1
	}
	if n.hasValue {
		kept++
	}
	return np, kept, dropped
}

// rebuildBranchNode reassembles a Binary or DenseBranch node of the
// same shape as n but holding only the surviving (label, child) pairs
// produced by Repairer.rebuild: Binary keeps its fixed 2-slot array
// (dropped slots become NullTriePtr), DenseBranch keeps its rank
// compaction (dropped labels are cleared from the bitmap).
func rebuildBranchNode(ns *NodeStore, n *node, labels []uint64, children []TriePtr) (TriePtr, error) {
	if n.typ == NodeBinary {
		var out [2]TriePtr
		for i, label := range labels {
			out[label] = children[i]
		}
		return ns.store(makeBinary(n.prefix, n.hasValue, n.value, out), true)
	}
	var branch uint64
	for _, label := range labels {
		branch |= uint64(1) << label
	}
	return ns.store(makeDenseBranch(n.prefix, n.hasValue, n.value, n.branchBits, branch, children), true)
}
