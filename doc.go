// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmtrie implements an embeddable, memory-mapped, lock-free
// persistent key-value engine built around a concurrent radix trie stored
// directly in a file-backed or anonymous memory region.
//
// The file layout IS the in-memory layout: pointers are offsets, nodes are
// cache-line aligned, and the whole database can be reopened by remapping
// the file. The package supports multiple independent tries (identified by
// small integer ids) sharing one allocator, concurrent readers with
// lock-free writers (copy-on-write), single-writer transactions (in-place
// with three-way merge at commit), and crash-consistent snapshots.
//
// A client opens an Engine (Open for a file-backed region, OpenMem for an
// anonymous one), which builds the page, node and string allocators and
// the trie registry on that region, then creates or opens a Trie by id
// through the Engine and reads and writes it directly or batches edits in
// a TrieTransaction. Trie reads and writes do not take the region's
// per-trie GCLock.
//
// Durability beyond an explicit Snapshot, cross-machine replication, and
// isolation beyond one concurrent writer per transaction are out of scope.
// Values are opaque 64-bit words; this package does not interpret them.
package mmtrie
