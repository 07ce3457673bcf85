// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// NodeInline holds one key/value entry packed directly into the TriePtr
// word: no node buffer, no string-allocator slot, no separate prefix
// field, since the entire remaining key and value live in the pointer's
// own bits. It only exists for keys/values narrow enough to fit those
// bits; makeInline reports ok=false when they don't, and the caller
// falls back to a real allocated leaf (Basic or LargeKey).
func makeInline(key KeyFragment, value uint64, inPlace bool) (TriePtr, bool) {
	if key.Len() > 64 {
		return NullTriePtr, false
	}
	return NewInlineTriePtr(inPlace, key.Len(), key.GetKey(), value)
}
