// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

// NodeNull is the empty subtrie: NullTriePtr, carrying no allocation at
// all. It is never stored; makeNull just returns the zero
// TriePtr so callers can treat "no child here" uniformly with every
// other pointer-shaped field.
func makeNull() TriePtr { return NullTriePtr }
