// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmtrie

import (
	"sync"
	"testing"
)

func TestMallocRegionGrowPreservesContent(t *testing.T) {
	r := NewMallocRegion(64)
	if r.Len() != 64 {
		t.Fatalf("Len() = %d, want 64", r.Len())
	}
	if err := r.Pinned(func(mem []byte) error {
		copy(mem, []byte("hello"))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Grow(4096); err != nil {
		t.Fatal(err)
	}
	if r.Len() < 4096 {
		t.Fatalf("Len() after Grow = %d, want >= 4096", r.Len())
	}
	if err := r.Pinned(func(mem []byte) error {
		if string(mem[:5]) != "hello" {
			t.Fatalf("content lost across Grow: %q", mem[:5])
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestMallocRegionPinnedRetriesOnResize(t *testing.T) {
	r := NewMallocRegion(16)
	calls := 0
	err := r.Pinned(func(mem []byte) error {
		calls++
		if len(mem) < 4096 {
			return &ErrRegionResize{MinSize: 4096}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("Pinned called fn %d times, want 2 (one resize retry)", calls)
	}
	if r.Len() < 4096 {
		t.Fatalf("Len() = %d, want >= 4096 after a resize-retry", r.Len())
	}
}

func TestMallocRegionResizeShrink(t *testing.T) {
	r := NewMallocRegion(4096)
	if err := r.Resize(128); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 128 {
		t.Fatalf("Len() after shrink = %d, want 128", r.Len())
	}
}

func TestGCLockBarrierWaitsForReaders(t *testing.T) {
	var g GCLock
	release := g.LockShared()

	done := make(chan struct{})
	go func() {
		g.DeferBarrier()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("DeferBarrier returned before the outstanding reader released its pin")
	default:
	}

	release()
	<-done // must complete promptly now
}

func TestRegionCommonGcLockLifecycle(t *testing.T) {
	r := NewMallocRegion(16)
	if err := r.AllocateGcLock(1); err != nil {
		t.Fatal(err)
	}
	if err := r.AllocateGcLock(1); err == nil {
		t.Fatalf("expected an error allocating the same gc lock id twice")
	}
	if g := r.GCLock(1); g == nil {
		t.Fatalf("GCLock(1) returned nil after AllocateGcLock")
	}
	if err := r.UnlinkGcLock(1); err != nil {
		t.Fatal(err)
	}
	if err := r.UnlinkGcLock(1); err == nil {
		t.Fatalf("expected an error unlinking an already-unlinked gc lock")
	}
}

func TestMallocRegionConcurrentPinnedReaders(t *testing.T) {
	r := NewMallocRegion(4096)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Pinned(func(mem []byte) error {
				mem[i] = byte(i)
				return nil
			})
		}(i)
	}
	wg.Wait()
	r.Pinned(func(mem []byte) error {
		for i := 0; i < 32; i++ {
			if mem[i] != byte(i) {
				t.Errorf("mem[%d] = %d, want %d", i, mem[i], i)
			}
		}
		return nil
	})
}
