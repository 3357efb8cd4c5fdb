// File: pool/arena.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backing stores: a Page paired with the bytes it manages.

package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-bufpool/internal/memory"
	"github.com/momentics/hioload-bufpool/page"
)

// arena is the memory behind one Page. Heap arenas are plain slices, direct
// arenas are native regions.
type arena struct {
	data     []byte
	region   *memory.Region
	budget   *budget
	released atomic.Bool
}

func newArena(direct bool, size int64) (a *arena, err error) {
	if !direct {
		// makeslice panics on lengths beyond the address space
		defer func() {
			if r := recover(); r != nil {
				a, err = nil, fmt.Errorf("pool: heap arena of %d bytes: %v", size, r)
			}
		}()
		return &arena{data: make([]byte, size)}, nil
	}
	r, err := memory.Map(int(size))
	if err != nil {
		return nil, err
	}
	return &arena{data: r.Bytes(), region: r}, nil
}

// release is idempotent.
func (a *arena) release() {
	if a == nil || !a.released.CompareAndSwap(false, true) {
		return
	}
	if a.region != nil {
		_ = a.region.Release()
	}
	if a.budget != nil {
		a.budget.refund(int64(len(a.data)))
	}
	a.data = nil
}

// store is the installed backing of a tier. The arena is created on first
// use so an idle pool holds no memory.
type store struct {
	page  *page.Page
	arena atomic.Pointer[arena]
}

func newStore(capacity int64) *store {
	return &store{page: page.New(capacity)}
}

func (s *store) dropArena() {
	s.arena.Swap(nil).release()
}

// budget caps the bytes leased outside every pool.
type budget struct {
	limit int64
	used  atomic.Int64
	onUse func(delta int64)
}

func (b *budget) charge(n int64) bool {
	if b == nil {
		return true
	}
	for {
		cur := b.used.Load()
		if b.limit > 0 && n > b.limit-cur {
			return false
		}
		if b.used.CompareAndSwap(cur, cur+n) {
			break
		}
	}
	if b.onUse != nil {
		b.onUse(n)
	}
	return true
}

func (b *budget) refund(n int64) {
	if b == nil {
		return
	}
	b.used.Add(-n)
	if b.onUse != nil {
		b.onUse(-n)
	}
}
