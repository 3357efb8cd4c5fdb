// File: pool/shells.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync/atomic"

// shellCache keeps detached Buffer views for reuse. Slots are claimed by
// CAS so concurrent get and put never block.
type shellCache struct {
	slots []atomic.Pointer[Buffer]
	count atomic.Int32
}

func newShellCache(n int) *shellCache {
	return &shellCache{slots: make([]atomic.Pointer[Buffer], n)}
}

func (c *shellCache) get() *Buffer {
	if c.count.Load() <= 0 {
		return nil
	}
	for i := len(c.slots) - 1; i >= 0; i-- {
		if b := c.slots[i].Load(); b != nil && c.slots[i].CompareAndSwap(b, nil) {
			c.count.Add(-1)
			return b
		}
	}
	return nil
}

func (c *shellCache) put(b *Buffer) {
	if int(c.count.Load()) >= len(c.slots) {
		return
	}
	for i := range c.slots {
		if c.slots[i].CompareAndSwap(nil, b) {
			c.count.Add(1)
			return
		}
	}
}

func (c *shellCache) len() int { return int(c.count.Load()) }
