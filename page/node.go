// File: page/node.go
// Package page
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tree node of the span allocator. A node covers up to 64 slots of 1<<shift
// bytes. Leaves (shift == BlockShift) track 8-byte blocks directly; inner
// nodes materialize children for partially used slots.

package page

import "math/bits"

const fanShift = 6

type node struct {
	shift  uint8
	index  uint8
	locked bool

	// used marks slots that are fully allocated and not materialized,
	// split marks slots backed by a child. The two never overlap.
	used  uint64
	split uint64

	total  int64
	prefix int64
	free   int64

	child []*node
}

func newNode(shift, index uint8, total int64) *node {
	return &node{shift: shift, index: index, total: total, free: total}
}

func (n *node) leaf() bool { return n.shift == BlockShift }

func (n *node) slotSize() int64 { return 1 << n.shift }

func (n *node) slots() int {
	return int((n.total + n.slotSize() - 1) >> n.shift)
}

// fullSlots counts slots of full length. Only the last slot may be shorter.
func (n *node) fullSlots() int { return int(n.total >> n.shift) }

func (n *node) slotLen(j int) int64 {
	base := int64(j) << n.shift
	if rest := n.total - base; rest < n.slotSize() {
		return rest
	}
	return n.slotSize()
}

func (n *node) rank(j int) int {
	return bits.OnesCount64(n.split & (uint64(1)<<uint(j) - 1))
}

func (n *node) childAt(j int) *node { return n.child[n.rank(j)] }

func (n *node) isFree(j int) bool { return (n.used|n.split)&(1<<uint(j)) == 0 }
func (n *node) isUsed(j int) bool { return n.used&(1<<uint(j)) != 0 }
func (n *node) isSplit(j int) bool { return n.split&(1<<uint(j)) != 0 }

// materialize creates a child for slot j. A used slot yields a full child in
// bump mode, a free slot an empty one.
func (n *node) materialize(j int) *node {
	if n.isSplit(j) {
		return n.childAt(j)
	}
	c := newNode(n.shift-fanShift, uint8(j), n.slotLen(j))
	if n.isUsed(j) {
		c.prefix, c.free = c.total, 0
		n.used &^= 1 << uint(j)
	}
	r := n.rank(j)
	n.child = append(n.child, nil)
	copy(n.child[r+1:], n.child[r:])
	n.child[r] = c
	n.split |= 1 << uint(j)
	return c
}

// settle drops an empty child and collapses a full one into a used bit.
func (n *node) settle(j int) {
	if !n.isSplit(j) {
		return
	}
	r := n.rank(j)
	c := n.child[r]
	switch c.free {
	case c.total:
	case 0:
		n.used |= 1 << uint(j)
	default:
		return
	}
	n.child = append(n.child[:r], n.child[r+1:]...)
	n.split &^= 1 << uint(j)
}

// lock leaves bump mode, turning [0, prefix) into ordinary bitmap state.
func (n *node) lock() {
	if n.locked {
		return
	}
	n.locked = true
	if n.prefix == 0 {
		return
	}
	whole := int(n.prefix >> n.shift)
	if whole > 0 {
		n.used |= bitRange(0, whole)
	}
	if rem := n.prefix & (n.slotSize() - 1); rem != 0 {
		if rem == n.slotLen(whole) {
			n.used |= 1 << uint(whole)
		} else {
			c := n.materialize(whole)
			c.prefix = rem
			c.free = c.total - rem
		}
	}
	n.prefix = 0
}

func (n *node) alloc(size int64) int64 {
	if n.free < size {
		return NotFound
	}
	if !n.locked {
		off := n.prefix
		n.prefix += size
		n.free -= size
		return off
	}
	if n.leaf() || size >= n.slotSize() {
		return n.allocSlots(size)
	}
	return n.allocSub(size)
}

// allocSlots finds the first run of whole free slots. A remainder goes to the
// head of the following slot or the tail of the preceding one.
func (n *node) allocSlots(size int64) int64 {
	k := int(size >> n.shift)
	r := size & (n.slotSize() - 1)
	last := n.fullSlots() - k
	for o := 0; o <= last; o++ {
		if (n.used|n.split)&bitRange(o, o+k) != 0 {
			continue
		}
		start := int64(o) << n.shift
		switch {
		case r == 0:
		case o+k < n.slots() && n.headRoom(o+k) >= r:
			n.placeSlot(o+k, 0, r)
		case o > 0 && n.tailRoom(o-1) >= r:
			n.placeSlot(o-1, n.slotLen(o-1)-r, r)
			start -= r
		default:
			continue
		}
		n.used |= bitRange(o, o+k)
		n.free -= size
		return start
	}
	if n.leaf() {
		return NotFound
	}
	return TooFragmented
}

func (n *node) allocSub(size int64) int64 {
	for _, c := range n.child {
		j := int(c.index)
		base := int64(j) << n.shift
		if off := c.alloc(size); off >= 0 {
			n.settle(j)
			n.free -= size
			return base + off
		}
		t := c.tailEmpty()
		if t == 0 {
			continue
		}
		if t >= size {
			n.placeSlot(j, c.total-t, size)
			n.free -= size
			return base + c.total - t
		}
		if j+1 < n.slots() && n.headRoom(j+1) >= size-t {
			n.placeSlot(j, c.total-t, t)
			n.placeSlot(j+1, 0, size-t)
			n.free -= size
			return base + c.total - t
		}
	}
	for j := 0; j < n.slots(); j++ {
		if n.isFree(j) && n.slotLen(j) >= size {
			n.placeSlot(j, 0, size)
			n.free -= size
			return int64(j) << n.shift
		}
	}
	return TooFragmented
}

func (n *node) headRoom(j int) int64 {
	switch {
	case n.isUsed(j):
		return 0
	case n.isSplit(j):
		return n.childAt(j).headEmpty()
	}
	return n.slotLen(j)
}

func (n *node) tailRoom(j int) int64 {
	switch {
	case n.isUsed(j):
		return 0
	case n.isSplit(j):
		return n.childAt(j).tailEmpty()
	}
	return n.slotLen(j)
}

// placeSlot commits [off, off+size) inside slot j. The caller has checked it.
func (n *node) placeSlot(j int, off, size int64) {
	if off == 0 && size == n.slotLen(j) && n.isFree(j) {
		n.used |= 1 << uint(j)
		return
	}
	c := n.materialize(j)
	if !c.allocAt(off, size) {
		panic("page: inconsistent slot placement")
	}
	n.settle(j)
}

func (n *node) allocAt(off, size int64) bool {
	if !n.canAllocAt(off, size) {
		return false
	}
	if !n.locked && off == n.prefix {
		n.prefix += size
		n.free -= size
		return true
	}
	n.lock()
	n.eachSlot(off, size, func(j int, a, b int64) {
		if a == 0 && b == n.slotLen(j) {
			n.used |= 1 << uint(j)
			return
		}
		n.placeSlot(j, a, b-a)
	})
	n.free -= size
	return true
}

func (n *node) canAllocAt(off, size int64) bool {
	if off < 0 || size <= 0 || size > n.total-off || n.free < size {
		return false
	}
	if !n.locked {
		return off >= n.prefix
	}
	ok := true
	n.eachSlot(off, size, func(j int, a, b int64) {
		if !ok {
			return
		}
		switch {
		case a == 0 && b == n.slotLen(j):
			ok = n.isFree(j)
		case n.isUsed(j):
			ok = false
		case n.isSplit(j):
			ok = n.childAt(j).canAllocAt(a, b-a)
		}
	})
	return ok
}

// eachSlot visits the slots touched by [off, off+size) with slot-relative
// bounds [a, b).
func (n *node) eachSlot(off, size int64, fn func(j int, a, b int64)) {
	end := off + size
	for j := int(off >> n.shift); j < n.slots(); j++ {
		base := int64(j) << n.shift
		if base >= end {
			return
		}
		a, b := off-base, end-base
		if a < 0 {
			a = 0
		}
		if l := n.slotLen(j); b > l {
			b = l
		}
		fn(j, a, b)
	}
}

func (n *node) release(off, size int64) {
	if off < 0 || off+size > n.total {
		panic("page: free out of range")
	}
	n.free += size
	if !n.locked {
		if off+size == n.prefix {
			n.prefix = off
			return
		}
		n.lock()
	}
	n.eachSlot(off, size, func(j int, a, b int64) {
		if a == 0 && b == n.slotLen(j) && n.isUsed(j) {
			n.used &^= 1 << uint(j)
			return
		}
		if n.isFree(j) {
			panic("page: free of unallocated range")
		}
		c := n.materialize(j)
		c.release(a, b-a)
		n.settle(j)
	})
}

func (n *node) headEmpty() int64 {
	if !n.locked {
		if n.prefix > 0 {
			return 0
		}
		return n.total
	}
	if n.leaf() {
		return min(int64(bits.TrailingZeros64(n.used))<<BlockShift, n.total)
	}
	var run int64
	for j := 0; j < n.slots(); j++ {
		switch {
		case n.isUsed(j):
			return run
		case n.isSplit(j):
			return run + n.childAt(j).headEmpty()
		}
		run += n.slotLen(j)
	}
	return run
}

func (n *node) tailEmpty() int64 {
	if !n.locked {
		return n.total - n.prefix
	}
	if n.leaf() {
		return n.total - int64(bits.Len64(n.used))<<BlockShift
	}
	var run int64
	for j := n.slots() - 1; j >= 0; j-- {
		switch {
		case n.isUsed(j):
			return run
		case n.isSplit(j):
			return run + n.childAt(j).tailEmpty()
		}
		run += n.slotLen(j)
	}
	return run
}

// collect appends used ranges in offset order, merging adjacent ones.
func (n *node) collect(base int64, out []span) []span {
	if !n.locked {
		if n.prefix > 0 {
			out = appendSpan(out, span{base, base + n.prefix})
		}
		return out
	}
	for j := 0; j < n.slots(); j++ {
		at := base + int64(j)<<n.shift
		switch {
		case n.isUsed(j):
			out = appendSpan(out, span{at, at + n.slotLen(j)})
		case n.isSplit(j):
			out = n.childAt(j).collect(at, out)
		}
	}
	return out
}

type span struct{ start, end int64 }

func appendSpan(out []span, s span) []span {
	if k := len(out) - 1; k >= 0 && out[k].end == s.start {
		out[k].end = s.end
		return out
	}
	return append(out, s)
}

func (n *node) reset(prefix int64) {
	n.used, n.split, n.child = 0, 0, nil
	n.locked = false
	n.prefix = prefix
	n.free = n.total - prefix
}

func bitRange(from, to int) uint64 {
	if from >= to {
		return 0
	}
	hi := ^uint64(0)
	if to < 64 {
		hi = uint64(1)<<uint(to) - 1
	}
	return hi &^ (uint64(1)<<uint(from) - 1)
}
