package page

import (
	"fmt"
	"math/bits"
)

// validate checks free-byte bookkeeping and slot state disjointness of the
// whole tree.
func (p *Page) validate() error { return p.root.validate() }

func (n *node) validate() error {
	if !n.locked {
		switch {
		case n.used != 0 || n.split != 0 || len(n.child) != 0:
			return fmt.Errorf("shift %d: bump node carries bitmap state", n.shift)
		case n.prefix < 0 || n.prefix > n.total || n.prefix%BlockSize != 0:
			return fmt.Errorf("shift %d: bad prefix %d", n.shift, n.prefix)
		case n.free != n.total-n.prefix:
			return fmt.Errorf("shift %d: free %d, want %d", n.shift, n.free, n.total-n.prefix)
		}
		return nil
	}
	if n.prefix != 0 {
		return fmt.Errorf("shift %d: locked node keeps prefix %d", n.shift, n.prefix)
	}
	if n.used&n.split != 0 {
		return fmt.Errorf("shift %d: slot both used and split: %x", n.shift, n.used&n.split)
	}
	if (n.used|n.split)&^bitRange(0, n.slots()) != 0 {
		return fmt.Errorf("shift %d: bits beyond %d slots", n.shift, n.slots())
	}
	if n.leaf() && n.split != 0 {
		return fmt.Errorf("leaf with children")
	}
	if bits.OnesCount64(n.split) != len(n.child) {
		return fmt.Errorf("shift %d: %d split bits, %d children", n.shift, bits.OnesCount64(n.split), len(n.child))
	}
	var free int64
	last := -1
	for _, c := range n.child {
		j := int(c.index)
		switch {
		case j <= last:
			return fmt.Errorf("shift %d: children out of order at %d", n.shift, j)
		case !n.isSplit(j):
			return fmt.Errorf("shift %d: child %d without split bit", n.shift, j)
		case c.shift != n.shift-fanShift:
			return fmt.Errorf("shift %d: child %d has shift %d", n.shift, j, c.shift)
		case c.total != n.slotLen(j):
			return fmt.Errorf("shift %d: child %d covers %d of %d", n.shift, j, c.total, n.slotLen(j))
		case c.free == 0 || c.free == c.total:
			return fmt.Errorf("shift %d: child %d is full or empty", n.shift, j)
		}
		if err := c.validate(); err != nil {
			return fmt.Errorf("child[%d]: %w", j, err)
		}
		free += c.free
		last = j
	}
	for j := 0; j < n.slots(); j++ {
		if n.isFree(j) {
			free += n.slotLen(j)
		}
	}
	if free != n.free {
		return fmt.Errorf("shift %d: free %d, counted %d", n.shift, n.free, free)
	}
	return nil
}
