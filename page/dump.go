// File: page/dump.go
// Package page
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Human readable tree dump used by pool status probes.

package page

import (
	"fmt"
	"strings"
)

const (
	markFree   = 'o'
	markUsed   = '1'
	markSplit  = 'S'
	markPrefix = 'p'
)

// String renders the tree: one mapping character per slot, children nested.
func (p *Page) String() string {
	var sb strings.Builder
	p.root.dump(&sb, 0)
	return sb.String()
}

func (n *node) dump(sb *strings.Builder, depth int) {
	pad := strings.Repeat(" ", depth)
	fmt.Fprintf(sb, "[ shift = %d", n.shift)
	if n.free == n.total {
		sb.WriteString(" (empty) ]")
		return
	}
	used := n.total - n.free
	fmt.Fprintf(sb, "\n%s  usage = %s / %s (%d / %d)  %.2f%%\n", pad,
		scaled(used), scaled(n.total), used, n.total, float64(used)*100/float64(n.total))
	if n.prefix > 0 {
		fmt.Fprintf(sb, "%s  prefix = %d\n", pad, n.prefix)
	}
	fmt.Fprintf(sb, "%s  mapping = %s\n", pad, n.mapping())
	for _, c := range n.child {
		fmt.Fprintf(sb, "%s  child[%d] = ", pad, c.index)
		c.dump(sb, depth+2)
		sb.WriteByte('\n')
	}
	sb.WriteString(pad)
	sb.WriteByte(']')
}

func (n *node) mapping() string {
	out := make([]byte, n.slots())
	for j := range out {
		switch {
		case !n.locked && int64(j)<<n.shift < n.prefix:
			out[j] = markPrefix
		case n.isUsed(j):
			out[j] = markUsed
		case n.isSplit(j):
			out[j] = markSplit
		default:
			out[j] = markFree
		}
	}
	return string(out)
}

func scaled(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), "KMGTP"[exp])
}
