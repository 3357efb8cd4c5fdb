// File: pool/expand.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"math"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/page"
)

// ExpandBefore grows buf by delta bytes at the front, keeping buf leased
// when a copy is needed.
func (p *BufferPool) ExpandBefore(buf *Buffer, delta int) (*Buffer, error) {
	return p.Expand(buf, delta, false, false)
}

// Expand resizes buf by delta bytes at the end or, with atEnd unset, at the
// front. The span is widened in place when the neighbouring blocks are free;
// otherwise a buffer of Cap+delta bytes is allocated from p and the readable
// content copied into it, behind a delta byte gap for front growth. The old
// buffer is reserved after a copy when reserveOld is set.
//
// Shrinking always succeeds in place.
func (p *BufferPool) Expand(buf *Buffer, delta int, atEnd, reserveOld bool) (*Buffer, error) {
	if buf == nil || delta < -buf.length || delta > math.MaxInt-buf.length {
		return nil, api.ErrInvalidArgument
	}
	if delta == 0 {
		return buf, nil
	}

	owner := buf.owner.Swap(nil)
	switch owner {
	case nil:
		if !buf.isEmptySentinel() {
			return nil, api.Wrap(api.ErrCodeNotFound, api.ErrNotPooled).WithContext("state", "released")
		}
	case unpooled:
		ok := expandDedicated(buf, delta, atEnd)
		buf.owner.Store(owner)
		if ok {
			return buf, nil
		}
	default:
		ok := owner.expandInPlace(buf, delta, atEnd)
		buf.owner.Store(owner)
		if ok {
			return buf, nil
		}
	}
	if delta < 0 {
		return buf, nil
	}

	nb, err := p.Buffer(buf.direct, buf.length+delta)
	if err != nil || nb == nil {
		return nb, err
	}
	if !atEnd {
		nb.SetWriteIndex(delta)
	}
	_, _ = nb.Write(buf.Bytes())
	p.copies.Add(1)
	p.mgr.metrics.ExpandCopy.Inc()
	if reserveOld {
		if err := Reserve(buf); err != nil {
			return nb, err
		}
	}
	return nb, nil
}

// expandDedicated resizes a buffer backed by its own memory. Only front
// growth within the keepBefore reservation is possible.
func expandDedicated(b *Buffer, delta int, atEnd bool) bool {
	switch {
	case delta < 0 && atEnd:
		b.Grow(delta, false)
	case delta < 0:
		b.keepBefore -= delta
		b.Grow(delta, true)
	case !atEnd && b.keepBefore >= delta:
		b.keepBefore -= delta
		b.Grow(delta, true)
	default:
		return false
	}
	return true
}

// expandInPlace widens or narrows the leased span of b, which p owns.
func (p *BufferPool) expandInPlace(b *Buffer, delta int, atEnd bool) bool {
	pg := b.page
	start, n := b.spanOff(), b.spanLen()
	mu := p.locks.For(pg.ID())

	if atEnd {
		if delta < 0 {
			if x := page.Align(n) - page.Align(n+int64(delta)); x > 0 {
				mu.Lock()
				pg.Free(start+page.Align(n)-x, x)
				mu.Unlock()
			}
		} else {
			mu.Lock()
			ok := pg.AllocAfter(start, n, int64(delta))
			mu.Unlock()
			if !ok {
				return false
			}
			p.zeroCopy.Add(1)
			p.mgr.metrics.ExpandZeroCopy.Inc()
		}
		b.Grow(delta, false)
		return true
	}

	switch {
	case delta < 0:
		b.keepBefore -= delta
	case b.keepBefore >= delta:
		b.keepBefore -= delta
		p.zeroCopy.Add(1)
		p.mgr.metrics.ExpandKeepBefore.Inc()
	default:
		need := int64(delta - b.keepBefore)
		mu.Lock()
		ok := pg.AllocBefore(start, n, need)
		mu.Unlock()
		if !ok {
			return false
		}
		b.keepBefore = int(page.Align(need) - need)
		p.zeroCopy.Add(1)
		p.mgr.metrics.ExpandZeroCopy.Inc()
	}
	b.Grow(delta, true)
	return true
}
