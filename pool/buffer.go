// File: pool/buffer.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/page"
)

// Buffer is a resizable window over a span leased from a BufferPool.
//
// The span starts KeepBefore bytes ahead of the window so the buffer can
// grow towards lower offsets without moving. Bytes between the read and
// write cursors are the readable content.
type Buffer struct {
	owner atomic.Pointer[BufferPool]
	refs  atomic.Int32

	backing    []byte
	page       *page.Page
	arena      *arena
	off        int
	length     int
	keepBefore int
	rIndex     int
	wIndex     int

	direct  bool
	tracked bool
	mgr     *Manager
}

var _ api.PooledBuffer = (*Buffer)(nil)

// Bytes returns the readable content.
func (b *Buffer) Bytes() []byte { return b.backing[b.off+b.rIndex : b.off+b.wIndex] }

// Raw returns the whole window regardless of cursors.
func (b *Buffer) Raw() []byte { return b.backing[b.off : b.off+b.length] }

func (b *Buffer) Cap() int       { return b.length }
func (b *Buffer) Len() int       { return b.wIndex - b.rIndex }
func (b *Buffer) Available() int { return b.length - b.wIndex }
func (b *Buffer) Direct() bool   { return b.direct }

// Pooled reports whether the buffer is currently leased from a pool.
func (b *Buffer) Pooled() bool {
	o := b.owner.Load()
	return o != nil && o != unpooled
}

// Write appends p at the write cursor.
func (b *Buffer) Write(p []byte) (int, error) {
	n := copy(b.backing[b.off+b.wIndex:b.off+b.length], p)
	b.wIndex += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Read consumes readable bytes.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.rIndex == b.wIndex {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.Bytes())
	b.rIndex += n
	return n, nil
}

// SetWriteIndex moves the write cursor inside the window.
func (b *Buffer) SetWriteIndex(w int) {
	if w < b.rIndex || w > b.length {
		panic("pool: write index out of range")
	}
	b.wIndex = w
}

// Retain adds a reference; each Retain needs a matching Release.
func (b *Buffer) Retain() { b.refs.Add(1) }

// Release drops a reference and returns the span on the last one.
func (b *Buffer) Release() { _ = b.Close() }

// Close is Release reporting the outcome of the final return.
func (b *Buffer) Close() error {
	if b.refs.Add(-1) > 0 {
		return nil
	}
	return Reserve(b)
}

func (b *Buffer) Attach(backing []byte, off, length int) {
	b.backing = backing
	b.off = off
	b.length = length
	b.rIndex, b.wIndex = 0, 0
	b.refs.Store(1)
}

func (b *Buffer) KeepBefore() int     { return b.keepBefore }
func (b *Buffer) SetKeepBefore(n int) { b.keepBefore = n }

func (b *Buffer) Page() *page.Page     { return b.page }
func (b *Buffer) SetPage(p *page.Page) { b.page = p }

func (b *Buffer) SwapOwner(o api.Owner) api.Owner {
	p, _ := o.(*BufferPool)
	if prev := b.owner.Swap(p); prev != nil {
		return prev
	}
	return nil
}

func (b *Buffer) Grow(n int, backward bool) {
	if backward {
		b.off -= n
		b.wIndex += n
	}
	b.length += n
	b.wIndex = min(max(b.wIndex, 0), b.length)
	b.rIndex = min(b.rIndex, b.wIndex)
}

func (b *Buffer) Reset() {
	b.backing = nil
	b.page = nil
	b.arena = nil
	b.off, b.length, b.keepBefore = 0, 0, 0
	b.rIndex, b.wIndex = 0, 0
	b.tracked = false
}

func (b *Buffer) spanOff() int64 { return int64(b.off - b.keepBefore) }
func (b *Buffer) spanLen() int64 { return int64(b.length + b.keepBefore) }

func (b *Buffer) isEmptySentinel() bool { return b == emptyHeap || b == emptyDirect }

// empty buffers are shared and never leased.
var (
	emptyHeap   = &Buffer{}
	emptyDirect = &Buffer{direct: true}
)

func emptyBuffer(direct bool) *Buffer {
	if direct {
		return emptyDirect
	}
	return emptyHeap
}
