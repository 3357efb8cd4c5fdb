// File: page/page.go
// Package page implements a hierarchical 64-way bitmap span allocator over
// an abstract offset space.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Page never touches memory. It hands out aligned [offset, offset+len)
// spans; the caller maps them onto whatever backing store it owns. A Page is
// not safe for concurrent use.

package page

import "sync/atomic"

const (
	// BlockShift is log2 of the minimum allocation granule.
	BlockShift = 3
	// BlockSize is the minimum allocation granule in bytes.
	BlockSize = 1 << BlockShift

	maxShift = 57
)

// Sentinels returned by Alloc.
const (
	NotFound      int64 = -1
	TooFragmented int64 = -2
)

// MoveFunc relocates len bytes from oldOff to newOff during Compress.
type MoveFunc func(oldOff, newOff, length int64)

// Page is the root of an allocation tree.
type Page struct {
	id   uint64
	root *node
}

var ids atomic.Uint64

// Align rounds n up to BlockSize.
func Align(n int64) int64 { return (n + BlockSize - 1) &^ (BlockSize - 1) }

// New creates a Page covering capacity bytes, rounded up to BlockSize.
func New(capacity int64) *Page {
	if capacity <= 0 {
		panic("page: capacity must be positive")
	}
	total := Align(capacity)
	shift := uint8(BlockShift)
	for int64(64)<<shift < total && shift < maxShift {
		shift += fanShift
	}
	return &Page{id: ids.Add(1), root: newNode(shift, 0, total)}
}

// ID returns a process-unique identity, stable for the Page's lifetime.
func (p *Page) ID() uint64 { return p.id }

// Alloc reserves size bytes anywhere and returns the offset, or NotFound /
// TooFragmented.
func (p *Page) Alloc(size int64) int64 {
	if size <= 0 || size > p.root.total {
		return NotFound
	}
	return p.root.alloc(Align(size))
}

// AllocAt reserves [off, off+size) exactly. off must be aligned.
func (p *Page) AllocAt(off, size int64) bool {
	if size <= 0 || size > p.root.total || off&(BlockSize-1) != 0 {
		return false
	}
	return p.root.allocAt(off, Align(size))
}

// Free releases a span previously handed out. Freeing space that is not
// allocated panics.
func (p *Page) Free(off, size int64) {
	if size <= 0 {
		return
	}
	if off&(BlockSize-1) != 0 {
		panic("page: unaligned free offset")
	}
	p.root.release(off, Align(size))
}

// AllocAfter grows the span [off, off+size) by more bytes in place.
func (p *Page) AllocAfter(off, size, more int64) bool {
	aligned := Align(size)
	more -= aligned - size
	if more <= 0 {
		return true
	}
	return p.AllocAt(off+aligned, more)
}

// AllocBefore grows the span starting at off by at least more bytes towards
// lower offsets. The new start is (off-more) rounded down to BlockSize.
func (p *Page) AllocBefore(off, size, more int64) bool {
	if more <= 0 {
		return true
	}
	start := (off - more) &^ (BlockSize - 1)
	if start < 0 {
		return false
	}
	return p.AllocAt(start, off-start)
}

// HeadEmpty returns the length of the free run starting at offset 0.
func (p *Page) HeadEmpty() int64 { return p.root.headEmpty() }

// TailEmpty returns the length of the free run ending at TotalSpace.
func (p *Page) TailEmpty() int64 { return p.root.tailEmpty() }

// Compress packs every used range towards offset 0, reporting each move, and
// puts the Page back into bump mode.
func (p *Page) Compress(move MoveFunc) {
	var off int64
	for _, s := range p.root.collect(0, nil) {
		if s.start != off && move != nil {
			move(s.start, off, s.end-s.start)
		}
		off += s.end - s.start
	}
	p.root.reset(off)
}

func (p *Page) UsedSpace() int64  { return p.root.total - p.root.free }
func (p *Page) FreeSpace() int64  { return p.root.free }
func (p *Page) TotalSpace() int64 { return p.root.total }
