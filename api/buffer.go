// Package api
// Author: momentics
//
// Capability contract of pooled, resizable byte buffers.
//
// A buffer view leases an aligned span of a Page and exposes a window of it.
// The allocator drives the view through this contract only, so any view
// type satisfying it can be recycled by the pools.

package api

import "github.com/momentics/hioload-bufpool/page"

// Owner tags a buffer with the allocation domain that must take it back.
type Owner interface {
	OwnerName() string
}

// PooledBuffer is the contract between buffer views and their allocator.
type PooledBuffer interface {
	// Bytes returns the readable window.
	Bytes() []byte
	// Cap returns the writable capacity of the window.
	Cap() int
	// Release drops one reference and returns the span on the last one.
	Release()

	// Attach points the view at backing[off : off+length].
	Attach(backing []byte, off, length int)
	// KeepBefore reports the hidden leading reservation.
	KeepBefore() int
	SetKeepBefore(n int)
	// Page reports the Page the span was carved from.
	Page() *page.Page
	SetPage(p *page.Page)
	// SwapOwner exchanges the owner tag and returns the previous one.
	// A nil previous owner means the buffer was already released.
	SwapOwner(o Owner) Owner
	// Grow widens the window by n bytes after a zero-copy expansion,
	// towards lower offsets when backward is set. Negative n shrinks.
	Grow(n int, backward bool)
	// Reset detaches the view and clears its cursors.
	Reset()
}
