// File: internal/memory/region.go
// Package memory owns native (off-heap) memory regions backing direct pools.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// All unsafe pointer arithmetic of the module is confined to this package.

package memory

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// ErrReleased is returned when a region is released twice.
var ErrReleased = errors.New("memory: region already released")

// Region is a contiguous block of memory outside the Go heap where the
// platform allows it.
type Region struct {
	data     []byte
	native   bool
	released atomic.Bool
}

// Bytes returns the whole region. The slice is invalid after Release.
func (r *Region) Bytes() []byte { return r.data }

// Len returns the region size in bytes.
func (r *Region) Len() int { return len(r.data) }

// Addr returns the base address of the region.
func (r *Region) Addr() uintptr {
	if len(r.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.data)))
}

// Contains reports whether [addr, addr+n) lies inside the region.
func (r *Region) Contains(addr uintptr, n int) bool {
	base := r.Addr()
	return base != 0 && addr >= base && n >= 0 && addr+uintptr(n) <= base+uintptr(len(r.data))
}

// Offset converts an address inside the region into an offset.
func (r *Region) Offset(addr uintptr) int { return int(addr - r.Addr()) }

// Release returns the memory to the operating system.
func (r *Region) Release() error {
	if !r.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	data := r.data
	r.data = nil
	return unmap(data, r.native)
}
