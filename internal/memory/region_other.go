//go:build !unix

// File: internal/memory/region_other.go
// Package memory
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heap-backed fallback for platforms without mmap.

package memory

import "fmt"

// Map creates a zeroed region of size bytes.
func Map(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: invalid region size %d", size)
	}
	return &Region{data: make([]byte, size)}, nil
}

func unmap([]byte, bool) error { return nil }
