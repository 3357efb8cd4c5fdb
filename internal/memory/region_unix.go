//go:build unix

// File: internal/memory/region_unix.go
// Package memory
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Anonymous private mappings via mmap(2).

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map creates a zeroed region of size bytes.
func Map(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: invalid region size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("memory: mmap %d bytes: %w", size, err)
	}
	return &Region{data: data, native: true}, nil
}

func unmap(data []byte, native bool) error {
	if !native || data == nil {
		return nil
	}
	return unix.Munmap(data)
}
