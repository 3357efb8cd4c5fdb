// File: pool/default.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"
)

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// DefaultManager returns a process-wide Manager built from DefaultConfig so
// all components share the same local and global pools.
func DefaultManager() *Manager {
	defaultOnce.Do(func() {
		m, err := NewManager(DefaultConfig())
		if err != nil {
			panic("pool: default manager: " + err.Error())
		}
		defaultMgr = m
	})
	return defaultMgr
}

// Local is a shortcut to the caller's local pool of the default manager.
func Local() *BufferPool {
	return DefaultManager().Local()
}

// Allocate leases capacity bytes from the caller's local pool with the
// default front reservation.
func Allocate(direct bool, capacity int) (*Buffer, error) {
	return Local().Buffer(direct, capacity)
}
