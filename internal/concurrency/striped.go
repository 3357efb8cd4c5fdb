// File: internal/concurrency/striped.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"math/bits"
	"sync"

	"golang.org/x/sys/cpu"
)

type stripe struct {
	sync.Mutex
	_ cpu.CacheLinePad
}

// StripedMutex is a fixed set of mutexes selected by key. Distinct keys may
// share a stripe; equal keys always do.
type StripedMutex struct {
	stripes []stripe
	shift   uint
}

// NewStripedMutex creates n stripes, rounded up to a power of two.
func NewStripedMutex(n int) *StripedMutex {
	if n < 1 {
		n = 1
	}
	k := bits.Len(uint(n - 1))
	return &StripedMutex{
		stripes: make([]stripe, 1<<k),
		shift:   uint(64 - k),
	}
}

// For returns the mutex guarding key.
func (m *StripedMutex) For(key uint64) *sync.Mutex {
	if len(m.stripes) == 1 {
		return &m.stripes[0].Mutex
	}
	// fibonacci hash
	return &m.stripes[(key*0x9E3779B97F4A7C15)>>m.shift].Mutex
}

// Len returns the number of stripes.
func (m *StripedMutex) Len() int { return len(m.stripes) }
