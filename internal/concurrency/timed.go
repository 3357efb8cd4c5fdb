// File: internal/concurrency/timed.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "time"

// TimedMutex is a mutex whose acquisition can be bounded in time.
type TimedMutex struct {
	ch chan struct{}
}

// NewTimedMutex returns an unlocked TimedMutex.
func NewTimedMutex() *TimedMutex {
	return &TimedMutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is held.
func (m *TimedMutex) Lock() { m.ch <- struct{}{} }

// TryLock acquires the mutex only if it is free.
func (m *TimedMutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// TryLockFor waits at most d for the mutex.
func (m *TimedMutex) TryLockFor(d time.Duration) bool {
	if m.TryLock() {
		return true
	}
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// Unlock releases the mutex. Unlocking a free mutex panics.
func (m *TimedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("concurrency: unlock of unlocked TimedMutex")
	}
}
