// File: internal/concurrency/shard.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-P shard ids. Go has no thread-local storage; the id of the P running
// the goroutine is the closest cheap equivalent.

package concurrency

import (
	"runtime"
	_ "unsafe"
)

// ShardID returns the id of the P currently running the caller, in
// [0, GOMAXPROCS). The goroutine may migrate right after the call, so the
// id is an affinity hint, not an ownership guarantee.
func ShardID() int {
	id := runtime_procPin()
	runtime_procUnpin()
	return id
}

// Shards returns the number of shard ids ShardID can currently yield.
func Shards() int { return runtime.GOMAXPROCS(0) }

//go:linkname runtime_procPin runtime.procPin
func runtime_procPin() int

//go:linkname runtime_procUnpin runtime.procUnpin
func runtime_procUnpin() int
