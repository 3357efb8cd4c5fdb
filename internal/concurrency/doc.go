// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-bufpool: cache-line padded lock
// stripes, a mutex with bounded acquisition, per-P shard ids standing in for
// thread-local storage, and a delayed-task scheduler executing on an ants
// worker pool.
package concurrency
