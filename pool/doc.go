// Package pool
// Author: momentics <momentics@gmail.com>
//
// Pooled byte buffers for high-throughput IO.
//
// A BufferPool carves aligned spans out of a heap or a direct (mmap) backing
// store with a page.Page, grows the store in steps up to a limit, widens
// buffers in place when their neighbours are free and hands idle stores back
// to the runtime or the OS. A Manager links one pool per P to two global
// overflow pools and an unpooled fallback.
//
// See bufferpool.go, expand.go and manager.go for implementation details.
package pool
