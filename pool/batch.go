// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batch of buffers leased together and returned together.
// Not thread-safe.

package pool

import "errors"

// BufferBatch collects buffers so a request can release all of them at once.
type BufferBatch struct {
	buffers []*Buffer
}

// NewBufferBatch creates a new batch with given capacity.
func NewBufferBatch(capacity int) *BufferBatch {
	return &BufferBatch{
		buffers: make([]*Buffer, 0, capacity),
	}
}

// Append adds a buffer to the batch. Nil buffers are skipped.
func (b *BufferBatch) Append(buf *Buffer) {
	if buf != nil {
		b.buffers = append(b.buffers, buf)
	}
}

// Len returns number of items in the batch.
func (b *BufferBatch) Len() int {
	return len(b.buffers)
}

// Get retrieves item at index.
func (b *BufferBatch) Get(idx int) *Buffer {
	return b.buffers[idx]
}

// Bytes sums the capacity of every buffer.
func (b *BufferBatch) Bytes() int {
	n := 0
	for _, buf := range b.buffers {
		n += buf.Cap()
	}
	return n
}

// Split divides the batch at idx into two sub-batches sharing storage.
func (b *BufferBatch) Split(idx int) (first, second *BufferBatch) {
	return &BufferBatch{buffers: b.buffers[:idx:idx]}, &BufferBatch{buffers: b.buffers[idx:]}
}

// Release reserves every buffer and empties the batch. All buffers are
// attempted; the errors are joined.
func (b *BufferBatch) Release() error {
	var errs []error
	for i, buf := range b.buffers {
		if err := Reserve(buf); err != nil {
			errs = append(errs, err)
		}
		b.buffers[i] = nil
	}
	b.buffers = b.buffers[:0]
	return errors.Join(errs...)
}

// Reset forgets the buffers without releasing them.
func (b *BufferBatch) Reset() {
	clear(b.buffers)
	b.buffers = b.buffers[:0]
}
