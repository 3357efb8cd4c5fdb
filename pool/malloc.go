// File: pool/malloc.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw block API over a fixed-size direct tier. Every block carries a
// 16-byte header {size, ^size} in front of the returned address.

package pool

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/internal/logutil"
	"github.com/momentics/hioload-bufpool/page"
)

const headerSize = 16

func (p *BufferPool) rawTier() (*tier, error) {
	t := &p.tiers[directKind]
	if t.cur.Load() == nil || t.cfg.extensible() {
		return nil, api.Wrap(api.ErrCodeNotSupported, api.ErrNotSupported).
			WithContext("pool", p.name).WithContext("reason", "direct tier must be enabled and fixed-size")
	}
	return t, nil
}

// Malloc leases size bytes of direct memory and returns their address.
// Malloc(0) returns 0.
func (p *BufferPool) Malloc(size int) (uintptr, error) {
	t, err := p.rawTier()
	if err != nil {
		return 0, err
	}
	if size < 0 {
		return 0, api.ErrInvalidArgument
	}
	if size == 0 {
		return 0, nil
	}
	total := int64(size + headerSize)
	_, a, off, ok := p.allocSpan(t, total)
	if !ok {
		return 0, api.Wrap(api.ErrCodeResourceExhausted, api.ErrOutOfMemory).
			WithContext("pool", p.name).WithContext("size", size)
	}
	h := a.data[off : off+headerSize]
	binary.LittleEndian.PutUint64(h, uint64(total))
	binary.LittleEndian.PutUint64(h[8:], ^uint64(total))
	return a.region.Addr() + uintptr(off+headerSize), nil
}

// Free returns a block obtained from Malloc. A damaged header is reported as
// api.ErrCorrupted and the block is left allocated.
func (p *BufferPool) Free(addr uintptr) error {
	if addr == 0 {
		return nil
	}
	t, err := p.rawTier()
	if err != nil {
		return err
	}
	s := t.cur.Load()
	a := s.arena.Load()
	if a == nil || addr < headerSize || !a.region.Contains(addr-headerSize, headerSize) {
		return api.Wrap(api.ErrCodeNotFound, api.ErrNotPooled).WithContext("addr", addr)
	}
	off := int64(a.region.Offset(addr - headerSize))

	mu := p.locks.For(s.page.ID())
	mu.Lock()
	if t.cur.Load() != s {
		mu.Unlock()
		return api.Wrap(api.ErrCodeNotFound, api.ErrNotPooled).WithContext("addr", addr)
	}
	h := a.data[off : off+headerSize]
	size := binary.LittleEndian.Uint64(h)
	guard := ^binary.LittleEndian.Uint64(h[8:])
	if off%page.BlockSize != 0 || size != guard || size <= headerSize || size > uint64(s.page.TotalSpace()-off) {
		mu.Unlock()
		p.mgr.metrics.Corrupted()
		logutil.Error("raw block header corrupted", zap.String("pool", p.name),
			zap.Uintptr("addr", addr), zap.Uint64("size", size), zap.Uint64("guard", guard))
		return api.Wrap(api.ErrCodeCorruption, api.ErrCorrupted).WithContext("addr", addr)
	}
	clear(h)
	s.page.Free(off, int64(size))
	empty := s.page.UsedSpace() == 0
	mu.Unlock()
	if empty {
		p.touch()
	}
	return nil
}

// RawBytes returns n bytes at addr inside the direct tier, or nil when the
// range is outside it.
func (p *BufferPool) RawBytes(addr uintptr, n int) []byte {
	s := p.tiers[directKind].cur.Load()
	if s == nil {
		return nil
	}
	a := s.arena.Load()
	if a == nil || a.region == nil || !a.region.Contains(addr, n) {
		return nil
	}
	off := a.region.Offset(addr)
	return a.data[off : off+n : off+n]
}
