// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for the allocator components.

package benchmarks

import (
	"testing"

	"github.com/momentics/hioload-bufpool/pool"
	"github.com/momentics/hioload-bufpool/page"
)

func newManager(b *testing.B) *pool.Manager {
	b.Helper()
	cfg := pool.DefaultConfig()
	cfg.MaxStall = 0
	m, err := pool.NewManager(cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = m.Close() })
	return m
}

// BenchmarkBufferPoolAllocation tests local pool lease/release performance.
func BenchmarkBufferPoolAllocation(b *testing.B) {
	m := newManager(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := m.Local().Buffer(false, 4096)
			if err != nil {
				b.Error(err)
				return
			}
			buf.Release()
		}
	})
}

// BenchmarkDirectAllocation leases off-heap buffers.
func BenchmarkDirectAllocation(b *testing.B) {
	m := newManager(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := m.Local().Buffer(true, 4096)
			if err != nil {
				b.Error(err)
				return
			}
			buf.Release()
		}
	})
}

// BenchmarkExpandInPlace grows a buffer at its end and at its front.
func BenchmarkExpandInPlace(b *testing.B) {
	m := newManager(b)
	p := m.Local()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := p.Buffer(false, 512)
		if err != nil {
			b.Fatal(err)
		}
		if buf, err = p.Expand(buf, 256, true, true); err != nil {
			b.Fatal(err)
		}
		if buf, err = p.ExpandBefore(buf, 8); err != nil {
			b.Fatal(err)
		}
		buf.Release()
	}
}

// BenchmarkMallocFree tests raw block allocation from a fixed direct tier.
func BenchmarkMallocFree(b *testing.B) {
	m := newManager(b)
	p, err := m.NewPool("raw", pool.PoolConfig{Direct: pool.TierConfig{Init: 1 << 20, Max: 1 << 20}})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		addr, err := p.Malloc(256)
		if err != nil {
			b.Fatal(err)
		}
		if err := p.Free(addr); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPageAlloc measures the span allocator on a fragmented page.
func BenchmarkPageAlloc(b *testing.B) {
	pg := page.New(1 << 20)
	for off := int64(0); off < 1<<20; off += 4096 {
		pg.Alloc(64)
		pg.Alloc(4096 - 64)
	}
	for off := int64(0); off < 1<<20; off += 8192 {
		pg.Free(off, 64)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		off := pg.Alloc(64)
		if off < 0 {
			b.Fatalf("alloc failed: %d", off)
		}
		pg.Free(off, 64)
	}
}
