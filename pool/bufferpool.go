// File: pool/bufferpool.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BufferPool leases aligned spans of a growable backing store, one store per
// storage kind. Spans are carved by a page.Page; the bytes live in an arena
// that is created lazily and released once the pool idles.

package pool

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/internal/concurrency"
	"github.com/momentics/hioload-bufpool/internal/logutil"
	"github.com/momentics/hioload-bufpool/page"
)

const (
	heapKind   = 0
	directKind = 1

	lockStripes = 64
)

var kindNames = [2]string{"heap", "direct"}

func kindOf(direct bool) int {
	if direct {
		return directKind
	}
	return heapKind
}

// tier is one storage kind of a pool.
type tier struct {
	kind   int
	cfg    TierConfig
	cur    atomic.Pointer[store]
	growMu sync.Mutex
	shells *shellCache

	growths  atomic.Int64
	reclaims atomic.Int64
}

func (t *tier) direct() bool { return t.kind == directKind }
func (t *tier) name() string { return kindNames[t.kind] }

// BufferPool is safe for concurrent use.
type BufferPool struct {
	name   string
	mgr    *Manager
	tiers  [2]tier
	locks  *concurrency.StripedMutex
	coarse *concurrency.TimedMutex
	global bool

	maxStall int64
	lastUse  atomic.Int64
	armed    atomic.Bool
	taskMu   sync.Mutex
	task     api.Cancelable

	leased   atomic.Int64
	zeroCopy atomic.Int64
	copies   atomic.Int64
	closed   atomic.Bool
}

var _ api.Owner = (*BufferPool)(nil)

// unpooled tags buffers backed by dedicated memory.
var unpooled = &BufferPool{name: "unpooled"}

func newBufferPool(name string, pc PoolConfig, mgr *Manager, global bool) *BufferPool {
	p := &BufferPool{
		name:     name,
		mgr:      mgr,
		locks:    concurrency.NewStripedMutex(lockStripes),
		global:   global,
		maxStall: int64(pc.MaxStall),
	}
	if global {
		p.coarse = concurrency.NewTimedMutex()
	}
	for k, tc := range [2]TierConfig{pc.Heap, pc.Direct} {
		t := &p.tiers[k]
		t.kind = k
		t.cfg = tc
		t.shells = newShellCache(pc.ShellSlots)
		if tc.enabled() {
			t.cur.Store(newStore(tc.Init))
		}
	}
	return p
}

func (p *BufferPool) OwnerName() string { return p.name }

func (p *BufferPool) tier(direct bool) *tier { return &p.tiers[kindOf(direct)] }

// Buffer allocates capacity bytes with the default front reservation.
func (p *BufferPool) Buffer(direct bool, capacity int) (*Buffer, error) {
	return p.Allocate(direct, capacity, DefaultKeepBefore)
}

// Allocate leases capacity bytes preceded by keepBefore hidden bytes.
//
// The request is served from this pool, then from the global pool of the
// same kind, then according to the manager's OOMPolicy. It returns a nil
// buffer and no error only under OOMNil.
func (p *BufferPool) Allocate(direct bool, capacity, keepBefore int) (*Buffer, error) {
	if capacity < 0 || keepBefore < 0 || capacity > math.MaxInt-keepBefore {
		return nil, api.Wrap(api.ErrCodeInvalidArgument, api.ErrInvalidArgument).
			WithContext("capacity", capacity).WithContext("keepBefore", keepBefore)
	}
	if p.closed.Load() {
		return nil, api.ErrPoolClosed
	}
	total := int64(capacity + keepBefore)
	if total == 0 {
		return emptyBuffer(direct), nil
	}

	t := p.tier(direct)
	b := t.shells.get()
	if b == nil {
		b = &Buffer{direct: direct, mgr: p.mgr}
	}
	large := t.cfg.Large > 0 && total >= t.cfg.Large
	if !large && p.allocOwn(t, b, total, keepBefore) {
		return b, nil
	}
	if t.cfg.Large >= 0 {
		if g := p.overflow(direct); g != nil {
			gt := g.tier(direct)
			if g.allocOwn(gt, b, total, keepBefore) {
				p.mgr.metrics.Fallback("global")
				return b, nil
			}
		}
	}
	return p.outOfMemory(t, b, total, keepBefore)
}

// overflow returns the global pool requests fall through to.
func (p *BufferPool) overflow(direct bool) *BufferPool {
	if p.global || p.mgr == nil {
		return nil
	}
	return p.mgr.Global(direct)
}

func (p *BufferPool) allocOwn(t *tier, b *Buffer, total int64, keepBefore int) bool {
	if p.coarse != nil {
		if !p.coarse.TryLockFor(globalLockWait) {
			return false
		}
		defer p.coarse.Unlock()
	}
	s, a, off, ok := p.allocSpan(t, total)
	if !ok {
		return false
	}
	p.attach(b, s.page, a, off, total, keepBefore)
	return true
}

func (p *BufferPool) attach(b *Buffer, pg *page.Page, a *arena, off, total int64, keepBefore int) {
	b.Attach(a.data, int(off)+keepBefore, int(total)-keepBefore)
	b.SetKeepBefore(keepBefore)
	b.SetPage(pg)
	b.arena = a
	if l := p.mgr.leakSampler(); l.Enabled() {
		b.tracked = l.Track(b, p.name+"/"+kindNames[kindOf(b.direct)])
	}
	p.leased.Add(1)
	b.owner.Store(p)
}

// allocSpan carves total bytes from the tier's current store, growing it
// when the Page is exhausted.
func (p *BufferPool) allocSpan(t *tier, total int64) (*store, *arena, int64, bool) {
	for {
		s := t.cur.Load()
		if s == nil {
			return nil, nil, 0, false
		}
		a := s.arena.Load()
		if a == nil {
			na, err := newArena(t.direct(), s.page.TotalSpace())
			if err != nil {
				logutil.Warn("arena allocation failed", zap.String("pool", p.name),
					zap.String("kind", t.name()), zap.Int64("size", s.page.TotalSpace()), zap.Error(err))
				return nil, nil, 0, false
			}
			if !s.arena.CompareAndSwap(nil, na) {
				na.release()
				continue
			}
			a = na
			p.armReclaim()
		}

		mu := p.locks.For(s.page.ID())
		mu.Lock()
		if t.cur.Load() != s {
			// retired while we were not looking
			if s.page.UsedSpace() == 0 {
				s.dropArena()
			}
			mu.Unlock()
			continue
		}
		off := s.page.Alloc(total)
		mu.Unlock()

		if off >= 0 {
			p.touch()
			return s, a, off, true
		}
		if !p.grow(t, s, total) {
			return nil, nil, 0, false
		}
	}
}

// grow installs a larger store. It reports false when the tier is at its
// limit; true means the caller should retry.
func (p *BufferPool) grow(t *tier, s *store, need int64) bool {
	t.growMu.Lock()
	defer t.growMu.Unlock()
	if t.cur.Load() != s {
		return true
	}
	total := s.page.TotalSpace()
	if !t.cfg.extensible() || need > t.cfg.Max-total {
		return false
	}
	steps := (need + t.cfg.Incr - 1) / t.cfg.Incr
	size := min(total+steps*t.cfg.Incr, t.cfg.Max)
	ns := newStore(size)

	mu := p.locks.For(s.page.ID())
	mu.Lock()
	t.cur.Store(ns)
	if s.page.UsedSpace() == 0 {
		s.dropArena()
	}
	mu.Unlock()

	t.growths.Add(1)
	p.mgr.metrics.Growth(p.name, t.name())
	logutil.Debug("backing store grown", zap.String("pool", p.name), zap.String("kind", t.name()),
		zap.Int64("from", total), zap.Int64("to", size))
	return true
}

func (p *BufferPool) outOfMemory(t *tier, b *Buffer, total int64, keepBefore int) (*Buffer, error) {
	policy := OOMFallback
	if p.mgr != nil {
		policy = p.mgr.cfg.OOMPolicy
	}
	switch policy {
	case OOMNil:
		t.shells.put(b)
		return nil, nil
	case OOMError:
		t.shells.put(b)
		return nil, api.Wrap(api.ErrCodeResourceExhausted, api.ErrOutOfMemory).
			WithContext("pool", p.name).WithContext("kind", t.name()).WithContext("size", total)
	}

	bud := p.mgr.unpooledBudget()
	if !bud.charge(total) {
		t.shells.put(b)
		return nil, api.Wrap(api.ErrCodeResourceExhausted, api.ErrUnpooledBudget).
			WithContext("size", total).WithContext("limit", bud.limit)
	}
	a, err := newArena(t.direct(), total)
	if err != nil {
		bud.refund(total)
		t.shells.put(b)
		return nil, api.Wrap(api.ErrCodeResourceExhausted, api.ErrOutOfMemory).
			WithContext("size", total).WithContext("cause", err.Error())
	}
	a.budget = bud
	b.Attach(a.data, keepBefore, int(total)-keepBefore)
	b.SetKeepBefore(keepBefore)
	b.arena = a
	b.owner.Store(unpooled)
	p.mgr.metrics.Fallback("unpooled")
	logutil.Debug("serving unpooled buffer", zap.String("pool", p.name),
		zap.String("kind", t.name()), zap.Int64("size", total))
	return b, nil
}

// Reserve returns buf to the allocator it was leased from. A second call
// for the same lease fails with api.ErrDoubleRelease and changes nothing.
func Reserve(buf *Buffer) error {
	if buf == nil {
		return api.ErrInvalidArgument
	}
	prev := buf.owner.Swap(nil)
	switch {
	case prev == nil:
		if buf.isEmptySentinel() {
			return nil
		}
		if buf.mgr != nil {
			buf.mgr.metrics.DoubleRelease()
		}
		logutil.Error("buffer released twice", zap.Stack("stack"))
		return api.ErrDoubleRelease
	case prev == unpooled:
		a := buf.arena
		buf.Reset()
		a.release()
		return nil
	default:
		prev.reserve(buf)
		return nil
	}
}

func (p *BufferPool) reserve(b *Buffer) {
	t := p.tier(b.direct)
	pg, a := b.page, b.arena

	mu := p.locks.For(pg.ID())
	mu.Lock()
	pg.Free(b.spanOff(), b.spanLen())
	empty := pg.UsedSpace() == 0
	cur := t.cur.Load()
	retired := cur == nil || cur.page != pg
	if empty && retired {
		a.release()
	}
	mu.Unlock()

	if empty && !retired {
		p.touch()
	}
	p.leased.Add(-1)
	if b.tracked {
		p.mgr.leakSampler().Untrack(b)
	}
	b.Reset()
	t.shells.put(b)
}

// touch records activity for the idle reclaimer.
func (p *BufferPool) touch() {
	if p.mgr != nil {
		p.lastUse.Store(p.mgr.sched.Now())
	}
}
