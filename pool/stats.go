// File: pool/stats.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/control"
)

// TierStats is a snapshot of one storage kind.
type TierStats struct {
	Kind     string
	Enabled  bool
	Used     int64
	Total    int64
	Arena    bool
	Shells   int
	Growths  int64
	Reclaims int64
}

// Stats is a snapshot of a pool.
type Stats struct {
	Name     string
	Leased   int64
	Heap     TierStats
	Direct   TierStats
	ZeroCopy int64
	Copies   int64
}

func (p *BufferPool) Name() string { return p.name }

func (p *BufferPool) Stats() Stats {
	return Stats{
		Name:     p.name,
		Leased:   p.leased.Load(),
		Heap:     p.tierStats(&p.tiers[heapKind]),
		Direct:   p.tierStats(&p.tiers[directKind]),
		ZeroCopy: p.zeroCopy.Load(),
		Copies:   p.copies.Load(),
	}
}

func (p *BufferPool) tierStats(t *tier) TierStats {
	ts := TierStats{
		Kind:     t.name(),
		Shells:   t.shells.len(),
		Growths:  t.growths.Load(),
		Reclaims: t.reclaims.Load(),
	}
	s := t.cur.Load()
	if s == nil {
		return ts
	}
	ts.Enabled = true
	ts.Arena = s.arena.Load() != nil
	mu := p.locks.For(s.page.ID())
	mu.Lock()
	ts.Used, ts.Total = s.page.UsedSpace(), s.page.TotalSpace()
	mu.Unlock()
	return ts
}

func (p *BufferPool) samples() []control.TierSample {
	st := p.Stats()
	var out []control.TierSample
	for _, ts := range [2]TierStats{st.Heap, st.Direct} {
		if ts.Enabled {
			out = append(out, control.TierSample{Pool: p.name, Kind: ts.Kind, Used: ts.Used, Total: ts.Total})
		}
	}
	return out
}

// Status renders both Pages and the expansion counters.
func (p *BufferPool) Status() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pool %s\n", p.name)
	for k := len(p.tiers) - 1; k >= 0; k-- {
		t := &p.tiers[k]
		s := t.cur.Load()
		switch {
		case s == nil:
			fmt.Fprintf(&sb, "%s: disabled\n", t.name())
		case s.arena.Load() == nil:
			fmt.Fprintf(&sb, "%s: not initialized (%d bytes reserved)\n", t.name(), s.page.TotalSpace())
		default:
			mu := p.locks.For(s.page.ID())
			mu.Lock()
			fmt.Fprintf(&sb, "%s: %s\n", t.name(), s.page.String())
			mu.Unlock()
		}
	}
	fmt.Fprintf(&sb, "expand: keepBefore=%d zeroCopy=%d copies=%d\n",
		DefaultKeepBefore, p.zeroCopy.Load(), p.copies.Load())
	return sb.String()
}

// Close releases the pool's arenas. It fails with api.ErrBuffersInUse while
// any buffer is still leased; the pool stays usable in that case. Close does
// not wait for allocations already in flight.
func (p *BufferPool) Close() error {
	if p.closed.Load() {
		return nil
	}
	if n := p.leased.Load(); n != 0 || p.rawInUse() {
		return api.Wrap(api.ErrCodeResourceExhausted, api.ErrBuffersInUse).
			WithContext("pool", p.name).WithContext("leased", n)
	}
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancelReclaim()
	for k := range p.tiers {
		t := &p.tiers[k]
		t.growMu.Lock()
		if s := t.cur.Load(); s != nil {
			mu := p.locks.For(s.page.ID())
			mu.Lock()
			s.dropArena()
			mu.Unlock()
		}
		t.growMu.Unlock()
	}
	if p.mgr != nil {
		p.mgr.forget(p)
	}
	return nil
}

// rawInUse reports Malloc blocks still outstanding.
func (p *BufferPool) rawInUse() bool {
	if _, err := p.rawTier(); err != nil {
		return false
	}
	ts := p.tierStats(&p.tiers[directKind])
	return ts.Used != 0
}
