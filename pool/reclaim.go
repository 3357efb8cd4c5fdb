// File: pool/reclaim.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Idle reclaim: a pool that stays empty for MaxStall gives its arenas back.

package pool

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-bufpool/internal/logutil"
)

// armReclaim schedules the reclaimer unless it is already pending.
func (p *BufferPool) armReclaim() {
	if p.maxStall <= 0 || p.mgr == nil || p.closed.Load() {
		return
	}
	if !p.armed.CompareAndSwap(false, true) {
		return
	}
	p.schedule(p.maxStall)
}

func (p *BufferPool) schedule(delay int64) {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()
	if p.closed.Load() {
		p.armed.Store(false)
		return
	}
	task, err := p.mgr.sched.Schedule(delay, p.reclaimTick)
	if err != nil {
		p.armed.Store(false)
		logutil.Debug("reclaim not scheduled", zap.String("pool", p.name), zap.Error(err))
		return
	}
	p.task = task
}

func (p *BufferPool) reclaimTick() {
	if p.closed.Load() {
		return
	}
	idle := p.mgr.sched.Now() - p.lastUse.Load()
	if idle < p.maxStall {
		p.schedule(p.maxStall - idle)
		return
	}
	for k := range p.tiers {
		p.reclaimTier(&p.tiers[k])
	}
	if p.holdsArena() {
		p.schedule(p.maxStall)
		return
	}
	p.armed.Store(false)
	// an allocation may have created an arena after the check above
	if p.holdsArena() && p.armed.CompareAndSwap(false, true) {
		p.schedule(p.maxStall)
	}
}

// reclaimTier swaps an empty store for a fresh one of the configured
// initial size and releases the old arena.
func (p *BufferPool) reclaimTier(t *tier) {
	t.growMu.Lock()
	defer t.growMu.Unlock()
	s := t.cur.Load()
	if s == nil || s.arena.Load() == nil {
		return
	}
	mu := p.locks.For(s.page.ID())
	mu.Lock()
	if s.page.UsedSpace() != 0 {
		mu.Unlock()
		logutil.Debug("reclaim skipped, page in use", zap.String("pool", p.name),
			zap.String("kind", t.name()), zap.Int64("used", s.page.UsedSpace()))
		return
	}
	t.cur.Store(newStore(t.cfg.Init))
	s.dropArena()
	mu.Unlock()

	t.reclaims.Add(1)
	p.mgr.metrics.Reclaim(p.name, t.name())
	logutil.Info("idle backing store released", zap.String("pool", p.name),
		zap.String("kind", t.name()), zap.Int64("size", s.page.TotalSpace()))
}

func (p *BufferPool) holdsArena() bool {
	for k := range p.tiers {
		if s := p.tiers[k].cur.Load(); s != nil && s.arena.Load() != nil {
			return true
		}
	}
	return false
}

func (p *BufferPool) cancelReclaim() {
	p.taskMu.Lock()
	task := p.task
	p.task = nil
	p.taskMu.Unlock()
	if task != nil {
		_ = task.Cancel()
	}
}
