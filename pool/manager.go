// File: pool/manager.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager wires the pool topology: one local pool per P, two global overflow
// pools created on demand, and the unpooled budget shared by all of them.

package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/control"
	"github.com/momentics/hioload-bufpool/internal/concurrency"
	"github.com/momentics/hioload-bufpool/internal/leak"
	"github.com/momentics/hioload-bufpool/internal/logutil"
)

// Manager owns every pool of one process or subsystem.
type Manager struct {
	cfg Config

	locals     []atomic.Pointer[BufferPool]
	globalOnce [2]sync.Once
	globals    [2]*BufferPool

	pools    mapset.Set[*BufferPool]
	unpooled *budget
	sched    *concurrency.Scheduler
	metrics  *control.Metrics
	probes   *control.DebugProbes
	leaks    *leak.Sampler
	closed   atomic.Bool
}

// NewManager validates cfg and starts the background scheduler.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sched, err := concurrency.NewScheduler(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("pool: scheduler: %w", err)
	}
	m := &Manager{
		cfg:    cfg,
		locals: make([]atomic.Pointer[BufferPool], concurrency.Shards()),
		pools:  mapset.NewSet[*BufferPool](),
		sched:  sched,
		probes: control.NewDebugProbes(),
	}
	m.metrics = control.NewMetrics(cfg.Namespace, m.samples)
	m.unpooled = &budget{limit: cfg.UnpooledBudget, onUse: m.metrics.Unpooled}
	m.leaks = leak.New(cfg.LeakSampleRate, leak.DefaultLimit, func(leak.Report) {
		m.metrics.Leak()
	})
	control.RegisterPlatformProbes(m.probes)
	m.probes.RegisterProbe("pool.unpooled_bytes", func() any { return m.unpooled.used.Load() })
	return m, nil
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() Config { return m.cfg }

// Local returns the pool of the P running the caller, creating it on first
// use. Buffers may be reserved from any goroutine.
func (m *Manager) Local() *BufferPool {
	shard := concurrency.ShardID() % len(m.locals)
	slot := &m.locals[shard]
	if p := slot.Load(); p != nil {
		return p
	}
	p := newBufferPool(fmt.Sprintf("local-%d", shard), m.cfg.Local(), m, false)
	if !slot.CompareAndSwap(nil, p) {
		return slot.Load()
	}
	m.register(p)
	return p
}

// Global returns the overflow pool of the given kind.
func (m *Manager) Global(direct bool) *BufferPool {
	k := kindOf(direct)
	m.globalOnce[k].Do(func() {
		p := newBufferPool("global-"+kindNames[k], m.cfg.global(direct), m, true)
		m.globals[k] = p
		m.register(p)
	})
	return m.globals[k]
}

// NewPool creates a standalone pool. Its requests still overflow into the
// global pools and the unpooled fallback.
func (m *Manager) NewPool(name string, pc PoolConfig) (*BufferPool, error) {
	if m.closed.Load() {
		return nil, api.ErrPoolClosed
	}
	if err := pc.validate(); err != nil {
		return nil, err
	}
	p := newBufferPool(name, pc, m, false)
	m.register(p)
	return p, nil
}

func (m *Manager) register(p *BufferPool) {
	m.pools.Add(p)
	m.probes.RegisterProbe("pool."+p.name, func() any { return p.Stats() })
}

func (m *Manager) forget(p *BufferPool) {
	m.pools.Remove(p)
	m.probes.UnregisterProbe("pool." + p.name)
}

// Pools returns a snapshot of the live pools.
func (m *Manager) Pools() []*BufferPool { return m.pools.ToSlice() }

// Unpooled returns the bytes currently leased outside every pool.
func (m *Manager) Unpooled() int64 { return m.unpooled.used.Load() }

// Metrics exposes the manager's collectors.
func (m *Manager) Metrics() *control.Metrics { return m.metrics }

// Register adds the manager's collectors to r.
func (m *Manager) Register(r prometheus.Registerer) error { return m.metrics.Register(r) }

// DumpState runs every debug probe.
func (m *Manager) DumpState() map[string]any { return m.probes.DumpState() }

// LeakReports drains the sampled leak reports.
func (m *Manager) LeakReports() []leak.Report { return m.leaks.Reports() }

func (m *Manager) samples() []control.TierSample {
	var out []control.TierSample
	m.pools.Each(func(p *BufferPool) bool {
		out = append(out, p.samples()...)
		return false
	})
	return out
}

func (m *Manager) leakSampler() *leak.Sampler {
	if m == nil {
		return nil
	}
	return m.leaks
}

func (m *Manager) unpooledBudget() *budget {
	if m == nil {
		return nil
	}
	return m.unpooled
}

// Close closes every pool and stops the scheduler. Pools with leased
// buffers are left open and reported in the returned error.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var busy []string
	for _, p := range m.Pools() {
		if err := p.Close(); err != nil {
			busy = append(busy, p.name)
		}
	}
	if err := m.sched.Close(); err != nil {
		logutil.Warn("scheduler close failed", zap.Error(err))
	}
	if len(busy) > 0 {
		return api.Wrap(api.ErrCodeResourceExhausted, api.ErrBuffersInUse).WithContext("pools", busy)
	}
	return nil
}
