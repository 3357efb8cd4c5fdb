package pool

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-bufpool/api"
)

func newRawPool(t *testing.T, m *Manager, size int64) *BufferPool {
	t.Helper()
	p, err := m.NewPool(t.Name(), PoolConfig{Direct: TierConfig{Init: size, Max: size}})
	require.NoError(t, err)
	return p
}

func TestMallocFreeRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)
	p := newRawPool(t, m, 4096)

	addr, err := p.Malloc(100)
	require.NoError(t, err)
	require.NotZero(t, addr)
	assert.Equal(t, int64(120), p.Stats().Direct.Used)

	raw := p.RawBytes(addr, 100)
	require.Len(t, raw, 100)
	copy(raw, "raw block")
	assert.Equal(t, []byte("raw block"), p.RawBytes(addr, 9))

	require.NoError(t, p.Free(addr))
	assert.Zero(t, p.Stats().Direct.Used)
	assert.ErrorIs(t, p.Free(addr), api.ErrCorrupted, "header is wiped on free")
	assert.NoError(t, p.Free(0))

	zero, err := p.Malloc(0)
	require.NoError(t, err)
	assert.Zero(t, zero)
}

func TestFreeRejectsDamagedHeader(t *testing.T) {
	m := newTestManager(t, nil)
	p := newRawPool(t, m, 4096)

	addr, err := p.Malloc(50)
	require.NoError(t, err)
	used := p.Stats().Direct.Used

	hdr := p.RawBytes(addr-headerSize, headerSize)
	require.NotNil(t, hdr)
	hdr[8] ^= 0xff
	err = p.Free(addr)
	assert.ErrorIs(t, err, api.ErrCorrupted)
	assert.Equal(t, api.ErrCodeCorruption, api.CodeOf(err))
	assert.Equal(t, used, p.Stats().Direct.Used)
	assert.ErrorIs(t, p.Close(), api.ErrBuffersInUse)

	hdr[8] ^= 0xff
	require.NoError(t, p.Free(addr))
	require.NoError(t, p.Close())
}

func TestFreeRejectsUnalignedAddress(t *testing.T) {
	m := newTestManager(t, nil)
	p := newRawPool(t, m, 4096)

	addr, err := p.Malloc(100)
	require.NoError(t, err)
	used := p.Stats().Direct.Used

	// a well-formed header at an address Malloc never returned
	fake := addr + 3 + headerSize
	hdr := p.RawBytes(fake-headerSize, headerSize)
	require.NotNil(t, hdr)
	binary.LittleEndian.PutUint64(hdr, 32)
	binary.LittleEndian.PutUint64(hdr[8:], ^uint64(32))

	err = p.Free(fake)
	assert.ErrorIs(t, err, api.ErrCorrupted)
	assert.Equal(t, used, p.Stats().Direct.Used)

	// a size beyond the page is refused as well
	hdr = p.RawBytes(addr-headerSize, headerSize)
	saved := append([]byte(nil), hdr...)
	binary.LittleEndian.PutUint64(hdr, math.MaxUint64-1)
	binary.LittleEndian.PutUint64(hdr[8:], 1)
	assert.ErrorIs(t, p.Free(addr), api.ErrCorrupted)
	copy(hdr, saved)

	require.NoError(t, p.Free(addr))
	assert.Zero(t, p.Stats().Direct.Used)
}

func TestMallocNeedsFixedDirectTier(t *testing.T) {
	m := newTestManager(t, nil)
	p := newTestPool(t, m, TierConfig{Init: 4096, Max: 4096})
	_, err := p.Malloc(8)
	assert.ErrorIs(t, err, api.ErrNotSupported)

	grow, err := m.NewPool("growable", PoolConfig{Direct: TierConfig{Init: 4096, Incr: 4096, Max: 8192}})
	require.NoError(t, err)
	_, err = grow.Malloc(8)
	assert.ErrorIs(t, err, api.ErrNotSupported)

	raw := newRawPool(t, m, 64)
	_, err = raw.Malloc(64)
	assert.ErrorIs(t, err, api.ErrOutOfMemory)
}

func TestDirectBuffers(t *testing.T) {
	m := newTestManager(t, nil)
	p, err := m.NewPool("direct", PoolConfig{Direct: TierConfig{Init: 8192, Incr: 8192, Max: 32768}})
	require.NoError(t, err)

	b, err := p.Buffer(true, 1000)
	require.NoError(t, err)
	assert.True(t, b.Direct())
	assert.True(t, b.Pooled())
	_, _ = b.Write([]byte("off heap"))
	assert.Equal(t, []byte("off heap"), b.Bytes())
	b.Release()
	assert.Zero(t, p.Stats().Direct.Used)
}

func TestManagerTopology(t *testing.T) {
	m := newTestManager(t, nil)

	local := m.Local()
	require.NotNil(t, local)
	assert.Contains(t, m.Pools(), local)
	assert.Same(t, m.Global(true), m.Global(true))
	assert.NotSame(t, m.Global(true), m.Global(false))

	state := m.DumpState()
	assert.Contains(t, state, "platform.cpus")
	assert.Contains(t, state, "pool.global-direct")
	assert.Contains(t, state, "pool."+local.Name())

	b, err := local.Buffer(false, 64)
	require.NoError(t, err)
	_, err = m.NewPool("late", PoolConfig{Heap: TierConfig{Init: -1}})
	require.NoError(t, err, "disabled tier is valid")
	_, err = m.NewPool("bad", PoolConfig{Heap: TierConfig{Init: 128, Max: 64}})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	assert.ErrorIs(t, m.Close(), api.ErrBuffersInUse)
	b.Release()
	_, err = m.NewPool("closed", PoolConfig{})
	assert.ErrorIs(t, err, api.ErrPoolClosed)
}

func TestManagerMetrics(t *testing.T) {
	m := newTestManager(t, nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	p := newTestPool(t, m, TierConfig{Init: 64, Incr: 64, Max: 256})
	b, err := p.Allocate(false, 100, 16)
	require.NoError(t, err)
	_, err = p.Expand(b, 8, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().ExpandKeepBefore))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hioload_bufpool_used_bytes"])
	assert.True(t, names["hioload_bufpool_total_bytes"])
	assert.True(t, names["hioload_bufpool_growth_total"])
	b.Release()
}

func TestLeakSamplerReportsDroppedBuffers(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.LeakSampleRate = 1 })
	p := newTestPool(t, m, TierConfig{Init: 4096, Max: 4096})

	func() {
		b, err := p.Allocate(false, 32, 0)
		require.NoError(t, err)
		require.True(t, b.tracked)
	}()
	kept, err := p.Allocate(false, 32, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runtime.GC()
		return m.leaks.Leaked() > 0
	}, 2*time.Second, 10*time.Millisecond)
	reports := m.LeakReports()
	require.NotEmpty(t, reports)
	assert.Contains(t, reports[0].Info, "heap")

	kept.Release()
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
oom_policy = "error"
max_stall = "5s"
unpooled_budget = 1048576

[heap]
init = 1024
incr = 1024
max = 8192
large = 512

[log]
level = "debug"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, OOMError, cfg.OOMPolicy)
	assert.Equal(t, 5*time.Second, cfg.MaxStall.Std())
	assert.Equal(t, TierConfig{Init: 1024, Incr: 1024, Max: 8192, Large: 512}, cfg.Heap)
	assert.Equal(t, DefaultConfig().Direct, cfg.Direct)
	assert.Equal(t, int64(1<<20), cfg.UnpooledBudget)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	for name, body := range map[string]string{
		"shrinking": "[heap]\ninit = 4096\nmax = 1024\n",
		"policy":    "oom_policy = \"maybe\"\n",
		"unknown":   "spare_bytes = 1\n",
		"duration":  "max_stall = \"soon\"\n",
		"log":       "[log]\nformat = \"xml\"\n",
	} {
		bad := filepath.Join(dir, name+".toml")
		require.NoError(t, os.WriteFile(bad, []byte(body), 0o644))
		_, err := LoadConfig(bad)
		assert.Error(t, err, name)
	}
}

func TestBatchReleasesAll(t *testing.T) {
	m := newTestManager(t, nil)
	p := newTestPool(t, m, TierConfig{Init: 4096, Max: 4096})

	batch := NewBufferBatch(4)
	for i := 0; i < 4; i++ {
		b, err := p.Allocate(false, 64, 0)
		require.NoError(t, err)
		batch.Append(b)
	}
	batch.Append(nil)
	assert.Equal(t, 4, batch.Len())
	assert.Equal(t, 256, batch.Bytes())

	first, second := batch.Split(1)
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 3, second.Len())

	again := batch.Get(0)
	require.NoError(t, batch.Release())
	assert.Zero(t, batch.Len())
	assert.Zero(t, heapUsed(p))

	batch.Append(again)
	assert.ErrorIs(t, batch.Release(), api.ErrDoubleRelease)
}

func TestDefaultManagerIsShared(t *testing.T) {
	assert.Same(t, DefaultManager(), DefaultManager())

	b, err := Allocate(false, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, b.Cap())
	assert.Contains(t, DefaultManager().Pools(), Local())
	b.Release()
}
