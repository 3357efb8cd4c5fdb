// File: pool/config.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool configuration, TOML-loadable.

package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/control"
	"github.com/momentics/hioload-bufpool/internal/logutil"
)

// DefaultKeepBefore is the hidden leading reservation of Buffer.
const DefaultKeepBefore = 16

const (
	heapInit, heapIncr, heapMax, heapLarge         = 32 << 10, 32 << 10, 4 << 20, 128 << 10
	directInit, directIncr, directMax, directLarge = 32 << 10, 32 << 10, 16 << 20, 4 << 20
	defaultShells                                  = 15
	defaultStall                                   = time.Minute
	globalLockWait                                 = 16 * time.Millisecond
)

// TierConfig sizes one storage kind of a pool.
//
// Init <= 0 disables the tier. Growth adds multiples of Incr up to Max.
// Requests of at least Large bytes skip the pool and go to the global one;
// Large == 0 never classifies a request as large and Large < 0 disables the
// global fallback for this kind.
type TierConfig struct {
	Init  int64 `toml:"init"`
	Incr  int64 `toml:"incr"`
	Max   int64 `toml:"max"`
	Large int64 `toml:"large"`
}

func (tc TierConfig) enabled() bool { return tc.Init > 0 }

// extensible reports whether the tier can ever grow beyond Init.
func (tc TierConfig) extensible() bool { return tc.Max > tc.Init && tc.Incr > 0 }

func (tc TierConfig) validate(kind string) error {
	if !tc.enabled() {
		return nil
	}
	if tc.Incr < 0 || tc.Max < tc.Init {
		return api.Wrap(api.ErrCodeInvalidArgument, api.ErrInvalidArgument).
			WithContext("tier", kind).WithContext("init", tc.Init).
			WithContext("incr", tc.Incr).WithContext("max", tc.Max)
	}
	return nil
}

// PoolConfig describes one BufferPool.
type PoolConfig struct {
	Heap       TierConfig `toml:"heap"`
	Direct     TierConfig `toml:"direct"`
	ShellSlots int        `toml:"shell_slots"`
	MaxStall   Duration   `toml:"max_stall"`
}

func (pc PoolConfig) validate() error {
	if err := pc.Heap.validate("heap"); err != nil {
		return err
	}
	if err := pc.Direct.validate("direct"); err != nil {
		return err
	}
	if pc.ShellSlots < 0 {
		return fmt.Errorf("pool: shell_slots %d: %w", pc.ShellSlots, api.ErrInvalidArgument)
	}
	return nil
}

// Config describes a Manager: the per-P local pools, the two global overflow
// pools and the out-of-memory policy.
type Config struct {
	Heap           TierConfig        `toml:"heap"`
	Direct         TierConfig        `toml:"direct"`
	GlobalHeap     TierConfig        `toml:"global_heap"`
	GlobalDirect   TierConfig        `toml:"global_direct"`
	ShellSlots     int               `toml:"shell_slots"`
	MaxStall       Duration          `toml:"max_stall"`
	OOMPolicy      OOMPolicy         `toml:"oom_policy"`
	UnpooledBudget int64             `toml:"unpooled_budget"`
	LeakSampleRate int               `toml:"leak_sample_rate"`
	Workers        int               `toml:"scheduler_workers"`
	Namespace      string            `toml:"metrics_namespace"`
	Log            logutil.LogConfig `toml:"log"`
}

// DefaultConfig mirrors the sizes the pools were tuned with.
func DefaultConfig() Config {
	return Config{
		Heap:         TierConfig{Init: heapInit, Incr: heapIncr, Max: heapMax, Large: heapLarge},
		Direct:       TierConfig{Init: directInit, Incr: directIncr, Max: directMax, Large: directLarge},
		GlobalHeap:   TierConfig{Init: 1 << 20, Incr: 1 << 20, Max: 64 << 20},
		GlobalDirect: TierConfig{Init: 4 << 20, Incr: 4 << 20, Max: 256 << 20},
		ShellSlots:   defaultShells,
		MaxStall:     Duration(defaultStall),
		OOMPolicy:    OOMFallback,
		Workers:      2,
		Namespace:    "hioload",
		Log:          logutil.DefaultLogConfig(),
	}
}

// Local returns the configuration of the per-P pools.
func (c Config) Local() PoolConfig {
	return PoolConfig{Heap: c.Heap, Direct: c.Direct, ShellSlots: c.ShellSlots, MaxStall: c.MaxStall}
}

func (c Config) global(direct bool) PoolConfig {
	pc := PoolConfig{ShellSlots: c.ShellSlots, MaxStall: c.MaxStall}
	if direct {
		pc.Direct = c.GlobalDirect
	} else {
		pc.Heap = c.GlobalHeap
	}
	return pc
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Local().validate(); err != nil {
		return err
	}
	if err := c.GlobalHeap.validate("global_heap"); err != nil {
		return err
	}
	if err := c.GlobalDirect.validate("global_direct"); err != nil {
		return err
	}
	if c.UnpooledBudget < 0 {
		return fmt.Errorf("pool: unpooled_budget %d: %w", c.UnpooledBudget, api.ErrInvalidArgument)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("pool: log: %w", err)
	}
	return nil
}

// LoadConfig decodes a TOML file over DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cs := NewConfigStore()
	if err := cs.LoadFile(path); err != nil {
		return Config{}, err
	}
	return cs.GetSnapshot(), nil
}

// NewConfigStore returns a reloadable store seeded with DefaultConfig.
func NewConfigStore() *control.ConfigStore[Config] {
	return control.NewConfigStore(DefaultConfig(), (*Config).Validate)
}

// OOMPolicy selects what Allocate does once every tier is exhausted.
type OOMPolicy int

const (
	// OOMFallback serves the request from dedicated, unpooled memory.
	OOMFallback OOMPolicy = iota
	// OOMError fails with api.ErrOutOfMemory.
	OOMError
	// OOMNil returns a nil buffer and no error.
	OOMNil
)

func (o OOMPolicy) String() string {
	switch o {
	case OOMError:
		return "error"
	case OOMNil:
		return "nil"
	default:
		return "fallback"
	}
}

func (o OOMPolicy) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *OOMPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "fallback", "unpooled", "":
		*o = OOMFallback
	case "error", "throw":
		*o = OOMError
	case "nil", "null":
		*o = OOMNil
	default:
		return fmt.Errorf("pool: oom_policy %q: %w", text, api.ErrInvalidArgument)
	}
	return nil
}

// Duration is a time.Duration written as "60s" in TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("pool: duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
