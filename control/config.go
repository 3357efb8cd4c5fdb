// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe typed configuration store with TOML loading and hot-reload
// propagation.

package control

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
)

// ConfigStore keeps an immutable snapshot of T and notifies listeners when it
// is replaced.
type ConfigStore[T any] struct {
	mu        sync.RWMutex
	config    T
	validate  func(*T) error
	listeners []func(T)
}

// NewConfigStore initializes a store with initial. validate may be nil.
func NewConfigStore[T any](initial T, validate func(*T) error) *ConfigStore[T] {
	return &ConfigStore[T]{config: initial, validate: validate}
}

// GetSnapshot returns the current configuration.
func (cs *ConfigStore[T]) GetSnapshot() T {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// SetConfig validates and installs cfg, then dispatches reload.
func (cs *ConfigStore[T]) SetConfig(cfg T) error {
	if cs.validate != nil {
		if err := cs.validate(&cfg); err != nil {
			return err
		}
	}
	cs.mu.Lock()
	cs.config = cfg
	listeners := append([]func(T){}, cs.listeners...)
	cs.mu.Unlock()
	dispatchReload(listeners, cfg)
	return nil
}

// LoadFile decodes a TOML file over the current snapshot and installs the
// result. Keys absent from the file keep their current values.
func (cs *ConfigStore[T]) LoadFile(path string) error {
	cfg := cs.GetSnapshot()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return fmt.Errorf("control: load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("control: load %s: unknown keys %v", path, undecoded)
	}
	return cs.SetConfig(cfg)
}

// Decode parses TOML text over the current snapshot and installs it.
func (cs *ConfigStore[T]) Decode(data string) error {
	cfg := cs.GetSnapshot()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return fmt.Errorf("control: decode: %w", err)
	}
	return cs.SetConfig(cfg)
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore[T]) OnReload(fn func(T)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners in order on the caller's goroutine.
func dispatchReload[T any](listeners []func(T), cfg T) {
	for _, fn := range listeners {
		fn(cfg)
	}
}
