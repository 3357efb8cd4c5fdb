// Package control
// Author: momentics <momentics@gmail.com>
//
// Hot-reload, runtime metrics, configuration control, and debug introspection
// layer of hioload-bufpool.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed configuration snapshots loaded from TOML with reload listeners
//   - Prometheus collectors for pool occupancy and allocator events
//   - State export, debug hooks, and probe registration
package control
