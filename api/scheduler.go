// Package api
// Author: momentics
//
// Scheduler contract for delayed background jobs such as idle reclaim.

package api

// Scheduler abstracts timer scheduling for background maintenance.
type Scheduler interface {
	// Schedule schedules a callback to be executed after delayNanos.
	Schedule(delayNanos int64, fn func()) (Cancelable, error)

	// Cancel cancels a previously scheduled callback.
	Cancel(c Cancelable) error

	// Now returns monotonic time in nanoseconds.
	Now() int64
}
