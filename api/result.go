// Package api
// Author: momentics@gmail.com
//
// Cancellation contract for scheduled work.

package api

// Cancelable is any operation that may be canceled.
type Cancelable interface {
	// Cancel attempts to abort the operation.
	Cancel() error
	// Done signals completion/cancellation.
	Done() <-chan struct{}
	// Err returns cancellation reason.
	Err() error
}
