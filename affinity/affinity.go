// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.
//
// Pinning a goroutine keeps it on one P most of the time, so repeated calls to
// pool.Manager.Local from a pinned worker keep landing on the same local pool.

package affinity

import (
	"fmt"
	"runtime"
)

// SetAffinity pins the current OS thread to a given logical CPU on supported platforms.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("affinity: negative cpu %d", cpuID)
	}
	return setAffinityPlatform(cpuID)
}

// Pin locks the calling goroutine to its OS thread and binds that thread to
// the slot-th CPU the process may run on, wrapping around. The returned func
// undoes the thread lock; the thread's CPU mask is left as is.
func Pin(slot int) (func(), error) {
	cpu := slot % runtime.NumCPU()
	if allowed, err := Current(); err == nil && len(allowed) > 0 {
		cpu = allowed[slot%len(allowed)]
	}
	runtime.LockOSThread()
	if err := SetAffinity(cpu); err != nil {
		runtime.UnlockOSThread()
		return func() {}, err
	}
	return runtime.UnlockOSThread, nil
}
