// File: internal/leak/leak.go
// Package leak samples buffer allocations and reports those collected by the
// garbage collector while still leased.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Diagnostic only. The allocator does not depend on it for correctness.

package leak

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-bufpool/internal/logutil"
)

const (
	stackDepth   = 32
	DefaultLimit = 256
)

// Report describes one leaked allocation.
type Report struct {
	Info  string
	Stack string
	When  time.Time
}

// Sampler tracks one allocation out of every rate.
type Sampler struct {
	rate   uint64
	limit  int
	seq    atomic.Uint64
	leaked atomic.Int64
	onLeak func(Report)

	mu      sync.Mutex
	reports *queue.Queue
}

// New creates a sampler. rate <= 0 disables sampling; limit bounds the number
// of retained reports, oldest dropped first.
func New(rate, limit int, onLeak func(Report)) *Sampler {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Sampler{limit: limit, onLeak: onLeak, reports: queue.New()}
	if rate > 0 {
		s.rate = uint64(rate)
	}
	return s
}

// Enabled reports whether any allocation can be sampled.
func (s *Sampler) Enabled() bool { return s != nil && s.rate > 0 }

// Track arms a finalizer on obj for a sampled allocation. It reports whether
// obj was sampled; only sampled objects must be passed to Untrack.
func (s *Sampler) Track(obj any, info string) bool {
	if !s.Enabled() || s.seq.Add(1)%s.rate != 0 {
		return false
	}
	stack := capture(3)
	runtime.SetFinalizer(obj, func(any) {
		s.report(Report{Info: info, Stack: stack, When: time.Now()})
	})
	return true
}

// Untrack disarms the finalizer of a released object.
func (s *Sampler) Untrack(obj any) { runtime.SetFinalizer(obj, nil) }

// Leaked returns the number of leaks seen so far.
func (s *Sampler) Leaked() int64 { return s.leaked.Load() }

// Reports drains the retained reports, oldest first.
func (s *Sampler) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, 0, s.reports.Length())
	for s.reports.Length() > 0 {
		out = append(out, s.reports.Remove().(Report))
	}
	return out
}

func (s *Sampler) report(r Report) {
	s.leaked.Add(1)
	s.mu.Lock()
	if s.reports.Length() >= s.limit {
		s.reports.Remove()
	}
	s.reports.Add(r)
	s.mu.Unlock()

	logutil.Warn("pooled buffer leaked", zap.String("info", r.Info), zap.String("allocated_at", r.Stack))
	if s.onLeak != nil {
		s.onLeak(r)
	}
}

func capture(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return sb.String()
}
