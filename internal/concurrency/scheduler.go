// File: internal/concurrency/scheduler.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Delayed-task scheduler: a timer heap drained by one goroutine, with fired
// callbacks executed on an ants worker pool.

package concurrency

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/internal/logutil"
)

const (
	taskPending int32 = iota
	taskFired
	taskCanceled
)

type task struct {
	when  int64
	fn    func()
	index int
	state atomic.Int32
	done  chan struct{}
	owner *Scheduler
}

var _ api.Cancelable = (*task)(nil)

func (t *task) Cancel() error         { return t.owner.Cancel(t) }
func (t *task) Done() <-chan struct{} { return t.done }

func (t *task) Err() error {
	if t.state.Load() == taskCanceled {
		return api.ErrCanceled
	}
	return nil
}

type taskHeap []*task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].when < h[j].when }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs callbacks after a delay.
type Scheduler struct {
	mu      sync.Mutex
	timerQ  taskHeap
	closed  bool
	notify  chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	workers *ants.Pool
	epoch   time.Time
}

var _ api.Scheduler = (*Scheduler)(nil)

// NewScheduler starts a scheduler whose callbacks run on up to workers
// goroutines.
func NewScheduler(workers int) (*Scheduler, error) {
	if workers <= 0 {
		workers = 1
	}
	wp, err := ants.NewPool(workers, ants.WithPanicHandler(func(v interface{}) {
		logutil.Error("scheduled task panicked", zap.Any("panic", v), zap.Stack("stack"))
	}))
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		workers: wp,
		epoch:   time.Now(),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Now returns nanoseconds since the scheduler started, on the monotonic clock.
func (s *Scheduler) Now() int64 { return int64(time.Since(s.epoch)) }

// Schedule queues fn to run once after delayNanos.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.ErrInvalidArgument
	}
	t := &task{when: s.Now() + max(delayNanos, 0), fn: fn, done: make(chan struct{}), owner: s}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, api.ErrSchedulerClosed
	}
	heap.Push(&s.timerQ, t)
	first := t.index == 0
	s.mu.Unlock()
	if first {
		s.wake()
	}
	return t, nil
}

// Cancel aborts a pending callback. Tasks that already fired report
// api.ErrNotFound.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	t, ok := c.(*task)
	if !ok || t.owner != s {
		return api.ErrInvalidArgument
	}
	if !t.state.CompareAndSwap(taskPending, taskCanceled) {
		return api.ErrNotFound
	}
	s.mu.Lock()
	if t.index >= 0 {
		heap.Remove(&s.timerQ, t.index)
	}
	s.mu.Unlock()
	close(t.done)
	return nil
}

// Pending returns the number of queued callbacks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timerQ)
}

// Close cancels every pending callback and stops the workers.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.timerQ
	s.timerQ = nil
	for _, t := range pending {
		t.index = -1
	}
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	for _, t := range pending {
		if t.state.CompareAndSwap(taskPending, taskCanceled) {
			close(t.done)
		}
	}
	s.workers.Release()
	return nil
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		due, wait := s.collect()
		for _, t := range due {
			s.fire(t)
		}
		if wait < 0 {
			select {
			case <-s.notify:
			case <-s.stop:
				return
			}
			continue
		}
		timer := time.NewTimer(time.Duration(wait))
		select {
		case <-timer.C:
		case <-s.notify:
		case <-s.stop:
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

// collect pops every due task and returns the delay until the next one, or
// -1 when the queue is empty.
func (s *Scheduler) collect() ([]*task, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var due []*task
	for len(s.timerQ) > 0 && s.timerQ[0].when <= now {
		due = append(due, heap.Pop(&s.timerQ).(*task))
	}
	if len(s.timerQ) == 0 {
		return due, -1
	}
	return due, s.timerQ[0].when - now
}

func (s *Scheduler) fire(t *task) {
	if !t.state.CompareAndSwap(taskPending, taskFired) {
		return
	}
	job := func() {
		defer close(t.done)
		t.fn()
	}
	if err := s.workers.Submit(job); err != nil {
		go job()
	}
}
