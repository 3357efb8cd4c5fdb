package concurrency_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-bufpool/api"
	"github.com/momentics/hioload-bufpool/internal/concurrency"
)

func TestStripedMutexSameKeySameStripe(t *testing.T) {
	m := concurrency.NewStripedMutex(60)
	assert.Equal(t, 64, m.Len())
	assert.Same(t, m.For(7), m.For(7))

	one := concurrency.NewStripedMutex(0)
	assert.Equal(t, 1, one.Len())
	assert.Same(t, one.For(1), one.For(2))
}

func TestStripedMutexSerializesKey(t *testing.T) {
	m := concurrency.NewStripedMutex(16)
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mu := m.For(42)
				mu.Lock()
				counter++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)
}

func TestTimedMutexBoundedWait(t *testing.T) {
	m := concurrency.NewTimedMutex()
	require.True(t, m.TryLock())
	assert.False(t, m.TryLock())

	start := time.Now()
	assert.False(t, m.TryLockFor(10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		m.Unlock()
	}()
	assert.True(t, m.TryLockFor(time.Second))
	m.Unlock()
	assert.Panics(t, m.Unlock)
}

func TestShardIDInRange(t *testing.T) {
	id := concurrency.ShardID()
	assert.GreaterOrEqual(t, id, 0)
	assert.Less(t, id, concurrency.Shards())
}

func TestSchedulerRunsInOrder(t *testing.T) {
	s, err := concurrency.NewScheduler(2)
	require.NoError(t, err)
	defer s.Close()

	var mu sync.Mutex
	var order []int
	record := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}
	late, err := s.Schedule(int64(40*time.Millisecond), record(2))
	require.NoError(t, err)
	early, err := s.Schedule(int64(5*time.Millisecond), record(1))
	require.NoError(t, err)

	<-early.Done()
	<-late.Done()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
	assert.NoError(t, late.Err())
}

func TestSchedulerCancel(t *testing.T) {
	s, err := concurrency.NewScheduler(1)
	require.NoError(t, err)
	defer s.Close()

	var ran atomic.Bool
	c, err := s.Schedule(int64(time.Hour), func() { ran.Store(true) })
	require.NoError(t, err)
	require.Equal(t, 1, s.Pending())

	require.NoError(t, c.Cancel())
	assert.ErrorIs(t, c.Err(), api.ErrCanceled)
	assert.Zero(t, s.Pending())
	assert.ErrorIs(t, s.Cancel(c), api.ErrNotFound)
	select {
	case <-c.Done():
	default:
		t.Fatal("canceled task not done")
	}
	assert.False(t, ran.Load())
}

func TestSchedulerClose(t *testing.T) {
	s, err := concurrency.NewScheduler(1)
	require.NoError(t, err)
	c, err := s.Schedule(int64(time.Hour), func() {})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	<-c.Done()
	assert.ErrorIs(t, c.Err(), api.ErrCanceled)
	_, err = s.Schedule(0, func() {})
	assert.ErrorIs(t, err, api.ErrSchedulerClosed)
	assert.NoError(t, s.Close())
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	s, err := concurrency.NewScheduler(1)
	require.NoError(t, err)
	defer s.Close()

	bad, err := s.Schedule(0, func() { panic("boom") })
	require.NoError(t, err)
	<-bad.Done()

	good, err := s.Schedule(0, func() {})
	require.NoError(t, err)
	select {
	case <-good.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler stalled after panic")
	}
}
