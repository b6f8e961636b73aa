package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	log := zerolog.Nop()
	return New(&log)
}

func TestScheduleRunsTask(t *testing.T) {
	s := newTestScheduler()
	defer s.Shutdown()

	done := make(chan struct{})
	s.Schedule(1, time.Now().Add(10*time.Millisecond), func(context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestCancelStopsPendingTask(t *testing.T) {
	s := newTestScheduler()
	defer s.Shutdown()

	var ran atomic.Bool
	s.Schedule(1, time.Now().Add(50*time.Millisecond), func(context.Context) {
		ran.Store(true)
	})
	s.Cancel(1)

	time.Sleep(150 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScheduleReplacesPendingTask(t *testing.T) {
	s := newTestScheduler()
	defer s.Shutdown()

	var firstRan atomic.Bool
	done := make(chan struct{})

	s.Schedule(1, time.Now().Add(50*time.Millisecond), func(context.Context) {
		firstRan.Store(true)
	})
	s.Schedule(1, time.Now().Add(20*time.Millisecond), func(context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement task never ran")
	}
	time.Sleep(100 * time.Millisecond)
	assert.False(t, firstRan.Load(), "replaced task must not run")
}

func TestTasksOnDifferentEventsAreIndependent(t *testing.T) {
	s := newTestScheduler()
	defer s.Shutdown()

	var ran atomic.Int32
	s.Schedule(1, time.Now().Add(10*time.Millisecond), func(context.Context) { ran.Add(1) })
	s.Schedule(2, time.Now().Add(time.Hour), func(context.Context) { ran.Add(1) })
	s.Schedule(3, time.Now().Add(10*time.Millisecond), func(context.Context) { ran.Add(1) })
	s.Cancel(2)

	require.Eventually(t, func() bool { return ran.Load() == 2 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), ran.Load())
}

func TestShutdownCancelsEverything(t *testing.T) {
	s := newTestScheduler()

	var ran atomic.Bool
	s.Schedule(1, time.Now().Add(time.Hour), func(context.Context) {
		ran.Store(true)
	})
	s.Shutdown()
	assert.False(t, ran.Load())

	// Scheduling after shutdown is a no-op.
	s.Schedule(2, time.Now(), func(context.Context) {
		ran.Store(true)
	})
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}
