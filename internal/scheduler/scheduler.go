package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs one-shot tasks at a fixed time, keyed by event ID.
// Scheduling again for the same event replaces the pending task; Cancel
// stops it. This replaces ambient interval timers with explicit,
// cancellable bookings.
type Scheduler struct {
	log *zerolog.Logger

	mu      sync.Mutex
	pending map[int64]booking
	nextGen uint64
	wg      sync.WaitGroup
	closed  bool
}

type booking struct {
	cancel context.CancelFunc
	gen    uint64
}

func New(log *zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:     log,
		pending: make(map[int64]booking),
	}
}

// Schedule books task to run at the given time. The context handed to the
// task is cancelled by Cancel, by a replacing Schedule call, or by Shutdown.
func (s *Scheduler) Schedule(eventID int64, at time.Time, task func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if prev, ok := s.pending[eventID]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.nextGen++
	gen := s.nextGen
	s.pending[eventID] = booking{cancel: cancel, gen: gen}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(eventID, gen)

		timer := time.NewTimer(time.Until(at))
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.log.Debug().Int64("event_id", eventID).Msg("running scheduled task")
		task(ctx)
	}()
}

// Cancel drops the pending task for an event, if any.
func (s *Scheduler) Cancel(eventID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.pending[eventID]; ok {
		b.cancel()
		delete(s.pending, eventID)
	}
}

// Shutdown cancels everything pending and waits for running tasks.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for id, b := range s.pending {
		b.cancel()
		delete(s.pending, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// release clears the booking only if it still belongs to this run.
func (s *Scheduler) release(eventID int64, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.pending[eventID]; ok && b.gen == gen {
		delete(s.pending, eventID)
	}
}
