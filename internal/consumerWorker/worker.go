package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/rabbit"
	"rollcall/internal/service"
)

// Reader consumes stats-recompute commands and rebuilds event aggregates
// off the write path.
type Reader struct {
	RMQ    *rabbit.Client
	stats  *service.Stats
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, stats *service.Stats) *Reader {
	return &Reader{
		RMQ:   rmq,
		stats: stats,
		done:  make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("stats recompute worker started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.StatsRecomputeMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("Failed to unmarshal message: %s", string(body))
				// Poison messages are dropped, not requeued.
				return nil
			}

			zlog.Logger.Info().
				Int64("event_id", msg.EventID).
				Str("reason", msg.Reason).
				Str("correlation_id", msg.CorrelationID).
				Msg("received stats recompute command")

			stats, err := r.stats.RecomputeEventStats(cctx, msg.EventID)
			if err != nil {
				zlog.Logger.Error().
					Err(err).
					Int64("event_id", msg.EventID).
					Msg("failed to recompute event stats")
				// A vanished event will never recompute; requeueing it
				// would loop forever.
				if apperr.KindOf(err) == apperr.KindNotFound {
					return nil
				}
				return err
			}

			zlog.Logger.Info().
				Int64("event_id", msg.EventID).
				Float64("attendance_rate", stats.AttendanceRate).
				Float64("punctuality_rate", stats.PunctualityRate).
				Msg("event stats recomputed")
			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("stats recompute worker stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
