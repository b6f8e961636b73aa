package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
	"rollcall/internal/repo"
)

// Stats recomputes per-event aggregates and serves on-demand rollups.
// Aggregates are written back with a compare-and-swap on the event's
// stats version, so concurrent recomputes never silently overwrite each
// other.
type Stats struct {
	repo repo.Repository
	log  *zerolog.Logger
	now  func() time.Time
}

func NewStats(r repo.Repository, log *zerolog.Logger) *Stats {
	return &Stats{repo: r, log: log, now: time.Now}
}

// casAttempts bounds how often a recompute retries a lost version race.
const casAttempts = 3

// RecomputeEventStats rebuilds the event's aggregate from its attendance
// records and writes it back. Retries on version conflicts with a fresh
// read each time.
func (s *Stats) RecomputeEventStats(ctx context.Context, eventID int64) (*model.EventStats, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		event, err := s.repo.GetEventContext(ctx, eventID)
		if err != nil {
			if errors.Is(err, repo.ErrEventNotFound) {
				return nil, apperr.NotFound(apperr.CodeEventNotFound, "event not found")
			}
			return nil, fmt.Errorf("resolve event: %w", err)
		}

		recs, err := s.repo.ListAttendances(ctx, repo.AttendanceFilter{EventID: eventID})
		if err != nil {
			return nil, fmt.Errorf("list attendances: %w", err)
		}

		stats := aggregate(recs, len(event.Participants), s.now().UTC())
		err = s.repo.UpdateEventStatsCAS(ctx, eventID, stats, event.StatsVersion)
		if err == nil {
			return &stats, nil
		}
		if !errors.Is(err, repo.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.log.Debug().Int64("event_id", eventID).Int("attempt", attempt+1).
			Msg("stats version conflict, retrying")
	}
	return nil, fmt.Errorf("recompute stats for event %d: %w", eventID, lastErr)
}

func aggregate(recs []model.AttendanceRecord, invited int, at time.Time) model.EventStats {
	stats := model.EventStats{Invited: invited, ComputedAt: at}
	for _, rec := range recs {
		switch rec.Status {
		case model.StatusPresent:
			stats.Present++
		case model.StatusLate:
			stats.Late++
		case model.StatusLeftEarly:
			stats.LeftEarly++
		case model.StatusExcused:
			stats.Excused++
		case model.StatusAbsent:
			stats.Absent++
		case model.StatusPartial:
			stats.Partial++
		}
	}

	if stats.Invited > 0 {
		stats.AttendanceRate = float64(stats.Present+stats.Late) / float64(stats.Invited) * 100
	}
	if stats.Present+stats.Late > 0 {
		stats.PunctualityRate = float64(stats.Present) / float64(stats.Present+stats.Late) * 100
	}
	return stats
}

// EventStats returns the last aggregate written onto the event. Reads the
// stored block as-is; use RecomputeEventStats to refresh it.
func (s *Stats) EventStats(ctx context.Context, eventID int64) (*model.EventStats, error) {
	stats, err := s.repo.GetEventStats(ctx, eventID)
	if err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			return nil, apperr.NotFound(apperr.CodeEventNotFound, "event not found")
		}
		return nil, fmt.Errorf("load event stats: %w", err)
	}
	return stats, nil
}

// EventReport builds the on-demand rollup for one event: aggregate,
// method breakdown, validation coverage and a daily check-in trend over
// the requested range. Nothing here is cached.
func (s *Stats) EventReport(ctx context.Context, eventID int64, from, to time.Time) (*dto.EventReport, error) {
	event, err := s.repo.GetEventContext(ctx, eventID)
	if err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			return nil, apperr.NotFound(apperr.CodeEventNotFound, "event not found")
		}
		return nil, fmt.Errorf("resolve event: %w", err)
	}

	recs, err := s.repo.ListAttendances(ctx, repo.AttendanceFilter{
		EventID:     eventID,
		CreatedFrom: from,
		CreatedTo:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("list attendances: %w", err)
	}

	report := &dto.EventReport{
		EventID:  eventID,
		Stats:    aggregate(recs, len(event.Participants), s.now().UTC()),
		ByMethod: make(map[model.Method]int),
	}

	var lateSum, lateCount int
	buckets := make(map[string]int)
	for _, rec := range recs {
		report.ByMethod[rec.Method]++
		if rec.Validation.ValidatedBy != 0 {
			report.Validated++
		} else {
			report.PendingValidation++
		}
		if rec.Metrics.LateMinutes > 0 {
			lateSum += rec.Metrics.LateMinutes
			lateCount++
		}
		buckets[rec.CreatedAt.Format("2006-01-02")]++
	}
	if lateCount > 0 {
		report.AverageLateMinutes = float64(lateSum) / float64(lateCount)
	}

	days := make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		report.Trend = append(report.Trend, dto.TrendBucket{Date: day, CheckIns: buckets[day]})
	}

	return report, nil
}
