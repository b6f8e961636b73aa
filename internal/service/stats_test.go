package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
)

func newTestStats(f *fakeRepo) *Stats {
	log := zerolog.Nop()
	s := NewStats(f, &log)
	s.now = func() time.Time { return testStart.Add(3 * time.Hour) }
	return s
}

func seedAttendance(f *fakeRepo, userID int64, status model.Status, method model.Method, createdAt time.Time) {
	f.nextID++
	f.recs[f.nextID] = &model.AttendanceRecord{
		ID:          f.nextID,
		EventID:     10,
		UserID:      userID,
		Status:      status,
		Method:      method,
		CheckInTime: createdAt,
		CreatedAt:   createdAt,
	}
}

func TestRecomputeEventStatsRates(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	seedAttendance(f, 20, model.StatusPresent, model.MethodQRCode, testStart)
	seedAttendance(f, 21, model.StatusLate, model.MethodGeolocation, testStart)
	seedAttendance(f, 22, model.StatusAbsent, model.MethodManual, testStart)

	s := newTestStats(f)
	stats, err := s.RecomputeEventStats(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Invited)
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 1, stats.Late)
	assert.Equal(t, 1, stats.Absent)
	// (present + late) / invited, present / (present + late).
	assert.InDelta(t, 66.67, stats.AttendanceRate, 0.01)
	assert.InDelta(t, 50.0, stats.PunctualityRate, 0.01)

	stored, err := f.GetEventStats(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, *stats, *stored)
	assert.Equal(t, int64(1), f.events[10].StatsVersion)
}

func TestRecomputeEventStatsEmptyEvent(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)

	s := newTestStats(f)
	stats, err := s.RecomputeEventStats(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, stats.AttendanceRate)
	assert.Zero(t, stats.PunctualityRate)
	assert.Equal(t, 3, stats.Invited)
}

func TestRecomputeEventStatsRetriesVersionConflict(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	seedAttendance(f, 20, model.StatusPresent, model.MethodQRCode, testStart)
	f.casConflicts = 2

	s := newTestStats(f)
	stats, err := s.RecomputeEventStats(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Present)
}

func TestRecomputeEventStatsGivesUpAfterRetries(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	f.casConflicts = 10

	s := newTestStats(f)
	_, err := s.RecomputeEventStats(context.Background(), 10)
	require.Error(t, err)
}

func TestRecomputeEventStatsUnknownEvent(t *testing.T) {
	f := newFakeRepo()

	s := newTestStats(f)
	_, err := s.RecomputeEventStats(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeEventNotFound, apperr.CodeOf(err))
}

func TestEventStatsReadsStoredAggregate(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	f.stats[10] = model.EventStats{Invited: 3, Present: 2, AttendanceRate: 66.67}

	s := newTestStats(f)
	stats, err := s.EventStats(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Present)
}

func TestEventReport(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	day1 := testStart
	day2 := testStart.Add(24 * time.Hour)

	seedAttendance(f, 20, model.StatusPresent, model.MethodQRCode, day1)
	seedAttendance(f, 21, model.StatusLate, model.MethodQRCode, day1)
	seedAttendance(f, 22, model.StatusPresent, model.MethodGeolocation, day2)
	f.recs[2].Metrics.LateMinutes = 20
	f.recs[1].Validation.ValidatedBy = 99

	s := newTestStats(f)
	report, err := s.EventReport(context.Background(), 10, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.ByMethod[model.MethodQRCode])
	assert.Equal(t, 1, report.ByMethod[model.MethodGeolocation])
	assert.Equal(t, 1, report.Validated)
	assert.Equal(t, 2, report.PendingValidation)
	assert.InDelta(t, 20.0, report.AverageLateMinutes, 0.01)

	require.Len(t, report.Trend, 2)
	assert.Equal(t, day1.Format("2006-01-02"), report.Trend[0].Date)
	assert.Equal(t, 2, report.Trend[0].CheckIns)
	assert.Equal(t, day2.Format("2006-01-02"), report.Trend[1].Date)
	assert.Equal(t, 1, report.Trend[1].CheckIns)
}

func TestEventReportRangeFilter(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	seedAttendance(f, 20, model.StatusPresent, model.MethodQRCode, testStart)
	seedAttendance(f, 21, model.StatusPresent, model.MethodQRCode, testStart.Add(48*time.Hour))

	s := newTestStats(f)
	report, err := s.EventReport(context.Background(), 10, testStart.Add(-time.Hour), testStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.ByMethod[model.MethodQRCode])
	require.Len(t, report.Trend, 1)
}

// End-to-end through the queue payload: a check-in publishes a message the
// worker can decode and act on.
func TestStatsRecomputeMessageRoundTrip(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	pub := &fakePublisher{}
	svc := newTestService(f, pub)

	_, err := svc.CheckIn(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodQRCode,
	})
	require.NoError(t, err)
	require.Equal(t, 1, pub.count())

	var msg dto.StatsRecomputeMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, int64(10), msg.EventID)
	assert.Equal(t, "check_in", msg.Reason)
	assert.NotEmpty(t, msg.CorrelationID)

	s := newTestStats(f)
	stats, err := s.RecomputeEventStats(context.Background(), msg.EventID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Present+stats.Late+stats.Excused)
}
