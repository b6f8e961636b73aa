package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
	"rollcall/internal/processor"
	"rollcall/internal/repo"
	"rollcall/internal/scheduler"
)

// Check-in window defaults applied when the event config leaves them unset.
const (
	DefaultWindowBeforeMinutes = 60
	DefaultWindowAfterMinutes  = 30
)

// postEventResyncDelay is how long after the scheduled end the aggregate
// gets one final recompute (catches late checkouts).
const postEventResyncDelay = 20 * time.Minute

// Publisher is the queue side the service writes to.
type Publisher interface {
	Publish(ctx context.Context, message []byte) error
}

type Attendance struct {
	repo       repo.Repository
	processors map[model.Method]processor.Processor
	auth       processor.Authorizer
	publisher  Publisher
	sched      *scheduler.Scheduler
	log        *zerolog.Logger
	now        func() time.Time
}

func NewAttendance(
	r repo.Repository,
	processors map[model.Method]processor.Processor,
	auth processor.Authorizer,
	publisher Publisher,
	sched *scheduler.Scheduler,
	log *zerolog.Logger,
) *Attendance {
	return &Attendance{
		repo:       r,
		processors: processors,
		auth:       auth,
		publisher:  publisher,
		sched:      sched,
		log:        log,
		now:        time.Now,
	}
}

var statusMessages = map[model.Status]string{
	model.StatusPresent:   "Checked in, see you inside",
	model.StatusLate:      "Checked in late",
	model.StatusLeftEarly: "Checked in, marked as leaving early",
	model.StatusExcused:   "Checked in within the grace period, pending review",
	model.StatusAbsent:    "Marked absent",
	model.StatusPartial:   "Partial attendance recorded",
}

// CheckIn runs the full check-in pipeline: eligibility, idempotency,
// method dispatch, persistence and the stats recompute trigger. Any
// failure is also written to the audit trail as a best-effort side
// channel before it propagates.
func (s *Attendance) CheckIn(ctx context.Context, req *dto.CheckInRequest) (*dto.CheckInResponse, error) {
	resp, err := s.checkIn(ctx, req)
	if err != nil {
		if !apperr.IsTyped(err) {
			s.log.Error().Err(err).
				Int64("event_id", req.EventID).
				Int64("user_id", req.UserID).
				Msg("check-in failed unexpectedly")
			err = apperr.Internal(err)
		}
		s.auditFailure(req, err)
		return nil, err
	}
	return resp, nil
}

func (s *Attendance) checkIn(ctx context.Context, req *dto.CheckInRequest) (*dto.CheckInResponse, error) {
	// 1. Structural validation.
	if req.UserID <= 0 {
		return nil, apperr.Validation("user_id is required")
	}
	if req.EventID <= 0 {
		return nil, apperr.Validation("event_id is required")
	}
	if !model.ValidMethod(req.Method) {
		return nil, apperr.Validation(fmt.Sprintf("method %q is not a known method", req.Method))
	}

	// 2. Resolve collaborators.
	exists, err := s.repo.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}

	event, err := s.repo.GetEventContext(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			return nil, apperr.NotFound(apperr.CodeEventNotFound, "event not found")
		}
		return nil, fmt.Errorf("resolve event: %w", err)
	}

	// 3. Eligibility.
	if !event.IsParticipant(req.UserID) {
		return nil, apperr.New(apperr.KindPermission, apperr.CodeNotRegistered,
			"user is not registered for this event")
	}
	switch event.Status {
	case model.EventCancelled:
		return nil, apperr.Conflict(apperr.CodeEventCancelled, "event is cancelled")
	case model.EventCompleted:
		return nil, apperr.Conflict(apperr.CodeEventEnded, "event has already ended")
	}

	// 4. Check-in window.
	now := s.now()
	if err := checkWindow(now, event); err != nil {
		return nil, err
	}

	// 5. Idempotency: an existing active record either blocks the check-in
	// or gets merged below.
	prior, err := s.repo.GetActiveAttendance(ctx, req.EventID, req.UserID)
	if err != nil && !errors.Is(err, repo.ErrAttendanceNotFound) {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if prior != nil && !prior.Updatable() {
		return nil, apperr.Conflict(apperr.CodeAlreadyMarked,
			"attendance is already recorded and can no longer be replaced")
	}

	// 6. Method allow-list.
	if !event.AcceptsMethod(req.Method) {
		return nil, apperr.Validation(fmt.Sprintf("method %q is not accepted for this event", req.Method))
	}

	// 7. Dispatch.
	proc, ok := s.processors[req.Method]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("no processor registered for method %q", req.Method))
	}
	draft, err := proc.Process(ctx, req, event, now)
	if err != nil {
		return nil, err
	}

	// 8+9. Create-or-merge, metrics, persist.
	rec := draft
	if prior != nil {
		rec = mergeIntoPrior(prior, draft)
	}
	rec.RecomputeMetrics(event.StartDateTime, event.EndDateTime)
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.AuditLog = append(rec.AuditLog, model.AuditEntry{
		Action:      model.AuditCheckIn,
		PerformedBy: actorOf(req),
		PerformedAt: now.UTC(),
		NewValue:    string(rec.Status),
	})

	if prior != nil {
		err = s.repo.UpdateAttendance(ctx, rec)
	} else {
		err = s.repo.InsertAttendance(ctx, rec)
		if errors.Is(err, repo.ErrDuplicateAttendance) {
			return nil, apperr.Conflict(apperr.CodeAlreadyMarked,
				"attendance was recorded concurrently")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("persist attendance: %w", err)
	}

	// 10. Trigger the aggregate recompute and the post-event resync.
	s.publishStatsRecompute(ctx, req.EventID, "check_in")
	s.schedulePostEventResync(event)

	s.log.Info().
		Int64("attendance_id", rec.ID).
		Int64("event_id", rec.EventID).
		Int64("user_id", rec.UserID).
		Str("method", string(rec.Method)).
		Str("status", string(rec.Status)).
		Msg("check-in recorded")

	return &dto.CheckInResponse{
		Success:            true,
		Attendance:         rec,
		Message:            statusMessages[rec.Status],
		RequiresValidation: rec.Method == model.MethodManual || rec.Status == model.StatusExcused,
	}, nil
}

func checkWindow(now time.Time, event *model.EventContext) error {
	before := event.Settings.CheckInWindow.BeforeMinutes
	after := event.Settings.CheckInWindow.AfterMinutes
	if before == 0 && after == 0 {
		before = DefaultWindowBeforeMinutes
		after = DefaultWindowAfterMinutes
	}

	opens := event.StartDateTime.Add(-time.Duration(before) * time.Minute)
	closes := event.StartDateTime.Add(time.Duration(after) * time.Minute)
	if now.Before(opens) {
		return apperr.WindowClosed(fmt.Sprintf("check-in opens at %s", opens.Format(time.RFC3339)))
	}
	if now.After(closes) {
		return apperr.WindowClosed(fmt.Sprintf("check-in closed at %s", closes.Format(time.RFC3339)))
	}
	return nil
}

// mergeIntoPrior carries the draft's fresh data onto the existing record
// so identity, creation time and audit history survive. A fresh check-in
// reopens the record: any earlier checkout and the metrics derived from it
// are discarded and recomputed from the new check-in time.
func mergeIntoPrior(prior, draft *model.AttendanceRecord) *model.AttendanceRecord {
	prior.Status = draft.Status
	prior.Method = draft.Method
	prior.MarkedBy = draft.MarkedBy
	prior.CheckInTime = draft.CheckInTime
	prior.CheckInLocation = draft.CheckInLocation
	prior.LocationAccuracy = draft.LocationAccuracy
	prior.QRToken = draft.QRToken
	prior.QRCheckedAt = draft.QRCheckedAt
	prior.Validation = draft.Validation
	prior.CheckOutTime = nil
	prior.CheckOutLocation = nil
	prior.Metrics = model.Metrics{}
	if draft.Notes != "" {
		prior.Notes = draft.Notes
	}
	return prior
}

func actorOf(req *dto.CheckInRequest) int64 {
	if req.MarkedBy != 0 {
		return req.MarkedBy
	}
	return req.UserID
}

func (s *Attendance) auditFailure(req *dto.CheckInRequest, cause error) {
	// Outside the main transaction and best-effort: a failure here is
	// logged, never propagated.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.repo.AppendFailureAudit(ctx, req.EventID, req.UserID, actorOf(req), cause.Error()); err != nil {
		s.log.Warn().Err(err).
			Int64("event_id", req.EventID).
			Int64("user_id", req.UserID).
			Msg("failed to append check_in_failed audit entry")
	}
}

func (s *Attendance) publishStatsRecompute(ctx context.Context, eventID int64, reason string) {
	if s.publisher == nil {
		return
	}
	msg := dto.StatsRecomputeMessage{
		EventID:       eventID,
		Reason:        reason,
		CorrelationID: uuid.NewString(),
		RequestedAt:   s.now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal stats recompute message")
		return
	}
	if err := s.publisher.Publish(ctx, payload); err != nil {
		s.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to publish stats recompute")
	}
}

func (s *Attendance) schedulePostEventResync(event *model.EventContext) {
	if s.sched == nil {
		return
	}
	eventID := event.ID
	s.sched.Schedule(eventID, event.EndDateTime.Add(postEventResyncDelay), func(ctx context.Context) {
		s.publishStatsRecompute(ctx, eventID, "post_event_resync")
	})
}

// CheckOut closes an attendance record and refreshes its metrics.
func (s *Attendance) CheckOut(ctx context.Context, req *dto.CheckOutRequest) (*model.AttendanceRecord, error) {
	rec, err := s.repo.GetAttendanceByID(ctx, req.AttendanceID)
	if err != nil {
		if errors.Is(err, repo.ErrAttendanceNotFound) {
			return nil, apperr.NotFound(apperr.CodeAttendanceNotFound, "attendance not found")
		}
		return nil, fmt.Errorf("load attendance: %w", err)
	}

	var at time.Time
	if req.Time != nil {
		at = *req.Time
	} else {
		at = s.now()
	}
	if err := rec.CheckOut(at, req.Location, req.UserID); err != nil {
		return nil, err
	}

	event, err := s.repo.GetEventContext(ctx, rec.EventID)
	if err == nil {
		rec.RecomputeMetrics(event.StartDateTime, event.EndDateTime)
	} else {
		s.log.Warn().Err(err).
			Int64("attendance_id", rec.ID).
			Int64("event_id", rec.EventID).
			Msg("event lookup failed, checkout metrics not recomputed")
	}

	if err := s.repo.UpdateAttendance(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist checkout: %w", err)
	}

	s.publishStatsRecompute(ctx, rec.EventID, "check_out")
	return rec, nil
}

// AddFeedback attaches participant feedback to an attendance record.
func (s *Attendance) AddFeedback(ctx context.Context, req *dto.FeedbackRequest) (*model.AttendanceRecord, error) {
	rec, err := s.repo.GetAttendanceByID(ctx, req.AttendanceID)
	if err != nil {
		if errors.Is(err, repo.ErrAttendanceNotFound) {
			return nil, apperr.NotFound(apperr.CodeAttendanceNotFound, "attendance not found")
		}
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	if rec.UserID != req.UserID {
		return nil, apperr.Permission("feedback can only be left on your own attendance")
	}

	if err := rec.AddFeedback(req.Rating, req.Comment, req.WouldRecommend); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAttendance(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist feedback: %w", err)
	}
	return rec, nil
}
