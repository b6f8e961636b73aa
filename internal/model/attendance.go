package model

import (
	"fmt"
	"time"

	"rollcall/internal/apperr"
)

// Fixed thresholds of the post-hoc recompute path. These are deliberately
// independent of the per-event late/early settings used at check-in time.
const (
	RecomputeLateThresholdMinutes       = 15
	RecomputeEarlyLeaveThresholdMinutes = 15
)

// Audit actions.
const (
	AuditCheckIn             = "check_in"
	AuditCheckInFailed       = "check_in_failed"
	AuditCheckOut            = "check_out"
	AuditValidated           = "validated"
	AuditMarkedLate          = "marked_late"
	AuditMarkedLeftEarly     = "marked_left_early"
	AuditMetricsRecalculated = "metrics_recalculated"
	AuditFeedbackAdded       = "feedback_added"
	AuditMarkedAbsent        = "marked_absent"
)

func (r *AttendanceRecord) appendAudit(action string, performedBy int64, oldValue, newValue string) {
	r.AuditLog = append(r.AuditLog, AuditEntry{
		Action:      action,
		PerformedBy: performedBy,
		PerformedAt: time.Now().UTC(),
		OldValue:    oldValue,
		NewValue:    newValue,
	})
	r.UpdatedAt = time.Now().UTC()
}

// Validate checks the record's own invariants and returns a validation
// error naming the first violated rule.
func (r *AttendanceRecord) Validate() error {
	switch {
	case r.EventID == 0:
		return apperr.Validation("event_id is required")
	case r.UserID == 0:
		return apperr.Validation("user_id is required")
	case !ValidStatus(r.Status):
		return apperr.Validation(fmt.Sprintf("status %q is not a known status", r.Status))
	case !ValidMethod(r.Method):
		return apperr.Validation(fmt.Sprintf("method %q is not a known method", r.Method))
	case r.CheckOutTime != nil && !r.CheckOutTime.After(r.CheckInTime):
		return apperr.Validation("check_out_time must be after check_in_time")
	case r.Metrics.DurationMinutes < 0:
		return apperr.Validation("duration must not be negative")
	case r.Metrics.LateMinutes < 0:
		return apperr.Validation("late_minutes must not be negative")
	case r.Metrics.EarlyLeaveMinutes < 0:
		return apperr.Validation("early_leave_minutes must not be negative")
	case r.Validation.IsValidated && r.Validation.ValidatedBy == 0:
		return apperr.Validation("validated records must name a validator")
	}
	return nil
}

// CheckOut closes the record. Legal only once and only from a status that
// implies the user actually arrived.
func (r *AttendanceRecord) CheckOut(at time.Time, location *GeoPoint, performedBy int64) error {
	if r.CheckOutTime != nil {
		return apperr.Conflict(apperr.CodeAlreadyCheckedOut, "attendance is already checked out")
	}
	switch r.Status {
	case StatusPresent, StatusLate, StatusLeftEarly, StatusPartial:
	default:
		return apperr.Conflict(apperr.CodeAlreadyCheckedOut,
			fmt.Sprintf("cannot check out from status %q", r.Status))
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if !at.After(r.CheckInTime) {
		return apperr.Validation("check_out_time must be after check_in_time")
	}

	r.CheckOutTime = &at
	r.CheckOutLocation = location
	r.Metrics.DurationMinutes = int(at.Sub(r.CheckInTime).Minutes())

	r.appendAudit(AuditCheckOut, performedBy, "", at.Format(time.RFC3339))
	return nil
}

// ApplyValidation commits the human-approval block. A record may be
// validated once; validated records are terminal for ordinary updates.
func (r *AttendanceRecord) ApplyValidation(validatorID int64, approved bool, notes string, score float64) error {
	if r.Validation.ValidatedBy != 0 {
		return apperr.Conflict(apperr.CodeAlreadyValidated, "attendance is already validated")
	}
	now := time.Now().UTC()
	old := string(r.Status)

	r.Validation = Validation{
		IsValidated: approved,
		ValidatedBy: validatorID,
		ValidatedAt: &now,
		Notes:       notes,
		Score:       score,
	}
	if !approved {
		r.Status = StatusAbsent
	}

	r.appendAudit(AuditValidated, validatorID, old, string(r.Status))
	return nil
}

// MarkLate is an explicit human override that bypasses the determiner.
func (r *AttendanceRecord) MarkLate(minutes int, performedBy int64) error {
	if minutes < 0 {
		return apperr.Validation("late minutes must not be negative")
	}
	old := string(r.Status)
	r.Status = StatusLate
	r.Metrics.LateMinutes = minutes
	r.appendAudit(AuditMarkedLate, performedBy, old, string(StatusLate))
	return nil
}

// MarkLeftEarly is an explicit human override that bypasses the determiner.
func (r *AttendanceRecord) MarkLeftEarly(minutes int, performedBy int64) error {
	if minutes < 0 {
		return apperr.Validation("early leave minutes must not be negative")
	}
	old := string(r.Status)
	r.Status = StatusLeftEarly
	r.Metrics.EarlyLeaveMinutes = minutes
	r.appendAudit(AuditMarkedLeftEarly, performedBy, old, string(StatusLeftEarly))
	return nil
}

// CalculateMetrics recomputes lateness, duration and early-leave values
// from the record's timestamps and escalates the status where the derived
// values demand it. Re-applying it to the same record is a no-op.
func (r *AttendanceRecord) CalculateMetrics(eventStart, eventEnd time.Time, performedBy int64) {
	old := string(r.Status)
	r.RecomputeMetrics(eventStart, eventEnd)
	r.appendAudit(AuditMetricsRecalculated, performedBy, old, string(r.Status))
}

// RecomputeMetrics is CalculateMetrics without the audit entry. The
// check-in pipeline uses it so a fresh check-in carries exactly one audit
// entry.
func (r *AttendanceRecord) RecomputeMetrics(eventStart, eventEnd time.Time) {
	late := int(r.CheckInTime.Sub(eventStart).Minutes())
	if late < 0 {
		late = 0
	}
	r.Metrics.LateMinutes = late
	if r.Status == StatusPresent && late > RecomputeLateThresholdMinutes {
		r.Status = StatusLate
	}

	if r.CheckOutTime != nil {
		duration := int(r.CheckOutTime.Sub(r.CheckInTime).Minutes())
		if duration < 0 {
			duration = 0
		}
		r.Metrics.DurationMinutes = duration

		earlyBy := int(eventEnd.Sub(*r.CheckOutTime).Minutes())
		if earlyBy > RecomputeEarlyLeaveThresholdMinutes {
			r.Status = StatusLeftEarly
			r.Metrics.EarlyLeaveMinutes = earlyBy
		}
	}
}

// AddFeedback attaches participant feedback. Rating is bounded 1..5.
func (r *AttendanceRecord) AddFeedback(rating int, comment string, wouldRecommend *bool) error {
	if rating < 1 || rating > 5 {
		return apperr.Validation("rating must be between 1 and 5")
	}
	r.Feedback = Feedback{
		Rating:         rating,
		Comment:        comment,
		WouldRecommend: wouldRecommend,
	}
	r.appendAudit(AuditFeedbackAdded, r.UserID, "", fmt.Sprintf("rating=%d", rating))
	return nil
}

// Updatable reports whether the record may still be replaced by a fresh
// check-in: human-validated records and privileged manual marks are final.
func (r *AttendanceRecord) Updatable() bool {
	if r.Validation.ValidatedBy != 0 {
		return false
	}
	if r.Method == MethodManual && r.MarkedBy != 0 && r.MarkedBy != r.UserID {
		return false
	}
	return true
}
