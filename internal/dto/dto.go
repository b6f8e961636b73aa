package dto

import (
	"time"

	"rollcall/internal/model"
)

type CheckInRequest struct {
	EventID int64        `json:"event_id" validate:"required,positive64"`
	UserID  int64        `json:"user_id" validate:"required,positive64"`
	Method  model.Method `json:"method" validate:"required,attendance_method"`

	// Method-specific payloads.
	QRToken            string          `json:"qr_token,omitempty"`
	BiometricAssertion string          `json:"biometric_assertion,omitempty"`
	Location           *model.GeoPoint `json:"location,omitempty"`
	LocationAccuracy   float64         `json:"location_accuracy,omitempty" validate:"gte=0"`

	// MarkedBy is the acting user for manual marks; zero means self check-in.
	MarkedBy int64  `json:"marked_by,omitempty"`
	Notes    string `json:"notes,omitempty" validate:"max=1000"`
}

type CheckInResponse struct {
	Success            bool                    `json:"success"`
	Attendance         *model.AttendanceRecord `json:"attendance,omitempty"`
	Message            string                  `json:"message"`
	RequiresValidation bool                    `json:"requires_validation"`
}

type CheckOutRequest struct {
	AttendanceID int64           `json:"attendance_id"`
	UserID       int64           `json:"user_id" validate:"required,positive64"`
	Time         *time.Time      `json:"time,omitempty"`
	Location     *model.GeoPoint `json:"location,omitempty"`
}

type ValidateAttendanceRequest struct {
	AttendanceID int64   `json:"attendance_id"`
	ValidatorID  int64   `json:"validator_id" validate:"required,positive64"`
	Approved     bool    `json:"approved"`
	Notes        string  `json:"notes,omitempty" validate:"max=1000"`
	Score        float64 `json:"score,omitempty" validate:"gte=0,lte=100"`
}

type BulkValidateRequest struct {
	AttendanceIDs []int64 `json:"attendance_ids" validate:"required,min=1"`
	ValidatedBy   int64   `json:"validated_by" validate:"required,positive64"`
	Approved      bool    `json:"approved"`
	Notes         string  `json:"notes,omitempty" validate:"max=1000"`
}

type BulkFailure struct {
	AttendanceID int64  `json:"attendance_id"`
	Error        string `json:"error"`
}

type BulkValidateResult struct {
	Success []int64       `json:"success"`
	Failed  []BulkFailure `json:"failed"`
}

type MarkAbsenteesRequest struct {
	EventID  int64 `json:"event_id"`
	MarkedBy int64 `json:"marked_by" validate:"required,positive64"`
}

type MarkAbsenteesResponse struct {
	Created int `json:"created"`
}

type FeedbackRequest struct {
	AttendanceID   int64  `json:"attendance_id"`
	UserID         int64  `json:"user_id" validate:"required,positive64"`
	Rating         int    `json:"rating" validate:"required,rating"`
	Comment        string `json:"comment,omitempty" validate:"max=2000"`
	WouldRecommend *bool  `json:"would_recommend,omitempty"`
}

// StatsRecomputeMessage asks the queue worker to rebuild an event's
// aggregate attendance statistics.
type StatsRecomputeMessage struct {
	EventID       int64     `json:"event_id"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlation_id"`
	RequestedAt   time.Time `json:"requested_at"`
}

// TrendBucket is one day of the on-demand trend rollup.
type TrendBucket struct {
	Date     string `json:"date"`
	CheckIns int    `json:"check_ins"`
}

type EventReport struct {
	EventID            int64                `json:"event_id"`
	Stats              model.EventStats     `json:"stats"`
	ByMethod           map[model.Method]int `json:"by_method"`
	Validated          int                  `json:"validated"`
	PendingValidation  int                  `json:"pending_validation"`
	AverageLateMinutes float64              `json:"average_late_minutes"`
	Trend              []TrendBucket        `json:"trend,omitempty"`
}
