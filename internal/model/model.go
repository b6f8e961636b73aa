package model

import "time"

type Status string

const (
	StatusPresent   Status = "present"
	StatusLate      Status = "late"
	StatusLeftEarly Status = "left_early"
	StatusExcused   Status = "excused"
	StatusAbsent    Status = "absent"
	StatusPartial   Status = "partial"
)

type Method string

const (
	MethodQRCode      Method = "qr_code"
	MethodGeolocation Method = "geolocation"
	MethodManual      Method = "manual"
	MethodBiometric   Method = "biometric"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusPresent, StatusLate, StatusLeftEarly, StatusExcused, StatusAbsent, StatusPartial:
		return true
	}
	return false
}

func ValidMethod(m Method) bool {
	switch m {
	case MethodQRCode, MethodGeolocation, MethodManual, MethodBiometric:
		return true
	}
	return false
}

type GeoPoint struct {
	Lat float64 `db:"lat" json:"lat" validate:"latitude"`
	Lon float64 `db:"lon" json:"lon" validate:"longitude"`
}

// Validation is the human-approval block of an attendance record.
type Validation struct {
	IsValidated bool       `db:"is_validated" json:"is_validated"`
	ValidatedBy int64      `db:"validated_by" json:"validated_by,omitempty"`
	ValidatedAt *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	Notes       string     `db:"validation_notes" json:"notes,omitempty"`
	Score       float64    `db:"validation_score" json:"score,omitempty"`
}

// Metrics holds the derived punctuality/engagement values.
type Metrics struct {
	LateMinutes        int     `db:"late_minutes" json:"late_minutes"`
	EarlyLeaveMinutes  int     `db:"early_leave_minutes" json:"early_leave_minutes"`
	DurationMinutes    int     `db:"duration_minutes" json:"duration_minutes"`
	ParticipationScore float64 `db:"participation_score" json:"participation_score"`
	EngagementLevel    string  `db:"engagement_level" json:"engagement_level,omitempty"`
}

type Feedback struct {
	Rating         int    `db:"feedback_rating" json:"rating,omitempty"`
	Comment        string `db:"feedback_comment" json:"comment,omitempty"`
	WouldRecommend *bool  `db:"feedback_recommend" json:"would_recommend,omitempty"`
}

// AuditEntry is one immutable state-change record. Entries with ID == 0
// have not been persisted yet.
type AuditEntry struct {
	ID          int64     `db:"id" json:"id,omitempty"`
	Action      string    `db:"action" json:"action"`
	PerformedBy int64     `db:"performed_by" json:"performed_by"`
	PerformedAt time.Time `db:"performed_at" json:"performed_at"`
	OldValue    string    `db:"old_value" json:"old_value,omitempty"`
	NewValue    string    `db:"new_value" json:"new_value,omitempty"`
}

type AttendanceRecord struct {
	ID      int64 `db:"id" json:"id"`
	EventID int64 `db:"event_id" json:"event_id"`
	UserID  int64 `db:"user_id" json:"user_id"`

	Status   Status `db:"status" json:"status"`
	Method   Method `db:"method" json:"method"`
	MarkedBy int64  `db:"marked_by" json:"marked_by,omitempty"`

	CheckInTime      time.Time  `db:"check_in_time" json:"check_in_time"`
	CheckOutTime     *time.Time `db:"check_out_time" json:"check_out_time,omitempty"`
	CheckInLocation  *GeoPoint  `db:"check_in_location" json:"check_in_location,omitempty"`
	CheckOutLocation *GeoPoint  `db:"check_out_location" json:"check_out_location,omitempty"`
	LocationAccuracy float64    `db:"location_accuracy" json:"location_accuracy,omitempty"`

	QRToken     string     `db:"qr_token" json:"-"`
	QRCheckedAt *time.Time `db:"qr_checked_at" json:"-"`

	Notes      string     `json:"notes,omitempty"`
	Validation Validation `json:"validation"`
	Metrics    Metrics    `json:"metrics"`
	Feedback   Feedback   `json:"feedback,omitempty"`

	// Superseded records no longer count toward the one-per-(event,user) rule.
	Superseded bool `db:"superseded" json:"-"`

	AuditLog []AuditEntry `json:"audit_log,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type EventStatus string

const (
	EventScheduled  EventStatus = "scheduled"
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
	EventCancelled  EventStatus = "cancelled"
)

type CheckInWindow struct {
	BeforeMinutes int `json:"before_minutes"`
	AfterMinutes  int `json:"after_minutes"`
}

type AttendanceSettings struct {
	RequireQRCode         bool          `json:"require_qr_code"`
	RequireGeolocation    bool          `json:"require_geolocation"`
	RequireBiometric      bool          `json:"require_biometric"`
	CheckInWindow         CheckInWindow `json:"check_in_window"`
	LateThresholdMinutes  int           `json:"late_threshold_minutes"`
	EarlyThresholdMinutes int           `json:"early_threshold_minutes"`
	GeofenceRadiusMeters  float64       `json:"geofence_radius_meters"`
	AcceptedMethods       []Method      `json:"accepted_methods,omitempty"`
}

// EventContext is the read-only projection of an event used for
// eligibility checks. Loaded from the event directory, never written back
// except for the stats block.
type EventContext struct {
	ID            int64              `json:"id"`
	StartDateTime time.Time          `json:"start_date_time"`
	EndDateTime   time.Time          `json:"end_date_time"`
	Status        EventStatus        `json:"status"`
	Participants  map[int64]struct{} `json:"-"`
	Organizers    map[int64]struct{} `json:"-"`
	Settings      AttendanceSettings `json:"settings"`
	Location      *GeoPoint          `json:"location,omitempty"`
	StatsVersion  int64              `json:"-"`
}

func (e *EventContext) IsParticipant(userID int64) bool {
	_, ok := e.Participants[userID]
	return ok
}

func (e *EventContext) IsOrganizer(userID int64) bool {
	_, ok := e.Organizers[userID]
	return ok
}

// AcceptsMethod reports whether the event restricts check-in methods and,
// if so, whether m is on the allow-list. An empty list accepts everything.
func (e *EventContext) AcceptsMethod(m Method) bool {
	if len(e.Settings.AcceptedMethods) == 0 {
		return true
	}
	for _, allowed := range e.Settings.AcceptedMethods {
		if allowed == m {
			return true
		}
	}
	return false
}

// EventStats is the aggregate written back onto the event.
type EventStats struct {
	Invited         int       `json:"invited"`
	Present         int       `json:"present"`
	Late            int       `json:"late"`
	LeftEarly       int       `json:"left_early"`
	Excused         int       `json:"excused"`
	Absent          int       `json:"absent"`
	Partial         int       `json:"partial"`
	AttendanceRate  float64   `json:"attendance_rate"`
	PunctualityRate float64   `json:"punctuality_rate"`
	ComputedAt      time.Time `json:"computed_at"`
}
