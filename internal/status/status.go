package status

import (
	"time"

	"rollcall/internal/model"
)

// Determine maps a check-in time onto a status given the event's timing
// configuration. Pure: no clock, no state.
//
// The branch order is kept exactly as the legacy rule set has it: arrivals
// inside the late threshold map to excused, and any later arrival maps to
// left_early whenever the early threshold is at least one minute. The
// post-hoc path (model.AttendanceRecord.CalculateMetrics) is the
// corrective one.
func Determine(checkInTime, eventStart time.Time, lateThresholdMinutes, earlyThresholdMinutes int) model.Status {
	delta := checkInTime.Sub(eventStart).Minutes()
	switch {
	case delta < 0:
		return model.StatusPresent
	case delta <= float64(lateThresholdMinutes):
		return model.StatusExcused
	case earlyThresholdMinutes >= 1:
		return model.StatusLeftEarly
	default:
		return model.StatusLate
	}
}
