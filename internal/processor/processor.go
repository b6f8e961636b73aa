package processor

import (
	"context"
	"time"

	"rollcall/internal/dto"
	"rollcall/internal/model"
	"rollcall/internal/status"
)

// CapabilityValidateAttendances is the global grant checked for manual
// marks and the validation workflow.
const CapabilityValidateAttendances = "validate_attendances"

// QRResult is the external QR verifier's verdict.
type QRResult struct {
	IsValid bool
	Reason  string
}

// QRVerifier is the external QR token verifier.
type QRVerifier interface {
	ValidateQRCode(ctx context.Context, token string, userID int64) (QRResult, error)
}

// BiometricVerifier is the external biometric matcher. Matching itself is
// out of scope; the service only consumes the boolean verdict.
type BiometricVerifier interface {
	Verify(ctx context.Context, assertion string) (bool, error)
}

// Authorizer is the external authorization service.
type Authorizer interface {
	HasPermission(ctx context.Context, userID int64, capability string) (bool, error)
}

// Processor turns a check-in request into a draft attendance record. It
// never touches storage; persistence belongs to the orchestrator.
type Processor interface {
	Process(ctx context.Context, req *dto.CheckInRequest, event *model.EventContext, now time.Time) (*model.AttendanceRecord, error)
}

// newDraft builds the part of the record every method shares. Status comes
// from the determiner against the event's timing settings.
func newDraft(req *dto.CheckInRequest, event *model.EventContext, now time.Time) *model.AttendanceRecord {
	return &model.AttendanceRecord{
		EventID: req.EventID,
		UserID:  req.UserID,
		Method:  req.Method,
		Status: status.Determine(now, event.StartDateTime,
			event.Settings.LateThresholdMinutes, event.Settings.EarlyThresholdMinutes),
		CheckInTime: now,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
