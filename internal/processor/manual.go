package processor

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
)

type ManualProcessor struct {
	auth Authorizer
}

func NewManualProcessor(auth Authorizer) *ManualProcessor {
	return &ManualProcessor{auth: auth}
}

func (p *ManualProcessor) Process(ctx context.Context, req *dto.CheckInRequest, event *model.EventContext, now time.Time) (*model.AttendanceRecord, error) {
	marker := req.MarkedBy
	if marker == 0 {
		marker = req.UserID
	}

	if !event.IsOrganizer(marker) {
		allowed, err := p.auth.HasPermission(ctx, marker, CapabilityValidateAttendances)
		if err != nil {
			return nil, fmt.Errorf("authorization check: %w", err)
		}
		if !allowed {
			return nil, apperr.Permission("manual marking requires organizer rights or the validate attendances capability")
		}
	}

	rec := newDraft(req, event, now)
	rec.MarkedBy = marker

	// Manual marks always go through downstream human approval.
	rec.Validation = model.Validation{IsValidated: false}
	return rec, nil
}
