package processor

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
)

type BiometricProcessor struct {
	verifier BiometricVerifier
}

func NewBiometricProcessor(verifier BiometricVerifier) *BiometricProcessor {
	return &BiometricProcessor{verifier: verifier}
}

func (p *BiometricProcessor) Process(ctx context.Context, req *dto.CheckInRequest, event *model.EventContext, now time.Time) (*model.AttendanceRecord, error) {
	if !event.Settings.RequireBiometric {
		return nil, apperr.Method(apperr.CodeMethodNotAccepted, "event does not accept biometric check-in")
	}
	if req.BiometricAssertion == "" {
		return nil, apperr.Method(apperr.CodeMethodNotAccepted, "biometric assertion is required")
	}

	ok, err := p.verifier.Verify(ctx, req.BiometricAssertion)
	if err != nil {
		return nil, fmt.Errorf("biometric verifier: %w", err)
	}
	if !ok {
		return nil, apperr.Method(apperr.CodeMethodNotAccepted, "biometric assertion rejected")
	}

	rec := newDraft(req, event, now)
	return rec, nil
}
