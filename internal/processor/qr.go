package processor

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
)

type QRProcessor struct {
	verifier QRVerifier
}

func NewQRProcessor(verifier QRVerifier) *QRProcessor {
	return &QRProcessor{verifier: verifier}
}

func (p *QRProcessor) Process(ctx context.Context, req *dto.CheckInRequest, event *model.EventContext, now time.Time) (*model.AttendanceRecord, error) {
	if !event.Settings.RequireQRCode && !event.AcceptsMethod(model.MethodQRCode) {
		return nil, apperr.Method(apperr.CodeInvalidQRCode, "event does not accept QR check-in")
	}
	if req.QRToken == "" {
		return nil, apperr.Method(apperr.CodeInvalidQRCode, "qr token is required")
	}

	verdict, err := p.verifier.ValidateQRCode(ctx, req.QRToken, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("qr verifier: %w", err)
	}
	if !verdict.IsValid {
		return nil, apperr.Method(apperr.CodeInvalidQRCode,
			fmt.Sprintf("qr token rejected: %s", verdict.Reason))
	}

	// Only the verification timestamp is recorded. The validation block
	// stays empty: it belongs to human validators, and filling it here
	// would freeze the record against retries and the review workflow.
	rec := newDraft(req, event, now)
	rec.QRToken = req.QRToken
	rec.QRCheckedAt = &now
	return rec, nil
}
