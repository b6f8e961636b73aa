package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
)

type stubQRVerifier struct {
	result QRResult
	err    error
}

func (s *stubQRVerifier) ValidateQRCode(context.Context, string, int64) (QRResult, error) {
	return s.result, s.err
}

type stubBiometric struct {
	ok  bool
	err error
}

func (s *stubBiometric) Verify(context.Context, string) (bool, error) {
	return s.ok, s.err
}

type stubAuthorizer struct {
	grants map[string]bool
	err    error
}

func (s *stubAuthorizer) HasPermission(_ context.Context, _ int64, capability string) (bool, error) {
	return s.grants[capability], s.err
}

func testEvent() *model.EventContext {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	return &model.EventContext{
		ID:            10,
		StartDateTime: start,
		EndDateTime:   start.Add(2 * time.Hour),
		Status:        model.EventInProgress,
		Participants:  map[int64]struct{}{20: {}},
		Organizers:    map[int64]struct{}{99: {}},
		Location:      &model.GeoPoint{Lat: 48.8584, Lon: 2.2945},
		Settings: model.AttendanceSettings{
			RequireQRCode:         true,
			RequireBiometric:      true,
			LateThresholdMinutes:  15,
			EarlyThresholdMinutes: 15,
			GeofenceRadiusMeters:  100,
		},
	}
}

func TestQRProcessorRecordsVerificationTimestamp(t *testing.T) {
	p := NewQRProcessor(&stubQRVerifier{result: QRResult{IsValid: true}})
	now := testEvent().StartDateTime.Add(-5 * time.Minute)

	rec, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodQRCode, QRToken: "tok",
	}, testEvent(), now)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPresent, rec.Status)
	assert.Equal(t, "tok", rec.QRToken)
	require.NotNil(t, rec.QRCheckedAt)
	assert.Equal(t, now, *rec.QRCheckedAt)

	// The validation block is reserved for human validators: a verified
	// token must leave the record updatable and still validatable.
	assert.False(t, rec.Validation.IsValidated)
	assert.Zero(t, rec.Validation.ValidatedBy)
	assert.True(t, rec.Updatable())
}

func TestQRProcessorRejectsMissingToken(t *testing.T) {
	p := NewQRProcessor(&stubQRVerifier{result: QRResult{IsValid: true}})

	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodQRCode,
	}, testEvent(), time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidQRCode, apperr.CodeOf(err))
}

func TestQRProcessorRejectsInvalidToken(t *testing.T) {
	p := NewQRProcessor(&stubQRVerifier{result: QRResult{Reason: "token expired"}})

	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodQRCode, QRToken: "tok",
	}, testEvent(), time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidQRCode, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "token expired")
}

func TestGeoProcessorInsideGeofence(t *testing.T) {
	p := NewGeoProcessor(0)
	event := testEvent()

	rec, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodGeolocation,
		Location:         &model.GeoPoint{Lat: 48.8585, Lon: 2.2946},
		LocationAccuracy: 10,
	}, event, event.StartDateTime)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.LocationAccuracy)
	require.NotNil(t, rec.CheckInLocation)
}

func TestGeoProcessorOutsideGeofence(t *testing.T) {
	p := NewGeoProcessor(0)
	event := testEvent()

	// The Louvre is roughly 3 km from the event's coordinates.
	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodGeolocation,
		Location:         &model.GeoPoint{Lat: 48.8606, Lon: 2.3376},
		LocationAccuracy: 10,
	}, event, event.StartDateTime)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeLocationTooFar, apperr.CodeOf(err))
}

func TestGeoProcessorRejectsLowAccuracy(t *testing.T) {
	p := NewGeoProcessor(50)
	event := testEvent()

	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodGeolocation,
		Location:         &model.GeoPoint{Lat: 48.8584, Lon: 2.2945},
		LocationAccuracy: 120,
	}, event, event.StartDateTime)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAccuracyLow, apperr.CodeOf(err))
}

func TestGeoProcessorRequiresLocation(t *testing.T) {
	p := NewGeoProcessor(0)

	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodGeolocation,
	}, testEvent(), time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestManualProcessorOrganizerMark(t *testing.T) {
	p := NewManualProcessor(&stubAuthorizer{})
	event := testEvent()

	rec, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodManual, MarkedBy: 99,
	}, event, event.StartDateTime)
	require.NoError(t, err)
	assert.Equal(t, int64(99), rec.MarkedBy)
	assert.False(t, rec.Validation.IsValidated)
}

func TestManualProcessorCapabilityMark(t *testing.T) {
	auth := &stubAuthorizer{grants: map[string]bool{CapabilityValidateAttendances: true}}
	p := NewManualProcessor(auth)
	event := testEvent()

	rec, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodManual, MarkedBy: 42,
	}, event, event.StartDateTime)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.MarkedBy)
}

func TestManualProcessorDeniesUnprivilegedMarker(t *testing.T) {
	p := NewManualProcessor(&stubAuthorizer{})
	event := testEvent()

	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodManual, MarkedBy: 42,
	}, event, event.StartDateTime)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
}

func TestManualProcessorSelfMarkDefaultsMarker(t *testing.T) {
	auth := &stubAuthorizer{grants: map[string]bool{CapabilityValidateAttendances: true}}
	p := NewManualProcessor(auth)
	event := testEvent()

	rec, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodManual,
	}, event, event.StartDateTime)
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec.MarkedBy)
}

func TestBiometricProcessorMatch(t *testing.T) {
	p := NewBiometricProcessor(&stubBiometric{ok: true})
	event := testEvent()

	rec, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodBiometric, BiometricAssertion: "payload.sig",
	}, event, event.StartDateTime.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, rec.Validation.IsValidated)
}

func TestBiometricProcessorRejectsMismatch(t *testing.T) {
	p := NewBiometricProcessor(&stubBiometric{ok: false})
	event := testEvent()

	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodBiometric, BiometricAssertion: "payload.sig",
	}, event, event.StartDateTime)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeMethodNotAccepted, apperr.CodeOf(err))
}

func TestBiometricProcessorRequiresEventOptIn(t *testing.T) {
	p := NewBiometricProcessor(&stubBiometric{ok: true})
	event := testEvent()
	event.Settings.RequireBiometric = false

	_, err := p.Process(context.Background(), &dto.CheckInRequest{
		EventID: 10, UserID: 20, Method: model.MethodBiometric, BiometricAssertion: "payload.sig",
	}, event, event.StartDateTime)
	require.Error(t, err)
}
