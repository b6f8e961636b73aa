package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
	"rollcall/internal/processor"
	"rollcall/internal/repo"
)

func checkInUsers(t *testing.T, svc *Attendance, userIDs ...int64) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(userIDs))
	for _, userID := range userIDs {
		resp, err := svc.CheckIn(context.Background(), &dto.CheckInRequest{
			EventID: 10, UserID: userID, Method: model.MethodQRCode,
		})
		require.NoError(t, err)
		ids = append(ids, resp.Attendance.ID)
	}
	return ids
}

func TestValidateAttendanceByOrganizer(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	pub := &fakePublisher{}
	svc := newTestService(f, pub)
	ids := checkInUsers(t, svc, 20)

	rec, err := svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[0], ValidatorID: 99, Approved: true, Notes: "seen at the door",
	})
	require.NoError(t, err)
	assert.True(t, rec.Validation.IsValidated)
	assert.Equal(t, int64(99), rec.Validation.ValidatedBy)
}

func TestValidateAttendanceByCapability(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	f.users[50] = true
	f.caps[50] = map[string]bool{processor.CapabilityValidateAttendances: true}
	svc := newTestService(f, &fakePublisher{})
	ids := checkInUsers(t, svc, 20)

	_, err := svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[0], ValidatorID: 50, Approved: true,
	})
	require.NoError(t, err)
}

func TestValidateAttendanceByTeamCapability(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	f.users[51] = true
	f.caps[51] = map[string]bool{CapabilityValidateTeamAttendances: true}
	svc := newTestService(f, &fakePublisher{})
	ids := checkInUsers(t, svc, 20)

	_, err := svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[0], ValidatorID: 51, Approved: true,
	})
	require.NoError(t, err)
}

func TestValidateAttendanceDeniesUnprivileged(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	svc := newTestService(f, &fakePublisher{})
	ids := checkInUsers(t, svc, 20)

	_, err := svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[0], ValidatorID: 21, Approved: true,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
}

func TestValidateAttendanceRejectionMarksAbsent(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	svc := newTestService(f, &fakePublisher{})
	ids := checkInUsers(t, svc, 20)

	rec, err := svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[0], ValidatorID: 99, Approved: false, Notes: "badge never scanned",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAbsent, rec.Status)
}

func TestValidateAttendanceOnlyOnce(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	svc := newTestService(f, &fakePublisher{})
	ids := checkInUsers(t, svc, 20)

	_, err := svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[0], ValidatorID: 99, Approved: true,
	})
	require.NoError(t, err)

	_, err = svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[0], ValidatorID: 99, Approved: true,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAlreadyValidated, apperr.CodeOf(err))
}

func TestBulkValidateCollectsFailures(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	svc := newTestService(f, &fakePublisher{})
	ids := checkInUsers(t, svc, 20, 21, 22)

	// One of the three is already validated and will fail again.
	_, err := svc.ValidateAttendance(context.Background(), &dto.ValidateAttendanceRequest{
		AttendanceID: ids[1], ValidatorID: 99, Approved: true,
	})
	require.NoError(t, err)

	result := svc.BulkValidate(context.Background(), &dto.BulkValidateRequest{
		AttendanceIDs: append(ids, 404),
		ValidatedBy:   99,
		Approved:      true,
	})

	assert.Len(t, result.Success, 2)
	assert.Len(t, result.Failed, 2)
	assert.ElementsMatch(t, []int64{ids[0], ids[2]}, result.Success)
}

func TestBulkValidateLargeSet(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	for userID := int64(100); userID < 150; userID++ {
		f.users[userID] = true
		f.events[10].Participants[userID] = struct{}{}
	}
	svc := newTestService(f, &fakePublisher{})

	var ids []int64
	for userID := int64(100); userID < 150; userID++ {
		ids = append(ids, checkInUsers(t, svc, userID)...)
	}

	result := svc.BulkValidate(context.Background(), &dto.BulkValidateRequest{
		AttendanceIDs: ids, ValidatedBy: 99, Approved: true,
	})
	assert.Len(t, result.Success, 50)
	assert.Empty(t, result.Failed)
}

func TestMarkAbsentees(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	pub := &fakePublisher{}
	svc := newTestService(f, pub)
	checkInUsers(t, svc, 20)

	created, err := svc.MarkAbsentees(context.Background(), &dto.MarkAbsenteesRequest{
		EventID: 10, MarkedBy: 99,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	recs, err := f.ListAttendances(context.Background(), repo.AttendanceFilter{EventID: 10})
	require.NoError(t, err)
	absent := 0
	for _, rec := range recs {
		if rec.Status == model.StatusAbsent {
			absent++
			assert.Equal(t, model.MethodManual, rec.Method)
			assert.Equal(t, int64(99), rec.MarkedBy)
		}
	}
	assert.Equal(t, 2, absent)
}

func TestMarkAbsenteesIdempotent(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	svc := newTestService(f, &fakePublisher{})

	created, err := svc.MarkAbsentees(context.Background(), &dto.MarkAbsenteesRequest{EventID: 10, MarkedBy: 99})
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	again, err := svc.MarkAbsentees(context.Background(), &dto.MarkAbsenteesRequest{EventID: 10, MarkedBy: 99})
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestMarkAbsenteesRequiresStartedEvent(t *testing.T) {
	f := newFakeRepo()
	seedEvent(f)
	f.events[10].Status = model.EventScheduled
	svc := newTestService(f, nil)

	_, err := svc.MarkAbsentees(context.Background(), &dto.MarkAbsenteesRequest{EventID: 10, MarkedBy: 99})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
