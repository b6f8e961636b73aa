package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/model"
	"rollcall/internal/processor"
	"rollcall/internal/repo"
)

// CapabilityValidateTeamAttendances is the team-scoped validation grant.
const CapabilityValidateTeamAttendances = "validate_team_attendances"

// bulkBatchSize caps how many validations run concurrently; batches run
// one after another.
const bulkBatchSize = 20

// ValidateAttendance commits a human approval or rejection onto a record.
func (s *Attendance) ValidateAttendance(ctx context.Context, req *dto.ValidateAttendanceRequest) (*model.AttendanceRecord, error) {
	rec, err := s.repo.GetAttendanceByID(ctx, req.AttendanceID)
	if err != nil {
		if errors.Is(err, repo.ErrAttendanceNotFound) {
			return nil, apperr.NotFound(apperr.CodeAttendanceNotFound, "attendance not found")
		}
		return nil, fmt.Errorf("load attendance: %w", err)
	}

	if err := s.authorizeValidator(ctx, req.ValidatorID, rec.EventID); err != nil {
		return nil, err
	}

	if err := rec.ApplyValidation(req.ValidatorID, req.Approved, req.Notes, req.Score); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAttendance(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist validation: %w", err)
	}

	s.publishStatsRecompute(ctx, rec.EventID, "validation")

	s.log.Info().
		Int64("attendance_id", rec.ID).
		Int64("validator_id", req.ValidatorID).
		Bool("approved", req.Approved).
		Msg("attendance validated")
	return rec, nil
}

func (s *Attendance) authorizeValidator(ctx context.Context, validatorID, eventID int64) error {
	event, err := s.repo.GetEventContext(ctx, eventID)
	if err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			return apperr.NotFound(apperr.CodeEventNotFound, "event not found")
		}
		return fmt.Errorf("resolve event: %w", err)
	}
	if event.IsOrganizer(validatorID) {
		return nil
	}

	allowed, err := s.auth.HasPermission(ctx, validatorID, processor.CapabilityValidateAttendances)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if allowed {
		return nil
	}

	// TODO: restrict the team grant to the validator's own team once team
	// membership is modeled; today it behaves as an unconditional grant.
	teamAllowed, err := s.auth.HasPermission(ctx, validatorID, CapabilityValidateTeamAttendances)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if teamAllowed {
		return nil
	}

	return apperr.Permission("validating attendances requires organizer rights or a validation capability")
}

// BulkValidate validates many records: concurrent inside a fixed-size
// batch, batches sequential, per-item failures collected instead of
// aborting the run.
func (s *Attendance) BulkValidate(ctx context.Context, req *dto.BulkValidateRequest) *dto.BulkValidateResult {
	result := &dto.BulkValidateResult{
		Success: make([]int64, 0, len(req.AttendanceIDs)),
	}

	var mu sync.Mutex
	for start := 0; start < len(req.AttendanceIDs); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(req.AttendanceIDs) {
			end = len(req.AttendanceIDs)
		}

		var wg sync.WaitGroup
		for _, id := range req.AttendanceIDs[start:end] {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := s.ValidateAttendance(ctx, &dto.ValidateAttendanceRequest{
					AttendanceID: id,
					ValidatorID:  req.ValidatedBy,
					Approved:     req.Approved,
					Notes:        req.Notes,
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed = append(result.Failed, dto.BulkFailure{
						AttendanceID: id,
						Error:        err.Error(),
					})
					return
				}
				result.Success = append(result.Success, id)
			}(id)
		}
		wg.Wait()
	}

	s.log.Info().
		Int("requested", len(req.AttendanceIDs)).
		Int("succeeded", len(result.Success)).
		Int("failed", len(result.Failed)).
		Msg("bulk validation finished")
	return result
}

// MarkAbsentees creates one absent/manual record for every participant
// without an attendance record, in a single atomic batch. Returns how many
// records were created.
func (s *Attendance) MarkAbsentees(ctx context.Context, req *dto.MarkAbsenteesRequest) (int, error) {
	event, err := s.repo.GetEventContext(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			return 0, apperr.NotFound(apperr.CodeEventNotFound, "event not found")
		}
		return 0, fmt.Errorf("resolve event: %w", err)
	}
	if event.Status != model.EventInProgress && event.Status != model.EventCompleted {
		return 0, apperr.Validation("absentees can only be marked for in-progress or completed events")
	}

	attended, err := s.repo.AttendedUserIDs(ctx, req.EventID)
	if err != nil {
		return 0, fmt.Errorf("list attendees: %w", err)
	}

	now := s.now().UTC()
	var absentees []*model.AttendanceRecord
	for userID := range event.Participants {
		if _, ok := attended[userID]; ok {
			continue
		}
		rec := &model.AttendanceRecord{
			EventID:     req.EventID,
			UserID:      userID,
			Status:      model.StatusAbsent,
			Method:      model.MethodManual,
			MarkedBy:    req.MarkedBy,
			CheckInTime: now,
			CreatedAt:   now,
			UpdatedAt:   now,
			AuditLog: []model.AuditEntry{{
				Action:      model.AuditMarkedAbsent,
				PerformedBy: req.MarkedBy,
				PerformedAt: now,
				NewValue:    string(model.StatusAbsent),
			}},
		}
		absentees = append(absentees, rec)
	}

	if err := s.repo.BatchInsertAttendances(ctx, absentees); err != nil {
		return 0, fmt.Errorf("persist absentees: %w", err)
	}

	created := 0
	for _, rec := range absentees {
		if rec.ID != 0 {
			created++
		}
	}

	s.publishStatsRecompute(ctx, req.EventID, "absentee_sweep")

	s.log.Info().
		Int64("event_id", req.EventID).
		Int("created", created).
		Msg("absentee sweep finished")
	return created, nil
}
