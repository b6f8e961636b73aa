package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/model"
)

const attendanceColumns = `
	id, event_id, user_id, status, method, marked_by,
	check_in_time, check_out_time, check_in_lat, check_in_lon,
	check_out_lat, check_out_lon, location_accuracy,
	qr_token, qr_checked_at, notes,
	is_validated, validated_by, validated_at, validation_notes, validation_score,
	late_minutes, early_leave_minutes, duration_minutes, participation_score, engagement_level,
	feedback_rating, feedback_comment, feedback_recommend,
	superseded, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (*model.AttendanceRecord, error) {
	var (
		rec                          model.AttendanceRecord
		checkOutTime, validatedAt    sql.NullTime
		qrCheckedAt                  sql.NullTime
		inLat, inLon, outLat, outLon sql.NullFloat64
		recommend                    sql.NullBool
	)

	err := row.Scan(
		&rec.ID, &rec.EventID, &rec.UserID, &rec.Status, &rec.Method, &rec.MarkedBy,
		&rec.CheckInTime, &checkOutTime, &inLat, &inLon,
		&outLat, &outLon, &rec.LocationAccuracy,
		&rec.QRToken, &qrCheckedAt, &rec.Notes,
		&rec.Validation.IsValidated, &rec.Validation.ValidatedBy, &validatedAt,
		&rec.Validation.Notes, &rec.Validation.Score,
		&rec.Metrics.LateMinutes, &rec.Metrics.EarlyLeaveMinutes, &rec.Metrics.DurationMinutes,
		&rec.Metrics.ParticipationScore, &rec.Metrics.EngagementLevel,
		&rec.Feedback.Rating, &rec.Feedback.Comment, &recommend,
		&rec.Superseded, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if checkOutTime.Valid {
		rec.CheckOutTime = &checkOutTime.Time
	}
	if validatedAt.Valid {
		rec.Validation.ValidatedAt = &validatedAt.Time
	}
	if qrCheckedAt.Valid {
		rec.QRCheckedAt = &qrCheckedAt.Time
	}
	if inLat.Valid && inLon.Valid {
		rec.CheckInLocation = &model.GeoPoint{Lat: inLat.Float64, Lon: inLon.Float64}
	}
	if outLat.Valid && outLon.Valid {
		rec.CheckOutLocation = &model.GeoPoint{Lat: outLat.Float64, Lon: outLon.Float64}
	}
	if recommend.Valid {
		rec.Feedback.WouldRecommend = &recommend.Bool
	}
	return &rec, nil
}

func geoParts(p *model.GeoPoint) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lon, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func (r *repository) GetAttendanceByID(ctx context.Context, id int64) (*model.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendances WHERE id = $1`
	rec, err := scanAttendance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttendanceNotFound
		}
		return nil, fmt.Errorf("failed to load attendance %d: %w", id, err)
	}
	if err := r.loadAudit(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repository) GetActiveAttendance(ctx context.Context, eventID, userID int64) (*model.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + `
		FROM attendances WHERE event_id = $1 AND user_id = $2 AND NOT superseded`
	rec, err := scanAttendance(r.db.QueryRowContext(ctx, query, eventID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttendanceNotFound
		}
		return nil, fmt.Errorf("failed to load attendance for event %d user %d: %w", eventID, userID, err)
	}
	if err := r.loadAudit(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repository) loadAudit(ctx context.Context, rec *model.AttendanceRecord) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, performed_by, performed_at, old_value, new_value
		FROM attendance_audit
		WHERE attendance_id = $1
		ORDER BY id ASC
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load audit log of attendance %d: %w", rec.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.PerformedBy, &e.PerformedAt, &e.OldValue, &e.NewValue); err != nil {
			return fmt.Errorf("failed to scan audit entry: %w", err)
		}
		rec.AuditLog = append(rec.AuditLog, e)
	}
	return rows.Err()
}

// InsertAttendance writes a new record and its pending audit entries in
// one transaction. The partial unique index on (event_id, user_id) makes
// this an insert-if-absent: a concurrent duplicate surfaces as
// ErrDuplicateAttendance instead of a second row.
func (r *repository) InsertAttendance(ctx context.Context, rec *model.AttendanceRecord) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	id, err := insertAttendanceTx(ctx, tx, rec)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	rec.ID = id

	if err := insertAuditTx(ctx, tx, rec); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendance insert: %w", err)
	}
	return nil
}

func insertAttendanceTx(ctx context.Context, tx *sql.Tx, rec *model.AttendanceRecord) (int64, error) {
	inLat, inLon := geoParts(rec.CheckInLocation)
	outLat, outLon := geoParts(rec.CheckOutLocation)

	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO attendances (
			event_id, user_id, status, method, marked_by,
			check_in_time, check_out_time, check_in_lat, check_in_lon,
			check_out_lat, check_out_lon, location_accuracy,
			qr_token, qr_checked_at, notes,
			is_validated, validated_by, validated_at, validation_notes, validation_score,
			late_minutes, early_leave_minutes, duration_minutes, participation_score, engagement_level,
			feedback_rating, feedback_comment, feedback_recommend,
			superseded, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25,
			$26, $27, $28,
			$29, $30, $31
		)
		ON CONFLICT (event_id, user_id) WHERE NOT superseded DO NOTHING
		RETURNING id
	`,
		rec.EventID, rec.UserID, rec.Status, rec.Method, rec.MarkedBy,
		rec.CheckInTime, nullTime(rec.CheckOutTime), inLat, inLon,
		outLat, outLon, rec.LocationAccuracy,
		rec.QRToken, nullTime(rec.QRCheckedAt), rec.Notes,
		rec.Validation.IsValidated, rec.Validation.ValidatedBy, nullTime(rec.Validation.ValidatedAt),
		rec.Validation.Notes, rec.Validation.Score,
		rec.Metrics.LateMinutes, rec.Metrics.EarlyLeaveMinutes, rec.Metrics.DurationMinutes,
		rec.Metrics.ParticipationScore, rec.Metrics.EngagementLevel,
		rec.Feedback.Rating, rec.Feedback.Comment, nullBool(rec.Feedback.WouldRecommend),
		rec.Superseded, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrDuplicateAttendance
		}
		return 0, fmt.Errorf("failed to insert attendance: %w", err)
	}
	return id, nil
}

// insertAuditTx persists the record's unsaved audit entries (ID == 0).
func insertAuditTx(ctx context.Context, tx *sql.Tx, rec *model.AttendanceRecord) error {
	for i := range rec.AuditLog {
		e := &rec.AuditLog[i]
		if e.ID != 0 {
			continue
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO attendance_audit (attendance_id, event_id, user_id, action, performed_by, performed_at, old_value, new_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, rec.ID, rec.EventID, rec.UserID, e.Action, e.PerformedBy, e.PerformedAt, e.OldValue, e.NewValue).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}
	return nil
}

func (r *repository) UpdateAttendance(ctx context.Context, rec *model.AttendanceRecord) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	inLat, inLon := geoParts(rec.CheckInLocation)
	outLat, outLon := geoParts(rec.CheckOutLocation)

	res, err := tx.ExecContext(ctx, `
		UPDATE attendances SET
			status = $1, method = $2, marked_by = $3,
			check_in_time = $4, check_out_time = $5,
			check_in_lat = $6, check_in_lon = $7,
			check_out_lat = $8, check_out_lon = $9, location_accuracy = $10,
			qr_token = $11, qr_checked_at = $12, notes = $13,
			is_validated = $14, validated_by = $15, validated_at = $16,
			validation_notes = $17, validation_score = $18,
			late_minutes = $19, early_leave_minutes = $20, duration_minutes = $21,
			participation_score = $22, engagement_level = $23,
			feedback_rating = $24, feedback_comment = $25, feedback_recommend = $26,
			superseded = $27, updated_at = NOW()
		WHERE id = $28
	`,
		rec.Status, rec.Method, rec.MarkedBy,
		rec.CheckInTime, nullTime(rec.CheckOutTime),
		inLat, inLon,
		outLat, outLon, rec.LocationAccuracy,
		rec.QRToken, nullTime(rec.QRCheckedAt), rec.Notes,
		rec.Validation.IsValidated, rec.Validation.ValidatedBy, nullTime(rec.Validation.ValidatedAt),
		rec.Validation.Notes, rec.Validation.Score,
		rec.Metrics.LateMinutes, rec.Metrics.EarlyLeaveMinutes, rec.Metrics.DurationMinutes,
		rec.Metrics.ParticipationScore, rec.Metrics.EngagementLevel,
		rec.Feedback.Rating, rec.Feedback.Comment, nullBool(rec.Feedback.WouldRecommend),
		rec.Superseded, rec.ID,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to update attendance %d: %w", rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return ErrAttendanceNotFound
	}

	if err := insertAuditTx(ctx, tx, rec); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendance update: %w", err)
	}
	return nil
}

// BatchInsertAttendances writes the absentee sweep output atomically.
// Records whose (event, user) slot is already taken are skipped, and their
// IDs stay zero.
func (r *repository) BatchInsertAttendances(ctx context.Context, recs []*model.AttendanceRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	for _, rec := range recs {
		id, err := insertAttendanceTx(ctx, tx, rec)
		if errors.Is(err, ErrDuplicateAttendance) {
			continue
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		rec.ID = id
		if err := insertAuditTx(ctx, tx, rec); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch insert: %w", err)
	}
	return nil
}

func (r *repository) ListAttendances(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	conds = append(conds, "NOT superseded")
	if f.EventID != 0 {
		add("event_id = $%d", f.EventID)
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Method != "" {
		add("method = $%d", f.Method)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add("created_at < $%d", f.CreatedTo)
	}

	query := `SELECT ` + attendanceColumns + ` FROM attendances WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendances: %w", err)
	}
	defer rows.Close()

	var recs []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (r *repository) AttendedUserIDs(ctx context.Context, eventID int64) (map[int64]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM attendances WHERE event_id = $1 AND NOT superseded`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attended users of event %d: %w", eventID, err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan attended user: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (r *repository) DeleteAttendancesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendances WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired attendances: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

func (r *repository) AppendFailureAudit(ctx context.Context, eventID, userID, performedBy int64, cause string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (attendance_id, event_id, user_id, action, performed_by, performed_at, old_value, new_value)
		VALUES (NULL, $1, $2, $3, $4, NOW(), '', $5)
	`, eventID, userID, model.AuditCheckInFailed, performedBy, cause)
	if err != nil {
		return fmt.Errorf("failed to append failure audit: %w", err)
	}
	return nil
}
