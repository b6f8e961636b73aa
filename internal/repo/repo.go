package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"rollcall/internal/model"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrAttendanceNotFound  = errors.New("attendance not found")
	ErrDuplicateAttendance = errors.New("duplicate attendance")
	ErrVersionConflict     = errors.New("event stats version conflict")
)

// AttendanceFilter narrows ListAttendances. Zero values mean "no filter".
type AttendanceFilter struct {
	EventID     int64
	UserID      int64
	Status      model.Status
	Method      model.Method
	CreatedFrom time.Time
	CreatedTo   time.Time
}

type Repository interface {
	// External collaborator projections.
	GetEventContext(ctx context.Context, eventID int64) (*model.EventContext, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	HasCapability(ctx context.Context, userID int64, capability string) (bool, error)

	// Attendance records.
	GetAttendanceByID(ctx context.Context, id int64) (*model.AttendanceRecord, error)
	GetActiveAttendance(ctx context.Context, eventID, userID int64) (*model.AttendanceRecord, error)
	InsertAttendance(ctx context.Context, rec *model.AttendanceRecord) error
	UpdateAttendance(ctx context.Context, rec *model.AttendanceRecord) error
	BatchInsertAttendances(ctx context.Context, recs []*model.AttendanceRecord) error
	ListAttendances(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error)
	AttendedUserIDs(ctx context.Context, eventID int64) (map[int64]struct{}, error)
	DeleteAttendancesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Best-effort failure trail, written outside the main transaction.
	AppendFailureAudit(ctx context.Context, eventID, userID, performedBy int64, cause string) error

	// Aggregate write-back, guarded by a version compare-and-swap.
	UpdateEventStatsCAS(ctx context.Context, eventID int64, stats model.EventStats, expectedVersion int64) error
	GetEventStats(ctx context.Context, eventID int64) (*model.EventStats, error)

	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) GetEventContext(ctx context.Context, eventID int64) (*model.EventContext, error) {
	query := `
		SELECT id, start_time, end_time, status, settings, lat, lon, stats_version
		FROM events WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, eventID)

	var (
		ev           model.EventContext
		settingsJSON []byte
		lat, lon     sql.NullFloat64
	)
	if err := row.Scan(
		&ev.ID, &ev.StartDateTime, &ev.EndDateTime, &ev.Status,
		&settingsJSON, &lat, &lon, &ev.StatsVersion,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load event %d: %w", eventID, err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &ev.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings of event %d: %w", eventID, err)
		}
	}
	if lat.Valid && lon.Valid {
		ev.Location = &model.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
	}

	ev.Participants = make(map[int64]struct{})
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM event_participants WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants of event %d: %w", eventID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		ev.Participants[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}

	ev.Organizers = make(map[int64]struct{})
	orows, err := r.db.QueryContext(ctx, `SELECT user_id FROM event_organizers WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organizers of event %d: %w", eventID, err)
	}
	defer orows.Close()
	for orows.Next() {
		var id int64
		if err := orows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan organizer: %w", err)
		}
		ev.Organizers[id] = struct{}{}
	}
	if err := orows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizers: %w", err)
	}

	return &ev, nil
}

func (r *repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user %d: %w", userID, err)
	}
	return exists, nil
}

func (r *repository) HasCapability(ctx context.Context, userID int64, capability string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_capabilities WHERE user_id = $1 AND capability = $2)`,
		userID, capability,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check capability %q of user %d: %w", capability, userID, err)
	}
	return exists, nil
}

func (r *repository) GetEventStats(ctx context.Context, eventID int64) (*model.EventStats, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT stats FROM events WHERE id = $1`, eventID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load stats of event %d: %w", eventID, err)
	}

	stats := &model.EventStats{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats of event %d: %w", eventID, err)
		}
	}
	return stats, nil
}

func (r *repository) UpdateEventStatsCAS(ctx context.Context, eventID int64, stats model.EventStats, expectedVersion int64) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal event stats: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET stats = $1, stats_version = stats_version + 1, updated_at = NOW()
		WHERE id = $2 AND stats_version = $3
	`, payload, eventID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update stats of event %d: %w", eventID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
