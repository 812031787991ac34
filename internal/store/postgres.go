// This file implements a PostgreSQL-backed appointment store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/BookingPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// appointmentsLockKey is the pg_advisory_xact_lock key serializing appointment writers.
const appointmentsLockKey int64 = 0x426f6f6b

//go:embed migrations_postgres.sql
var postgresMigrations string

var (
	_ Store       = (*PostgresStore)(nil)
	_ SessionRepo = (*PostgresStore)(nil)
)

// PostgresStore keeps appointments in PostgreSQL; insertion order is the seq column.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: open failed", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: migrations failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return newPostgresStoreWithDB(db, cfg.Now), nil
}

// newPostgresStoreWithDB wraps an already migrated connection pool.
func newPostgresStoreWithDB(db *sql.DB, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, now: now}
}

func (s *PostgresStore) ListAppointments(ctx context.Context, userID string) ([]models.PersistedAppointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE ($1 = '' OR user_id = $1) ORDER BY seq`, userID)
	if err != nil {
		slog.Error("PostgresStore.ListAppointments: query failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	out, err := scanAppointments(rows)
	if err != nil {
		slog.Error("PostgresStore.ListAppointments: scan failed", "error", err, "user_id", userID)
		return nil, err
	}
	slog.Debug("PostgresStore.ListAppointments succeeded", "user_id", userID, "count", len(out))
	return out, nil
}

func (s *PostgresStore) SaveAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	return s.insert(ctx, appt, false)
}

func (s *PostgresStore) BookAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	return s.insert(ctx, appt, true)
}

// lockedTx opens a transaction holding the appointments advisory lock until commit or rollback.
func (s *PostgresStore) lockedTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appointmentsLockKey); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to take appointments lock: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) insert(ctx context.Context, appt models.Appointment, checkSlot bool) (models.PersistedAppointment, error) {
	if err := validateDraft(appt); err != nil {
		return models.PersistedAppointment{}, err
	}
	tx, err := s.lockedTx(ctx)
	if err != nil {
		slog.Error("PostgresStore.insert: transaction failed", "error", err)
		return models.PersistedAppointment{}, err
	}
	defer tx.Rollback()

	if checkSlot {
		var taken bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM appointments WHERE date = $1 AND time = $2)`, appt.Date, appt.Time).Scan(&taken)
		if err != nil {
			slog.Error("PostgresStore.insert: slot check failed", "error", err)
			return models.PersistedAppointment{}, fmt.Errorf("failed to check slot: %w", err)
		}
		if taken {
			slog.Debug("PostgresStore.insert: slot taken", "date", appt.Date, "time", appt.Time)
			return models.PersistedAppointment{}, ErrSlotTaken
		}
	}

	rec := newRecord(appt, s.now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments (id, date, day, time, mode, notes, user_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Date, nilIfEmpty(rec.Day), rec.Time, string(rec.Mode), nilIfEmpty(rec.Notes), rec.UserID, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.insert: insert failed", "error", err, "user_id", rec.UserID)
		return models.PersistedAppointment{}, fmt.Errorf("failed to insert appointment for %s: %w", rec.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore.insert: commit failed", "error", err)
		return models.PersistedAppointment{}, fmt.Errorf("failed to commit appointment: %w", err)
	}
	slog.Debug("PostgresStore.insert succeeded", "id", rec.ID, "user_id", rec.UserID, "date", rec.Date, "time", rec.Time)
	return rec, nil
}

func (s *PostgresStore) UpdateLatestForUser(ctx context.Context, userID string, mutate Mutator) (*models.PersistedAppointment, error) {
	tx, err := s.lockedTx(ctx)
	if err != nil {
		slog.Error("PostgresStore.UpdateLatestForUser: transaction failed", "error", err)
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`, userID)
	current, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore.UpdateLatestForUser: no appointment", "user_id", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.UpdateLatestForUser: select failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to load latest appointment: %w", err)
	}

	updated := current
	mutate(&updated)
	updated.ID, updated.UserID, updated.CreatedAt = current.ID, current.UserID, current.CreatedAt
	if movesSlot(current, updated) {
		var taken bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE date = $1 AND time = $2 AND id <> $3)`, updated.Date, updated.Time, updated.ID).Scan(&taken)
		if err != nil {
			slog.Error("PostgresStore.UpdateLatestForUser: slot check failed", "error", err)
			return nil, fmt.Errorf("failed to check slot: %w", err)
		}
		if taken {
			slog.Debug("PostgresStore.UpdateLatestForUser: slot taken", "user_id", userID, "date", updated.Date, "time", updated.Time)
			return nil, ErrSlotTaken
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE appointments SET date = $1, day = $2, time = $3, mode = $4, notes = $5 WHERE id = $6`,
		updated.Date, nilIfEmpty(updated.Day), updated.Time, string(updated.Mode), nilIfEmpty(updated.Notes), updated.ID)
	if err != nil {
		slog.Error("PostgresStore.UpdateLatestForUser: update failed", "error", err, "id", updated.ID)
		return nil, fmt.Errorf("failed to update appointment %s: %w", updated.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	slog.Debug("PostgresStore.UpdateLatestForUser succeeded", "id", updated.ID, "date", updated.Date, "time", updated.Time)
	return &updated, nil
}

func (s *PostgresStore) DeleteLatestForUser(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM appointments WHERE seq = (SELECT MAX(seq) FROM appointments WHERE user_id = $1)`, userID)
	if err != nil {
		slog.Error("PostgresStore.DeleteLatestForUser failed", "error", err, "user_id", userID)
		return false, fmt.Errorf("failed to delete latest appointment for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("PostgresStore.DeleteLatestForUser", "user_id", userID, "deleted", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) FindConflicts(ctx context.Context, date, clock, userID string) ([]models.PersistedAppointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE user_id = $1 AND date = $2 AND time = $3 ORDER BY seq`, userID, date, clock)
	if err != nil {
		slog.Error("PostgresStore.FindConflicts: query failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to find conflicts: %w", err)
	}
	return scanAppointments(rows)
}

func (s *PostgresStore) HasTimeSlotTaken(ctx context.Context, date, clock string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM appointments WHERE date = $1 AND time = $2)`, date, clock).Scan(&taken)
	if err != nil {
		slog.Error("PostgresStore.HasTimeSlotTaken: query failed", "error", err, "date", date, "time", clock)
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return taken, nil
}

// SaveSession stores or updates a serialized conversation state.
func (s *PostgresStore) SaveSession(ctx context.Context, sessionID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions (session_id, state_data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`,
		sessionID, data, s.now().UTC())
	if err != nil {
		slog.Error("PostgresStore.SaveSession failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	return nil
}

// LoadSession returns the serialized state, or nil when the session is unknown.
func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state_data FROM conversation_sessions WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.LoadSession failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return data, nil
}

// DeleteSession removes a stored conversation state.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE session_id = $1`, sessionID); err != nil {
		slog.Error("PostgresStore.DeleteSession failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database")
	return s.db.Close()
}
