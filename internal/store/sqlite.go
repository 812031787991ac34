// This file implements an SQLite-backed appointment store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "embed"

	"github.com/BTreeMap/BookingPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var (
	_ Store       = (*SQLiteStore)(nil)
	_ SessionRepo = (*SQLiteStore)(nil)
)

// SQLiteStore keeps appointments in SQLite; insertion order is rowid order.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex // serializes writers within this process
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := sqlitePath(dsn); path != "" && path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("NewSQLiteStore: create directory failed", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("NewSQLiteStore: open failed", "error", err)
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and avoids SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("NewSQLiteStore: migrations failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db, now: cfg.Now}, nil
}

// sqlitePath strips the file: scheme and query parameters from a DSN.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

func (s *SQLiteStore) ListAppointments(ctx context.Context, userID string) ([]models.PersistedAppointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE (? = '' OR user_id = ?) ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		slog.Error("SQLiteStore.ListAppointments: query failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	out, err := scanAppointments(rows)
	if err != nil {
		slog.Error("SQLiteStore.ListAppointments: scan failed", "error", err, "user_id", userID)
		return nil, err
	}
	slog.Debug("SQLiteStore.ListAppointments succeeded", "user_id", userID, "count", len(out))
	return out, nil
}

func (s *SQLiteStore) SaveAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	return s.insert(ctx, appt, false)
}

func (s *SQLiteStore) BookAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	return s.insert(ctx, appt, true)
}

func (s *SQLiteStore) insert(ctx context.Context, appt models.Appointment, checkSlot bool) (models.PersistedAppointment, error) {
	if err := validateDraft(appt); err != nil {
		return models.PersistedAppointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore.insert: begin failed", "error", err)
		return models.PersistedAppointment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if checkSlot {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM appointments WHERE date = ? AND time = ? LIMIT 1`, appt.Date, appt.Time).Scan(&one)
		if err == nil {
			slog.Debug("SQLiteStore.insert: slot taken", "date", appt.Date, "time", appt.Time)
			return models.PersistedAppointment{}, ErrSlotTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("SQLiteStore.insert: slot check failed", "error", err)
			return models.PersistedAppointment{}, fmt.Errorf("failed to check slot: %w", err)
		}
	}

	rec := newRecord(appt, s.now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments (id, date, day, time, mode, notes, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Date, nilIfEmpty(rec.Day), rec.Time, string(rec.Mode), nilIfEmpty(rec.Notes), rec.UserID, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore.insert: insert failed", "error", err, "user_id", rec.UserID)
		return models.PersistedAppointment{}, fmt.Errorf("failed to insert appointment for %s: %w", rec.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore.insert: commit failed", "error", err)
		return models.PersistedAppointment{}, fmt.Errorf("failed to commit appointment: %w", err)
	}
	slog.Debug("SQLiteStore.insert succeeded", "id", rec.ID, "user_id", rec.UserID, "date", rec.Date, "time", rec.Time)
	return rec, nil
}

func (s *SQLiteStore) UpdateLatestForUser(ctx context.Context, userID string, mutate Mutator) (*models.PersistedAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE user_id = ? ORDER BY rowid DESC LIMIT 1`, userID)
	current, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore.UpdateLatestForUser: no appointment", "user_id", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.UpdateLatestForUser: select failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to load latest appointment: %w", err)
	}

	updated := current
	mutate(&updated)
	updated.ID, updated.UserID, updated.CreatedAt = current.ID, current.UserID, current.CreatedAt
	if movesSlot(current, updated) {
		var taken bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE date = ? AND time = ? AND id <> ?)`, updated.Date, updated.Time, updated.ID).Scan(&taken)
		if err != nil {
			slog.Error("SQLiteStore.UpdateLatestForUser: slot check failed", "error", err)
			return nil, fmt.Errorf("failed to check slot: %w", err)
		}
		if taken {
			slog.Debug("SQLiteStore.UpdateLatestForUser: slot taken", "user_id", userID, "date", updated.Date, "time", updated.Time)
			return nil, ErrSlotTaken
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE appointments SET date = ?, day = ?, time = ?, mode = ?, notes = ? WHERE id = ?`,
		updated.Date, nilIfEmpty(updated.Day), updated.Time, string(updated.Mode), nilIfEmpty(updated.Notes), updated.ID)
	if err != nil {
		slog.Error("SQLiteStore.UpdateLatestForUser: update failed", "error", err, "id", updated.ID)
		return nil, fmt.Errorf("failed to update appointment %s: %w", updated.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	slog.Debug("SQLiteStore.UpdateLatestForUser succeeded", "id", updated.ID, "date", updated.Date, "time", updated.Time)
	return &updated, nil
}

func (s *SQLiteStore) DeleteLatestForUser(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM appointments WHERE rowid = (SELECT rowid FROM appointments WHERE user_id = ? ORDER BY rowid DESC LIMIT 1)`, userID)
	if err != nil {
		slog.Error("SQLiteStore.DeleteLatestForUser failed", "error", err, "user_id", userID)
		return false, fmt.Errorf("failed to delete latest appointment for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("SQLiteStore.DeleteLatestForUser", "user_id", userID, "deleted", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) FindConflicts(ctx context.Context, date, clock, userID string) ([]models.PersistedAppointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE user_id = ? AND date = ? AND time = ? ORDER BY rowid`, userID, date, clock)
	if err != nil {
		slog.Error("SQLiteStore.FindConflicts: query failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to find conflicts: %w", err)
	}
	return scanAppointments(rows)
}

func (s *SQLiteStore) HasTimeSlotTaken(ctx context.Context, date, clock string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments WHERE date = ? AND time = ?`, date, clock).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore.HasTimeSlotTaken: query failed", "error", err, "date", date, "time", clock)
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return count > 0, nil
}

// SaveSession stores or replaces a serialized conversation state.
func (s *SQLiteStore) SaveSession(ctx context.Context, sessionID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions (session_id, state_data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state_data = excluded.state_data, updated_at = excluded.updated_at`,
		sessionID, string(data), s.now().UTC())
	if err != nil {
		slog.Error("SQLiteStore.SaveSession failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	return nil
}

// LoadSession returns the serialized state, or nil when the session is unknown.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state_data FROM conversation_sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.LoadSession failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return []byte(data), nil
}

// DeleteSession removes a stored conversation state.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore.DeleteSession failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database")
	return s.db.Close()
}
