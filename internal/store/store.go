// Package store provides appointment storage backends for BookingPipe.
//
// Every backend keeps appointment records keyed by user and ordered by
// insertion, answers slot conflict queries, and serializes writers so that
// BookAppointment checks and inserts under one lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

// Driver names returned by DetectDSNType.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverJSON     = "json"
)

// DefaultDirPermissions is used when a backend creates its data directory.
const DefaultDirPermissions = 0755

var (
	// ErrSlotTaken is returned by BookAppointment and UpdateLatestForUser when
	// the date/time is already held by another record.
	ErrSlotTaken = errors.New("time slot already taken")
	// ErrInvalidAppointment wraps validation failures of a draft passed to a store.
	ErrInvalidAppointment = errors.New("invalid appointment")
)

// Mutator edits a persisted record in place during UpdateLatestForUser.
type Mutator func(*models.PersistedAppointment)

// movesSlot reports whether an update changes the record's date or time.
func movesSlot(before, after models.PersistedAppointment) bool {
	return before.Date != after.Date || before.Time != after.Time
}

// Store is the appointment store contract used by the dialogue.
type Store interface {
	// ListAppointments returns the user's records in insertion order.
	// An empty userID lists every record.
	ListAppointments(ctx context.Context, userID string) ([]models.PersistedAppointment, error)
	// SaveAppointment persists the draft with a fresh id and no slot check.
	SaveAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error)
	// BookAppointment persists the draft only if its date/time is free, else ErrSlotTaken.
	BookAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error)
	// UpdateLatestForUser applies mutate to the user's newest record. When the
	// mutation moves the record to a date/time held by another record, nothing
	// is written and ErrSlotTaken is returned; the check and the write share
	// the backend's writer lock. It returns nil without error when the user
	// has no records.
	UpdateLatestForUser(ctx context.Context, userID string, mutate Mutator) (*models.PersistedAppointment, error)
	// DeleteLatestForUser removes the user's newest record and reports whether one existed.
	DeleteLatestForUser(ctx context.Context, userID string) (bool, error)
	// FindConflicts returns the user's records at exactly date and clock.
	FindConflicts(ctx context.Context, date, clock, userID string) ([]models.PersistedAppointment, error)
	// HasTimeSlotTaken reports whether any user holds date and clock.
	HasTimeSlotTaken(ctx context.Context, date, clock string) (bool, error)
	Close() error
}

// SessionRepo persists serialized conversation states. SQL backends implement it.
type SessionRepo interface {
	SaveSession(ctx context.Context, sessionID string, data []byte) error
	// LoadSession returns nil data without error when the session is unknown.
	LoadSession(ctx context.Context, sessionID string) ([]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN      string
	JSONPath string
	Now      func() time.Time
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path or file: URI.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithJSONPath sets the path of the appointments JSON file.
func WithJSONPath(path string) Option {
	return func(o *Opts) { o.JSONPath = path }
}

// WithClock overrides the clock used for created_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// DetectDSNType infers the driver for a DSN: postgres URLs or key=value
// connection strings are "postgres", paths ending in .json are "json",
// everything else is treated as an SQLite file.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	if strings.Contains(d, "=") && !strings.HasPrefix(lower, "file:") && !strings.Contains(d, "?") {
		for _, field := range strings.Fields(d) {
			key, _, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			switch key {
			case "host", "user", "dbname", "password", "port", "sslmode":
				return DriverPostgres
			}
		}
	}
	if strings.HasSuffix(lower, ".json") {
		return DriverJSON
	}
	return DriverSQLite
}

// Open selects a backend from the options: a DSN picks SQLite, Postgres or
// JSON by DetectDSNType, a JSON path picks JSONStore, and nothing picks
// InMemoryStore.
func Open(opts ...Option) (Store, error) {
	cfg := applyOpts(opts)
	switch {
	case cfg.DSN != "":
		switch DetectDSNType(cfg.DSN) {
		case DriverPostgres:
			return NewPostgresStore(opts...)
		case DriverJSON:
			return NewJSONStore(append(opts, WithJSONPath(cfg.DSN))...)
		default:
			return NewSQLiteStore(opts...)
		}
	case cfg.JSONPath != "":
		return NewJSONStore(opts...)
	default:
		slog.Info("store.Open: no DSN configured, using in-memory appointments")
		return NewInMemoryStore(opts...), nil
	}
}

func validateDraft(appt models.Appointment) error {
	if err := appt.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAppointment, err)
	}
	return nil
}

// newRecord turns a validated draft into a record with a fresh id.
func newRecord(appt models.Appointment, now time.Time) models.PersistedAppointment {
	day := appt.Day
	if day == "" {
		day = models.WeekdayOf(appt.Date)
	}
	mode := appt.Mode
	if mode == "" {
		mode = models.ModeVirtual
	}
	return models.PersistedAppointment{
		ID:        newAppointmentID(),
		Date:      appt.Date,
		Day:       day,
		Time:      appt.Time,
		Mode:      mode,
		Notes:     appt.Notes,
		UserID:    appt.UserID,
		CreatedAt: now.UTC(),
	}
}
