package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/lockfile"
	"github.com/BTreeMap/BookingPipe/internal/models"
)

var _ Store = (*JSONStore)(nil)

// JSONStore keeps appointments in a single JSON array file.
// Writers hold an in-process mutex and a cross-process flock on "<path>.lock";
// each write goes to a temp file that is renamed over the original.
type JSONStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewJSONStore opens (and creates if missing) the JSON appointments file.
func NewJSONStore(opts ...Option) (*JSONStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewJSONStore invoked", "path", cfg.JSONPath)
	if cfg.JSONPath == "" {
		return nil, fmt.Errorf("json store path not set")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.JSONPath), DefaultDirPermissions); err != nil {
		slog.Error("NewJSONStore: create directory failed", "error", err, "path", cfg.JSONPath)
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	s := &JSONStore{path: cfg.JSONPath, now: cfg.Now}
	if _, err := os.Stat(cfg.JSONPath); errors.Is(err, os.ErrNotExist) {
		if err := s.write(records{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// withLock runs fn while holding both locks. When fn returns a non-nil
// records value it is written back atomically.
func (s *JSONStore) withLock(fn func(records) (records, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fl, err := lockfile.LockFile(s.path)
	if err != nil {
		slog.Error("JSONStore.withLock: file lock failed", "error", err, "path", s.path)
		return err
	}
	defer fl.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	updated, err := fn(data)
	if err != nil || updated == nil {
		return err
	}
	return s.write(updated)
}

func (s *JSONStore) read() (records, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return records{}, nil
	}
	if err != nil {
		slog.Error("JSONStore.read: read failed", "error", err, "path", s.path)
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return records{}, nil
	}
	var data records
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Error("JSONStore.read: decode failed", "error", err, "path", s.path)
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	return data, nil
}

func (s *JSONStore) write(data records) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode appointments: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		slog.Error("JSONStore.write: rename failed", "error", err, "path", s.path)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *JSONStore) ListAppointments(ctx context.Context, userID string) ([]models.PersistedAppointment, error) {
	var out []models.PersistedAppointment
	err := s.withLock(func(data records) (records, error) {
		out = data.forUser(userID)
		return nil, nil
	})
	return out, err
}

func (s *JSONStore) SaveAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	return s.insert(appt, false)
}

func (s *JSONStore) BookAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	return s.insert(appt, true)
}

func (s *JSONStore) insert(appt models.Appointment, checkSlot bool) (models.PersistedAppointment, error) {
	if err := validateDraft(appt); err != nil {
		return models.PersistedAppointment{}, err
	}
	var rec models.PersistedAppointment
	err := s.withLock(func(data records) (records, error) {
		if checkSlot && data.slotTaken(appt.Date, appt.Time) {
			return nil, ErrSlotTaken
		}
		rec = newRecord(appt, s.now())
		return append(data, rec), nil
	})
	if err != nil {
		if !errors.Is(err, ErrSlotTaken) {
			slog.Error("JSONStore.insert: failed", "error", err, "user_id", appt.UserID)
		}
		return models.PersistedAppointment{}, err
	}
	slog.Debug("JSONStore.insert: saved", "id", rec.ID, "user_id", rec.UserID, "date", rec.Date, "time", rec.Time)
	return rec, nil
}

func (s *JSONStore) UpdateLatestForUser(ctx context.Context, userID string, mutate Mutator) (*models.PersistedAppointment, error) {
	var updated *models.PersistedAppointment
	err := s.withLock(func(data records) (records, error) {
		i := data.latestIndex(userID)
		if i < 0 {
			return nil, nil
		}
		rec := data[i]
		mutate(&rec)
		rec.ID, rec.UserID, rec.CreatedAt = data[i].ID, data[i].UserID, data[i].CreatedAt
		if movesSlot(data[i], rec) && data.slotHeldByOther(rec.Date, rec.Time, rec.ID) {
			return nil, ErrSlotTaken
		}
		data[i] = rec
		updated = &rec
		return data, nil
	})
	if err != nil {
		if !errors.Is(err, ErrSlotTaken) {
			slog.Error("JSONStore.UpdateLatestForUser: failed", "error", err, "user_id", userID)
		}
		return nil, err
	}
	return updated, nil
}

func (s *JSONStore) DeleteLatestForUser(ctx context.Context, userID string) (bool, error) {
	deleted := false
	err := s.withLock(func(data records) (records, error) {
		i := data.latestIndex(userID)
		if i < 0 {
			return nil, nil
		}
		deleted = true
		return append(data[:i], data[i+1:]...), nil
	})
	if err != nil {
		slog.Error("JSONStore.DeleteLatestForUser: failed", "error", err, "user_id", userID)
		return false, err
	}
	return deleted, nil
}

func (s *JSONStore) FindConflicts(ctx context.Context, date, clock, userID string) ([]models.PersistedAppointment, error) {
	var out []models.PersistedAppointment
	err := s.withLock(func(data records) (records, error) {
		out = data.conflicts(date, clock, userID)
		return nil, nil
	})
	return out, err
}

func (s *JSONStore) HasTimeSlotTaken(ctx context.Context, date, clock string) (bool, error) {
	taken := false
	err := s.withLock(func(data records) (records, error) {
		taken = data.slotTaken(date, clock)
		return nil, nil
	})
	return taken, err
}

func (s *JSONStore) Close() error {
	return nil
}
