package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

// records is an insertion-ordered appointment list shared by the in-process backends.
type records []models.PersistedAppointment

func (r records) forUser(userID string) []models.PersistedAppointment {
	out := []models.PersistedAppointment{}
	for _, a := range r {
		if userID == "" || a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

// latestIndex returns the index of the user's newest record, or -1.
func (r records) latestIndex(userID string) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i].UserID == userID {
			return i
		}
	}
	return -1
}

func (r records) conflicts(date, clock, userID string) []models.PersistedAppointment {
	out := []models.PersistedAppointment{}
	for _, a := range r {
		if a.UserID == userID && a.SameSlot(date, clock) {
			out = append(out, a)
		}
	}
	return out
}

func (r records) slotTaken(date, clock string) bool {
	for _, a := range r {
		if a.SameSlot(date, clock) {
			return true
		}
	}
	return false
}

// slotHeldByOther reports whether a record other than id holds date and clock.
func (r records) slotHeldByOther(date, clock, id string) bool {
	for _, a := range r {
		if a.ID != id && a.SameSlot(date, clock) {
			return true
		}
	}
	return false
}

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps appointments in a mutex-guarded slice.
type InMemoryStore struct {
	mu   sync.Mutex
	data records
	now  func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{now: cfg.Now}
}

func (s *InMemoryStore) ListAppointments(ctx context.Context, userID string) ([]models.PersistedAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.forUser(userID), nil
}

func (s *InMemoryStore) SaveAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	if err := validateDraft(appt); err != nil {
		return models.PersistedAppointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := newRecord(appt, s.now())
	s.data = append(s.data, rec)
	slog.Debug("InMemoryStore.SaveAppointment: saved", "id", rec.ID, "user_id", rec.UserID, "date", rec.Date, "time", rec.Time)
	return rec, nil
}

func (s *InMemoryStore) BookAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	if err := validateDraft(appt); err != nil {
		return models.PersistedAppointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.slotTaken(appt.Date, appt.Time) {
		return models.PersistedAppointment{}, ErrSlotTaken
	}
	rec := newRecord(appt, s.now())
	s.data = append(s.data, rec)
	slog.Debug("InMemoryStore.BookAppointment: booked", "id", rec.ID, "user_id", rec.UserID, "date", rec.Date, "time", rec.Time)
	return rec, nil
}

func (s *InMemoryStore) UpdateLatestForUser(ctx context.Context, userID string, mutate Mutator) (*models.PersistedAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.data.latestIndex(userID)
	if i < 0 {
		return nil, nil
	}
	rec := s.data[i]
	mutate(&rec)
	rec.ID, rec.UserID, rec.CreatedAt = s.data[i].ID, s.data[i].UserID, s.data[i].CreatedAt
	if movesSlot(s.data[i], rec) && s.data.slotHeldByOther(rec.Date, rec.Time, rec.ID) {
		slog.Debug("InMemoryStore.UpdateLatestForUser: slot taken", "user_id", userID, "date", rec.Date, "time", rec.Time)
		return nil, ErrSlotTaken
	}
	s.data[i] = rec
	return &rec, nil
}

func (s *InMemoryStore) DeleteLatestForUser(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.data.latestIndex(userID)
	if i < 0 {
		return false, nil
	}
	s.data = append(s.data[:i], s.data[i+1:]...)
	return true, nil
}

func (s *InMemoryStore) FindConflicts(ctx context.Context, date, clock, userID string) ([]models.PersistedAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.conflicts(date, clock, userID), nil
}

func (s *InMemoryStore) HasTimeSlotTaken(ctx context.Context, date, clock string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.slotTaken(date, clock), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
