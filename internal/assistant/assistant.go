// Package assistant is the entry point for user messages: it loads the
// conversation, runs the dialogue and saves the result.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/BTreeMap/BookingPipe/internal/dialogue"
	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/session"
	"github.com/BTreeMap/BookingPipe/internal/store"
)

// ErrSessionSave marks a reply whose conversation state could not be persisted.
// The dialogue has already run, so the reply's messages reflect committed work.
var ErrSessionSave = errors.New("session not saved")

// Reply is the outcome of one user message.
type Reply struct {
	SessionID string                    `json:"session_id"`
	UserID    string                    `json:"user_id"`
	Messages  []string                  `json:"messages"`
	State     *models.ConversationState `json:"state"`
}

// Runner executes the dialogue for one message.
type Runner interface {
	Run(ctx context.Context, st *models.ConversationState) error
}

var _ Runner = (*dialogue.Orchestrator)(nil)

// Service serializes messages per session and keeps conversations persisted.
type Service struct {
	runner   Runner
	sessions session.Store
	appts    store.Store
	locks    *keyedMutex
	newID    func() string
}

// New creates an assistant over a dialogue runner, a session store and the appointment store.
func New(runner Runner, sessions session.Store, appts store.Store) *Service {
	return &Service{
		runner:   runner,
		sessions: sessions,
		appts:    appts,
		locks:    newKeyedMutex(),
		newID:    uuid.NewString,
	}
}

// HandleMessage runs text through the session's conversation. Empty session
// and user ids are generated. Store failures are returned together with the
// reply carrying the apology, so callers can still deliver it. A failed session
// save is likewise returned with the reply, wrapped in ErrSessionSave.
func (s *Service) HandleMessage(ctx context.Context, sessionID, userID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if err := models.ValidateMessage(text); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = s.newID()
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	st, err := s.sessions.Load(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		if userID == "" {
			userID = s.newID()
		}
		slog.Debug("Service.HandleMessage: new conversation", "session", sessionID, "user", userID)
		st = models.NewConversationState(sessionID, userID)
	case err != nil:
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	default:
		if userID != "" && userID != st.Appointment.UserID {
			slog.Warn("Service.HandleMessage: ignoring user id for existing session", "session", sessionID, "stored", st.Appointment.UserID, "given", userID)
		}
	}

	mark := len(st.Turns)
	st.AddUserTurn(text)
	runErr := s.runner.Run(ctx, st)

	reply := &Reply{
		SessionID: sessionID,
		UserID:    st.Appointment.UserID,
		Messages:  st.AssistantTurnsSince(mark),
		State:     st.Clone(),
	}
	if err := s.sessions.Save(ctx, st); err != nil {
		slog.Error("Service.HandleMessage: failed to save session", "session", sessionID, "error", err)
		return reply, errors.Join(runErr, fmt.Errorf("%w: %s: %w", ErrSessionSave, sessionID, err))
	}
	if runErr != nil {
		return reply, runErr
	}
	return reply, nil
}

// Session returns the stored conversation, or session.ErrNotFound.
func (s *Service) Session(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	return s.sessions.Load(ctx, sessionID)
}

// Reset forgets a conversation. Its appointments are kept.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	slog.Info("Service.Reset: clearing session", "session", sessionID)
	return s.sessions.Delete(ctx, sessionID)
}

// Appointments lists a user's appointments, or every appointment for an empty userID.
func (s *Service) Appointments(ctx context.Context, userID string) ([]models.PersistedAppointment, error) {
	return s.appts.ListAppointments(ctx, userID)
}

// Book commits an appointment directly, bypassing the dialogue.
// It returns store.ErrSlotTaken when the slot is already held.
func (s *Service) Book(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error) {
	if appt.Day == "" {
		appt.Day = models.WeekdayOf(appt.Date)
	}
	if appt.Mode == "" {
		appt.Mode = models.ModeVirtual
	}
	return s.appts.BookAppointment(ctx, appt)
}

// keyedMutex hands out one lock per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
