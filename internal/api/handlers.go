package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/BookingPipe/internal/assistant"
	"github.com/BTreeMap/BookingPipe/internal/dialogue"
	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/session"
	"github.com/BTreeMap/BookingPipe/internal/store"
)

// ChatRequest is the body of POST /chat. Empty ids start a new conversation.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// chatHandler handles POST /chat
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req, "chatHandler") {
		return
	}

	reply, err := s.assistant.HandleMessage(r.Context(), req.SessionID, req.UserID, req.Message)
	switch {
	case errors.Is(err, models.ErrEmptyMessage), errors.Is(err, models.ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dialogue.ErrStore) && reply != nil:
		slog.Error("Server.chatHandler: appointment store failure", "session", reply.SessionID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorWithResult("Appointment store unavailable", reply))
	case errors.Is(err, assistant.ErrSessionSave) && reply != nil:
		slog.Error("Server.chatHandler: session not saved", "session", reply.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorWithResult("Session could not be saved", reply))
	case err != nil:
		slog.Error("Server.chatHandler: failed to handle message", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process message")
	default:
		writeJSON(w, http.StatusOK, models.Success(reply))
	}
}

// getSessionHandler handles GET /sessions/{sessionID}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	st, err := s.assistant.Session(r.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to load session", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, models.Success(st))
}

// deleteSessionHandler handles DELETE /sessions/{sessionID}
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.assistant.Reset(r.Context(), sessionID); err != nil {
		slog.Error("Server.deleteSessionHandler: failed to reset session", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to reset session")
		return
	}
	writeJSON(w, http.StatusOK, models.SuccessWithMessage("Session reset", nil))
}

// listAppointmentsHandler handles GET /appointments?user_id=
func (s *Server) listAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	list, err := s.assistant.Appointments(r.Context(), userID)
	if err != nil {
		slog.Error("Server.listAppointmentsHandler: failed to list appointments", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list appointments")
		return
	}
	if list == nil {
		list = []models.PersistedAppointment{}
	}
	writeJSON(w, http.StatusOK, models.Success(list))
}

// createAppointmentHandler handles POST /appointments
func (s *Server) createAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	var appt models.Appointment
	if !decodeJSON(w, r, &appt, "createAppointmentHandler") {
		return
	}
	if err := appt.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	booked, err := s.assistant.Book(r.Context(), appt)
	switch {
	case errors.Is(err, store.ErrSlotTaken):
		writeError(w, http.StatusConflict, dialogue.SlotTakenMessage(appt.Date, appt.Time))
	case errors.Is(err, store.ErrInvalidAppointment):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("Server.createAppointmentHandler: failed to book", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to book appointment")
	default:
		slog.Info("Server.createAppointmentHandler: appointment booked", "id", booked.ID, "user", booked.UserID)
		writeJSON(w, http.StatusCreated, models.SuccessWithMessage("Appointment booked", booked))
	}
}
