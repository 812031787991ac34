package interpret

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// maxTaskBodyBytes caps the size of a /task request body.
const maxTaskBodyBytes = 64 << 10

// Handler serves the /task wire format from a Service. Answers are bare JSON
// objects; an empty object means the service had no answer.
type Handler struct {
	svc Service
}

// NewHandler creates a /task handler backed by svc.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeTaskJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req TaskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTaskBodyBytes))
	if err := dec.Decode(&req); err != nil {
		slog.Warn("Handler.ServeHTTP: invalid task body", "error", err)
		writeTaskJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	slog.Debug("Handler.ServeHTTP: task received", "task", req.Key())

	out, err := Dispatch(r.Context(), h.svc, req)
	switch {
	case errors.Is(err, ErrUnsupportedTask):
		slog.Warn("Handler.ServeHTTP: unknown task", "task", req.Key())
		writeTaskJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case err != nil:
		if !errors.Is(err, ErrNoResult) {
			slog.Warn("Handler.ServeHTTP: task failed", "task", req.Key(), "error", err)
		}
		writeTaskJSON(w, http.StatusOK, map[string]any{})
	default:
		writeTaskJSON(w, http.StatusOK, out)
	}
}

func writeTaskJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("writeTaskJSON: encode failed", "error", err)
	}
}
