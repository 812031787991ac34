package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

// internalErrorBody is written when a response cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("api: cannot marshal static response: " + err.Error())
	}
	return data
}

// writeJSON encodes body before touching the header so an encoding
// failure can still turn into a 500.
func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server.writeJSON: failed to marshal response", "error", err)
		data, status = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Server.writeJSON: client went away", "error", err)
	}
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.Error(message))
}

// decodeJSON reads a size-limited JSON body into v, answering 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, handler string) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		slog.Warn("Server."+handler+": failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return false
	}
	return true
}
