// Package testutil provides common test helpers for BookingPipe tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/assistant"
	"github.com/BTreeMap/BookingPipe/internal/dialogue"
	"github.com/BTreeMap/BookingPipe/internal/interpret"
	"github.com/BTreeMap/BookingPipe/internal/session"
	"github.com/BTreeMap/BookingPipe/internal/store"
)

// FixedNow is the reference clock for tests: Thursday 2025-10-23 10:00 UTC.
func FixedNow() time.Time {
	return time.Date(2025, 10, 23, 10, 0, 0, 0, time.UTC)
}

// NewAssistant builds an assistant over appts with the local interpreter,
// FixedNow and in-memory sessions. The session store is returned for inspection.
func NewAssistant(appts store.Store) (*assistant.Service, session.Store) {
	resolver := interpret.NewResolver(interpret.WithLocal(interpret.NewLocal(FixedNow)))
	sessions := session.NewMemoryStore()
	orch := dialogue.New(resolver, appts, dialogue.WithClock(FixedNow))
	return assistant.New(orch, sessions, appts), sessions
}

// Envelope is the decoded API response wrapper.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Do sends a request with an optional JSON body to h and decodes a JSON envelope when present.
func Do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeResult unmarshals an envelope's result into v.
func DecodeResult(t *testing.T, env Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Result, v); err != nil {
		t.Fatalf("failed to decode result %s: %v", env.Result, err)
	}
}
