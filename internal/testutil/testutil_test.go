package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/BTreeMap/BookingPipe/internal/store"
)

func TestNewAssistantBooksWithFixedClock(t *testing.T) {
	svc, sessions := NewAssistant(store.NewInMemoryStore())
	reply, err := svc.HandleMessage(context.Background(), "s1", "u1", "Book a virtual appointment tomorrow at 3pm")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	want := "Your virtual appointment is booked for Friday, 2025-10-24 at 15:00."
	if len(reply.Messages) != 1 || reply.Messages[0] != want {
		t.Errorf("unexpected reply %q", reply.Messages)
	}
	if _, err := sessions.Load(context.Background(), "s1"); err != nil {
		t.Errorf("expected session to be saved: %v", err)
	}
}

func TestDoDecodesEnvelope(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"ok","result":{"id":"a1"}}`))
	})
	rec, env := Do(t, h, http.MethodPost, "/x", `{}`)
	AssertHTTPStatus(t, http.StatusCreated, rec.Code, "create")
	if env.Status != "ok" {
		t.Errorf("expected ok status, got %q", env.Status)
	}
	var result struct {
		ID string `json:"id"`
	}
	DecodeResult(t, env, &result)
	if result.ID != "a1" {
		t.Errorf("expected id a1, got %q", result.ID)
	}
}

func TestDoSkipsNonJSON(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	rec, env := Do(t, h, http.MethodGet, "/", "")
	if rec.Body.String() != "OK" || env.Status != "" {
		t.Errorf("unexpected decode of plain response %q %+v", rec.Body.String(), env)
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	mockT := &testing.T{}
	AssertHTTPStatus(mockT, 200, 200, "match")
	if mockT.Failed() {
		t.Error("expected matching statuses to pass")
	}
}
