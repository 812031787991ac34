package interpret

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

func newTaskServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(NewLocal(fixedNow)))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteAgainstHandler(t *testing.T) {
	srv := newTaskServer(t)
	r := NewRemote(srv.URL+"/", nil, time.Second)
	ctx := context.Background()

	intent, err := r.ClassifyIntent(ctx, "cancel please", models.IntentLabels)
	if err != nil || intent != models.IntentCancel {
		t.Errorf("expected cancel, got %q (%v)", intent, err)
	}

	dt, err := r.ExtractDateTime(ctx, "tomorrow at 3pm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := (DateTime{Date: "2025-10-24", Day: "Friday", Time: "15:00"}); dt != want {
		t.Errorf("expected %+v, got %+v", want, dt)
	}

	mode, err := r.InferMode(ctx, "a phone call")
	if err != nil || mode != models.ModeTelephonic {
		t.Errorf("expected telephonic, got %q (%v)", mode, err)
	}

	req := ConfirmationRequest{Date: "2025-10-24", Day: "Friday", Time: "15:00", Mode: models.ModeVirtual}
	text, err := r.GenerateConfirmation(ctx, req)
	if err != nil || text != ConfirmationText(req) {
		t.Errorf("unexpected confirmation %q (%v)", text, err)
	}
}

func TestRemoteEmptyAnswer(t *testing.T) {
	srv := newTaskServer(t)
	r := NewRemote(srv.URL, nil, time.Second)
	if _, err := r.ExtractDateTime(context.Background(), "asdfasdf"); !errors.Is(err, ErrNoResult) {
		t.Errorf("expected ErrNoResult, got %v", err)
	}
}

func TestRemoteUnknownTask(t *testing.T) {
	srv := newTaskServer(t)
	r := NewRemote(srv.URL, nil, time.Second)
	_, err := r.Call(context.Background(), TaskRequest{Agent: "weather", Task: "forecast"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status 404 error, got %v", err)
	}
}

func TestRemoteNonJSONAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, nil, time.Second)
	if _, err := r.InferMode(context.Background(), "x"); !errors.Is(err, ErrInvalidResult) {
		t.Errorf("expected ErrInvalidResult, got %v", err)
	}
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	h := NewHandler(NewLocal(fixedNow))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/task", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/task", strings.NewReader("{broken")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandlerDefaultsLabels(t *testing.T) {
	h := NewHandler(NewLocal(fixedNow))
	rec := httptest.NewRecorder()
	body := `{"agent":"intent","task":"classify_intent","payload":{"text":"I want to book"}}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); !strings.Contains(got, `"intent":"book"`) {
		t.Errorf("unexpected body %s", got)
	}
}
