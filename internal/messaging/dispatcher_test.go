package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BTreeMap/BookingPipe/internal/assistant"
	"github.com/BTreeMap/BookingPipe/internal/dialogue"
	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/session"
	"github.com/BTreeMap/BookingPipe/internal/store"
	"github.com/BTreeMap/BookingPipe/internal/testutil"
	"github.com/BTreeMap/BookingPipe/internal/twiliowhatsapp"
)

func newAssistant() (*assistant.Service, session.Store) {
	return testutil.NewAssistant(store.NewInMemoryStore())
}

func TestDispatcherHandleBooksAndReplies(t *testing.T) {
	svcAssistant, sessions := newAssistant()
	mock := twiliowhatsapp.NewMockClient()
	channel := NewTwilioService(mock)
	d := NewDispatcher(svcAssistant, WithDispatcherMetrics(metrics.New(prometheus.NewRegistry())))

	resp := models.Response{ID: "SM1", From: "whatsapp:+15551234567", Body: "Book a virtual appointment tomorrow at 3pm"}
	if err := d.Handle(context.Background(), channel, resp); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	sent := mock.Messages()
	want := "Your virtual appointment is booked for Friday, 2025-10-24 at 15:00."
	if len(sent) != 1 || sent[0].To != "15551234567" || sent[0].Body != want {
		t.Errorf("unexpected replies %+v", sent)
	}

	st, err := sessions.Load(context.Background(), SessionID(TwilioChannel, "15551234567"))
	if err != nil {
		t.Fatalf("expected channel session: %v", err)
	}
	if st.Appointment.UserID != "15551234567" {
		t.Errorf("expected the phone number as user id, got %q", st.Appointment.UserID)
	}
}

func TestDispatcherDropsDuplicates(t *testing.T) {
	svcAssistant, _ := newAssistant()
	mock := twiliowhatsapp.NewMockClient()
	channel := NewTwilioService(mock)
	d := NewDispatcher(svcAssistant, WithDedup(store.NewMemoryDedup()))

	resp := models.Response{ID: "SM1", From: "+15551234567", Body: "hello"}
	for i := 0; i < 2; i++ {
		if err := d.Handle(context.Background(), channel, resp); err != nil {
			t.Fatalf("Handle %d failed: %v", i, err)
		}
	}
	if sent := mock.Messages(); len(sent) != 1 || sent[0].Body != dialogue.MsgIntentFallback {
		t.Errorf("expected one reply for a redelivered message, got %+v", sent)
	}

	resp.ID = ""
	if err := d.Handle(context.Background(), channel, resp); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(mock.Messages()) != 2 {
		t.Error("messages without an id should never be deduplicated")
	}
}

func TestDispatcherRejectsInvalid(t *testing.T) {
	svcAssistant, _ := newAssistant()
	mock := twiliowhatsapp.NewMockClient()
	d := NewDispatcher(svcAssistant)
	channel := NewTwilioService(mock)

	if err := d.Handle(context.Background(), channel, models.Response{From: "+15551234567", Body: "   "}); !errors.Is(err, models.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if err := d.Handle(context.Background(), channel, models.Response{From: "+12", Body: "hi"}); err == nil {
		t.Error("expected invalid sender error")
	}
	if len(mock.Messages()) != 0 {
		t.Error("invalid messages should not be answered")
	}
}

type stubHandler struct {
	reply *assistant.Reply
	err   error
}

func (s stubHandler) HandleMessage(ctx context.Context, sessionID, userID, text string) (*assistant.Reply, error) {
	return s.reply, s.err
}

func TestDispatcherApologizesOnFailure(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	channel := NewTwilioService(mock)
	resp := models.Response{From: "+15551234567", Body: "book"}

	d := NewDispatcher(stubHandler{err: errors.New("session store down")})
	if err := d.Handle(context.Background(), channel, resp); err == nil {
		t.Error("expected the handler error")
	}
	if sent := mock.Messages(); len(sent) != 1 || sent[0].Body != MsgApology {
		t.Errorf("expected a generic apology, got %+v", sent)
	}

	storeErr := fmt.Errorf("%w: book: disk full", dialogue.ErrStore)
	d = NewDispatcher(stubHandler{reply: &assistant.Reply{Messages: []string{dialogue.MsgStoreFailure}}, err: storeErr})
	if err := d.Handle(context.Background(), channel, resp); !errors.Is(err, dialogue.ErrStore) {
		t.Errorf("expected ErrStore, got %v", err)
	}
	if sent := mock.Messages(); len(sent) != 2 || sent[1].Body != dialogue.MsgStoreFailure {
		t.Errorf("expected the dialogue's own apology, got %+v", sent)
	}
}

func TestDispatcherDeliversReplyWhenSessionNotSaved(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	channel := NewTwilioService(mock)
	resp := models.Response{From: "+15551234567", Body: "book"}

	confirmation := "Your virtual appointment is booked for Friday, 2025-10-24 at 15:00."
	saveErr := fmt.Errorf("%w: s1: redis unavailable", assistant.ErrSessionSave)
	d := NewDispatcher(stubHandler{reply: &assistant.Reply{Messages: []string{confirmation}}, err: saveErr})
	if err := d.Handle(context.Background(), channel, resp); !errors.Is(err, assistant.ErrSessionSave) {
		t.Errorf("expected ErrSessionSave, got %v", err)
	}
	if sent := mock.Messages(); len(sent) != 1 || sent[0].Body != confirmation {
		t.Errorf("expected the confirmation instead of an apology, got %+v", sent)
	}
}

func TestDispatcherSendFailure(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.Err = errors.New("twilio unavailable")
	d := NewDispatcher(stubHandler{reply: &assistant.Reply{Messages: []string{"hi"}}})
	if err := d.Handle(context.Background(), NewTwilioService(mock), models.Response{From: "+15551234567", Body: "x"}); err == nil {
		t.Error("expected send error")
	}
}

func TestDispatcherRun(t *testing.T) {
	svcAssistant, _ := newAssistant()
	mock := twiliowhatsapp.NewMockClient()
	channel := NewTwilioService(mock)
	d := NewDispatcher(svcAssistant)
	d.Register(channel)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	channel.inbox.emit(models.Response{ID: "SM9", From: "+15551234567", Body: "cancel my appointment"})

	deadline := time.Now().Add(2 * time.Second)
	for len(mock.Messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sent := mock.Messages(); len(sent) != 1 || sent[0].Body != dialogue.MsgNothingToCancel {
		t.Errorf("unexpected replies %+v", sent)
	}
	if _, ok := <-channel.Responses(); ok {
		t.Error("expected channels to be stopped after Run")
	}
}

func TestDispatcherRunWithoutChannels(t *testing.T) {
	if err := NewDispatcher(stubHandler{}).Run(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
