package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/BookingPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/BookingPipe/internal/whatsapp"
)

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "+15551234567", want: "15551234567"},
		{in: "whatsapp:+1 (555) 123-4567", want: "15551234567"},
		{in: "", wantErr: true},
		{in: "whatsapp:", wantErr: true},
		{in: "+123", wantErr: true},
	}
	for _, tt := range tests {
		got, err := canonicalPhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalPhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func postWebhook(svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	return rec
}

func TestTwilioWebhookQueuesMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postWebhook(svc, url.Values{
		"From":       {"whatsapp:+15551234567"},
		"Body":       {"  book tomorrow at 3pm "},
		"MessageSid": {"SM123"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case resp := <-svc.Responses():
		if resp.ID != "SM123" || resp.From != "whatsapp:+15551234567" || resp.Body != "book tomorrow at 3pm" {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Fatal("expected a queued response")
	}

	if rec := postWebhook(svc, url.Values{"From": {"whatsapp:+15551234567"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without body, got %d", rec.Code)
	}
}

func TestTwilioServiceStopped(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	rec := postWebhook(svc, url.Values{"From": {"+15551234567"}, "Body": {"hi"}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after stop, got %d", rec.Code)
	}
}

func TestTwilioSendMessageCanonicalizes(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendMessage(context.Background(), "whatsapp:+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	sent := mock.Messages()
	if len(sent) != 1 || sent[0].To != "15551234567" {
		t.Errorf("unexpected sends %+v", sent)
	}
	if err := svc.SendMessage(context.Background(), "abc", "hello"); err == nil {
		t.Error("expected invalid recipient error")
	}
}

func textEvent(id, user, text string, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender:   types.NewJID(user, types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			ID:        id,
			Timestamp: time.Date(2025, 10, 23, 10, 0, 0, 0, time.UTC),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppServiceInbound(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleEvent(textEvent("WA1", "15551234567", "cancel my appointment", false))
	svc.handleEvent(textEvent("WA2", "15551234567", "echo", true))
	svc.handleEvent(&events.Message{Info: types.MessageInfo{ID: "WA3"}, Message: &waE2E.Message{}})

	select {
	case resp := <-svc.Responses():
		if resp.ID != "WA1" || resp.From != "+15551234567" || resp.Body != "cancel my appointment" {
			t.Errorf("unexpected response %+v", resp)
		}
		if resp.Time != time.Date(2025, 10, 23, 10, 0, 0, 0, time.UTC).Unix() {
			t.Errorf("unexpected timestamp %d", resp.Time)
		}
	default:
		t.Fatal("expected the text message to be queued")
	}
	select {
	case resp := <-svc.Responses():
		t.Errorf("own and non-text messages should be ignored, got %+v", resp)
	default:
	}
}

func TestWhatsAppServiceStartWithoutEvents(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sent := mock.Messages(); len(sent) != 1 || sent[0].To != "15551234567" {
		t.Errorf("unexpected sends %+v", sent)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
