package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/twiliowhatsapp"
)

// TwilioChannel is the channel name of TwilioService.
const TwilioChannel = "twilio"

var _ Service = (*TwilioService)(nil)

// TwilioService sends through the Twilio REST API and receives through its webhook.
type TwilioService struct {
	client twiliowhatsapp.Sender
	inbox  *inbox
	now    func() time.Time
}

// NewTwilioService wraps a Twilio sender (real client or MockClient).
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client: client,
		inbox:  newInbox(TwilioChannel),
		now:    time.Now,
	}
}

func (s *TwilioService) Name() string { return TwilioChannel }

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalPhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService.ValidateAndCanonicalizeRecipient: canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op: inbound messages arrive through WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

func (s *TwilioService) Stop() error {
	s.inbox.close()
	return nil
}

func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, canonical, body)
}

func (s *TwilioService) Responses() <-chan models.Response {
	return s.inbox.responses
}

// WebhookHandler accepts Twilio's inbound message form (From, Body, MessageSid)
// and queues it on Responses.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	slog.Info("TwilioService.WebhookHandler: inbound message", "from", from, "body_length", len(body))

	if !s.inbox.emit(models.Response{
		ID:   r.FormValue("MessageSid"),
		From: from,
		Body: body,
		Time: s.now().Unix(),
	}) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
