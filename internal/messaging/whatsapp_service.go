package messaging

import (
	"context"
	"log/slog"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/whatsapp"
)

// WhatsAppChannel is the channel name of WhatsAppService.
const WhatsAppChannel = "whatsapp"

var _ Service = (*WhatsAppService)(nil)

// eventSource is the part of whatsapp.Client that delivers whatsmeow events.
type eventSource interface {
	AddEventHandler(handler func(evt interface{}))
}

// WhatsAppService implements Service on top of a whatsmeow client.
type WhatsAppService struct {
	client whatsapp.Sender
	events eventSource
	inbox  *inbox
}

// NewWhatsAppService wraps a WhatsApp sender. Inbound events are only
// subscribed when the sender can deliver them (a real *whatsapp.Client).
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{client: client, inbox: newInbox(WhatsAppChannel)}
	if src, ok := client.(eventSource); ok {
		s.events = src
	} else {
		slog.Debug("NewWhatsAppService: sender has no event source, inbound disabled")
	}
	return s
}

func (s *WhatsAppService) Name() string { return WhatsAppChannel }

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start subscribes to incoming messages.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.events == nil {
		return nil
	}
	s.events.AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

func (s *WhatsAppService) Stop() error {
	s.inbox.close()
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonical)
		return err
	}
	return nil
}

func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.inbox.responses
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	if msg, ok := evt.(*events.Message); ok {
		s.handleIncomingMessage(msg)
	}
}

// handleIncomingMessage queues text messages from other users. Media, group
// chats and our own messages are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = evt.Message.GetConversation()
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = evt.Message.ExtendedTextMessage.GetText()
	default:
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}
	s.inbox.emit(models.Response{
		ID:   string(evt.Info.ID),
		From: "+" + evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	})
}
