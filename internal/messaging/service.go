// Package messaging connects chat channels to the booking assistant.
//
// Each channel implements Service; the Dispatcher drains every service's
// inbound messages, runs them through the assistant and sends the replies back.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size of a service's inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for buffer space
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest accepted canonical phone number
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a pluggable chat channel.
type Service interface {
	// Name identifies the channel in session ids, logs and metrics.
	Name() string

	// ValidateAndCanonicalizeRecipient validates a recipient and returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the Responses channel.
	Stop() error

	// Responses returns a channel of inbound participant messages.
	Responses() <-chan models.Response
}

// canonicalPhone strips everything but digits from a phone number.
// "whatsapp:+1 (555) 123-4567" becomes "15551234567".
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}

// inbox is the buffered inbound queue shared by the channel implementations.
type inbox struct {
	name      string
	mu        sync.RWMutex
	responses chan models.Response
	stopped   bool
}

func newInbox(name string) *inbox {
	return &inbox{name: name, responses: make(chan models.Response, DefaultChannelBufferSize)}
}

// emit queues resp, dropping it when the service is stopped or the buffer stays full.
func (b *inbox) emit(resp models.Response) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn("inbox.emit: service stopped, dropping message", "channel", b.name, "from", resp.From)
		return false
	}
	select {
	case b.responses <- resp:
		slog.Debug("inbox.emit: queued inbound message", "channel", b.name, "from", resp.From)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("inbox.emit: channel blocked, dropping message", "channel", b.name, "from", resp.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// close marks the inbox stopped and closes its channel once.
func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.responses)
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}
