// Package models holds the data shared across BookingPipe: the conversation
// state threaded through the dialogue, appointment records, inbound channel
// messages and the HTTP envelope.
package models

import "errors"

// MaxMessageLength is the longest user message accepted by the dialogue.
const MaxMessageLength = 2000

var (
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrEmptySender     = errors.New("sender cannot be empty")
	ErrInvalidDate     = errors.New("date must use the YYYY-MM-DD format")
	ErrInvalidTime     = errors.New("time must use the HH:MM format")
	ErrInvalidMode     = errors.New("mode must be virtual or telephonic")
	ErrMissingUserID   = errors.New("user id is required")
	ErrMissingSlotInfo = errors.New("date and time are required")
)

// Response represents an incoming message from a channel participant.
type Response struct {
	ID   string `json:"id,omitempty"` // channel message id, used for redelivery dedup
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Validate checks that the inbound message carries a sender and a usable body.
func (r Response) Validate() error {
	if r.From == "" {
		return ErrEmptySender
	}
	return ValidateMessage(r.Body)
}

// ValidateMessage checks a raw user utterance before it enters the dialogue.
func ValidateMessage(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
