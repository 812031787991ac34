// Package models defines state management structures for BookingPipe conversations.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single immutable message in a session.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Intent is the coarse user goal detected for the latest utterance.
type Intent string

const (
	IntentBook       Intent = "book"
	IntentCancel     Intent = "cancel"
	IntentReschedule Intent = "reschedule"
	IntentQuery      Intent = "query"
	IntentOther      Intent = "other"
)

// IntentLabels lists every label the intent classifier may return.
var IntentLabels = []Intent{IntentBook, IntentCancel, IntentReschedule, IntentQuery, IntentOther}

// Operation returns the write operation triggered by the intent, or "" when none.
func (i Intent) Operation() Operation {
	switch i {
	case IntentBook:
		return OperationBook
	case IntentCancel:
		return OperationCancel
	case IntentReschedule:
		return OperationReschedule
	default:
		return ""
	}
}

// Operation is the subset of intents that mutate the appointment store.
type Operation string

const (
	OperationBook       Operation = "book"
	OperationCancel     Operation = "cancel"
	OperationReschedule Operation = "reschedule"
)

// NeedsSlot reports whether the operation collects a date, time and mode.
func (o Operation) NeedsSlot() bool {
	return o == OperationBook || o == OperationReschedule
}

// FallbackStage names the stage that paused the flow.
type FallbackStage string

const (
	FallbackStageIntent   FallbackStage = "intent"
	FallbackStageDateTime FallbackStage = "datetime"
	FallbackStageConflict FallbackStage = "conflict"
)

// Invariant violations reported by ConversationState.CheckInvariants.
var (
	ErrWaitingAndDone       = errors.New("state is both waiting for input and done")
	ErrFallbackMismatch     = errors.New("fallback reason and fallback stage must be set together")
	ErrOperationWithoutGoal = errors.New("operation set for a non-actionable intent")
)

// ConversationState is the working memory of one conversation.
// It is owned by a single dialogue invocation at a time.
type ConversationState struct {
	SessionID        string                 `json:"session_id"`
	Turns            []ConversationTurn     `json:"turns"`
	Intent           Intent                 `json:"intent,omitempty"`
	Operation        Operation              `json:"operation,omitempty"`
	Appointment      Appointment            `json:"appointment"`
	Conflicts        []PersistedAppointment `json:"conflicts,omitempty"`
	FallbackReason   string                 `json:"fallback_reason,omitempty"`
	FallbackStage    FallbackStage          `json:"fallback_stage,omitempty"`
	// DateTimeAttempts counts failed date/time extractions. It is capped at the
	// retry policy's MaxAttempts rather than growing with every failure.
	DateTimeAttempts int                    `json:"datetime_attempts"`
	WaitingForInput  bool                   `json:"waiting_for_input"`
	Done             bool                   `json:"done"`
	ConflictPending  bool                   `json:"conflict_pending,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// NewConversationState creates an empty state for the given session and user.
func NewConversationState(sessionID, userID string) *ConversationState {
	return &ConversationState{
		SessionID:   sessionID,
		Turns:       []ConversationTurn{},
		Appointment: Appointment{UserID: userID},
	}
}

// AddUserTurn appends a user message.
func (s *ConversationState) AddUserTurn(content string) {
	s.Turns = append(s.Turns, ConversationTurn{Role: RoleUser, Content: content})
}

// AddAssistantTurn appends an assistant message.
func (s *ConversationState) AddAssistantTurn(content string) {
	s.Turns = append(s.Turns, ConversationTurn{Role: RoleAssistant, Content: content})
}

// LatestUserText returns the content of the most recent user turn.
func (s *ConversationState) LatestUserText() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleUser {
			return s.Turns[i].Content
		}
	}
	return ""
}

// AssistantTurnsSince returns assistant messages appended after index from.
func (s *ConversationState) AssistantTurnsSince(from int) []string {
	var out []string
	if from < 0 {
		from = 0
	}
	for i := from; i < len(s.Turns); i++ {
		if s.Turns[i].Role == RoleAssistant {
			out = append(out, s.Turns[i].Content)
		}
	}
	return out
}

// SetFallback records why and where the flow paused.
func (s *ConversationState) SetFallback(reason string, stage FallbackStage) {
	s.FallbackReason = reason
	s.FallbackStage = stage
}

// ClearFallback forgets any pending fallback.
func (s *ConversationState) ClearFallback() {
	s.FallbackReason = ""
	s.FallbackStage = ""
}

// HasFallback reports whether a stage raised a fallback.
func (s *ConversationState) HasFallback() bool {
	return s.FallbackReason != ""
}

// CheckInvariants validates the cross-field rules of the state.
func (s *ConversationState) CheckInvariants() error {
	if s.WaitingForInput && s.Done {
		return ErrWaitingAndDone
	}
	if (s.FallbackReason == "") != (s.FallbackStage == "") {
		return fmt.Errorf("%w: reason=%q stage=%q", ErrFallbackMismatch, s.FallbackReason, s.FallbackStage)
	}
	if s.Operation != "" && s.Intent.Operation() != s.Operation {
		return fmt.Errorf("%w: intent=%q operation=%q", ErrOperationWithoutGoal, s.Intent, s.Operation)
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = append([]ConversationTurn(nil), s.Turns...)
	c.Conflicts = append([]PersistedAppointment(nil), s.Conflicts...)
	return &c
}

// MarshalState encodes the state for session persistence.
func MarshalState(s *ConversationState) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState decodes a persisted state.
func UnmarshalState(data []byte) (*ConversationState, error) {
	var s ConversationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Turns == nil {
		s.Turns = []ConversationTurn{}
	}
	return &s, nil
}
