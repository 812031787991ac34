// Package dialogue implements the booking conversation state machine.
//
// Every user message enters at StageIntent. Stages mutate the conversation
// state in place and a routing function per stage picks the next one, until
// the invocation reaches StageEnd or Fallback hands control back to the user.
package dialogue

import (
	"errors"
	"fmt"
)

// Stage is a node of the dialogue state machine.
type Stage int

const (
	StageIntent Stage = iota
	StageDateTime
	StageMode
	StageConfirm
	StageFallback
	StageEnd
)

var stageNames = map[Stage]string{
	StageIntent:   "intent",
	StageDateTime: "datetime",
	StageMode:     "mode",
	StageConfirm:  "confirm",
	StageFallback: "fallback",
	StageEnd:      "end",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ErrStore wraps appointment store failures surfaced by Run.
var ErrStore = errors.New("appointment store failure")

// Assistant messages.
const (
	MsgIntentFallback      = "I didn't catch what you want to do. Do you want to book, cancel, or reschedule?"
	MsgDateTimeFallback    = "I couldn't understand the date/time. Please provide a date (e.g., 2025-10-24) and time (e.g., 14:00)."
	MsgDateTimeExplicit    = "I couldn't understand the date/time. Please provide a specific date (YYYY-MM-DD) and time (HH:MM)."
	MsgConflictUnavailable = "That time is unavailable. Please propose another time."
	MsgTryAgain            = "Let's try again. What would you like to do?"
	MsgUserConflict        = "You already have an appointment at this time. Suggest another time."
	MsgCancelled           = "Your latest appointment has been cancelled."
	MsgNothingToCancel     = "No appointment found to cancel."
	MsgNothingToReschedule = "No existing appointment to reschedule."
	MsgStoreFailure        = "Sorry, I couldn't update your appointments right now. Please try again in a moment."
)

// Fallback reasons recorded on the state.
const (
	ReasonUnclearIntent   = "Unclear intent"
	ReasonInvalidDateTime = "Invalid or missing date/time"
)

// SlotTakenMessage is the reason recorded when any user already holds date and clock.
func SlotTakenMessage(date, clock string) string {
	return fmt.Sprintf("A booking already exists at %s %s. Please provide a different time.", date, clock)
}
