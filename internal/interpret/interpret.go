// Package interpret turns free text into structured guesses for the booking dialogue.
//
// A Service answers the four interpretation tasks (intent classification,
// date/time extraction, mode inference, confirmation wording). Local, Remote
// and LLM are Services; Resolver chains them with timeouts, validation and
// caller-supplied fallbacks so interpretation never fails from the caller's
// point of view.
package interpret

import (
	"context"
	"errors"
	"fmt"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

// Agent and task names of the /task wire format.
const (
	AgentIntent       = "intent"
	AgentDateTime     = "datetime"
	AgentMode         = "mode"
	AgentConfirmation = "confirmation"

	TaskClassifyIntent       = "classify_intent"
	TaskExtractDateTime      = "extract_datetime"
	TaskInferMode            = "infer_mode"
	TaskGenerateConfirmation = "generate_confirmation"
)

var (
	// ErrUnsupportedTask is returned for an unknown agent/task pair.
	ErrUnsupportedTask = errors.New("unsupported interpretation task")
	// ErrInvalidResult is returned when a backend answers with an unusable payload.
	ErrInvalidResult = errors.New("invalid interpretation result")
	// ErrNoResult is returned when a backend has no answer for the input.
	ErrNoResult = errors.New("no interpretation result")
)

// DateTime is an extracted slot. Empty fields were not found.
type DateTime struct {
	Date string `json:"date"`
	Day  string `json:"day"`
	Time string `json:"time"`
}

// Complete reports whether both date and time are present.
func (d DateTime) Complete() bool {
	return d.Date != "" && d.Time != ""
}

// IsZero reports whether nothing was extracted.
func (d DateTime) IsZero() bool {
	return d.Date == "" && d.Day == "" && d.Time == ""
}

// ConfirmationRequest carries the slot a confirmation sentence describes.
type ConfirmationRequest struct {
	Date string      `json:"date"`
	Day  string      `json:"day"`
	Time string      `json:"time"`
	Mode models.Mode `json:"mode"`
}

// Service is an interpretation backend. Implementations may fail; Resolver
// absorbs their errors.
type Service interface {
	ClassifyIntent(ctx context.Context, text string, labels []models.Intent) (models.Intent, error)
	ExtractDateTime(ctx context.Context, text string) (DateTime, error)
	InferMode(ctx context.Context, text string) (models.Mode, error)
	GenerateConfirmation(ctx context.Context, req ConfirmationRequest) (string, error)
}

// ConfirmationText is the deterministic confirmation sentence.
func ConfirmationText(req ConfirmationRequest) string {
	return fmt.Sprintf("Your %s appointment is booked for %s, %s at %s.", req.Mode, req.Day, req.Date, req.Time)
}

func containsLabel(labels []models.Intent, intent models.Intent) bool {
	for _, l := range labels {
		if l == intent {
			return true
		}
	}
	return false
}

// normalizeDateTime validates an extracted slot. Invalid date or time fields
// are dropped; the weekday is always derived from a valid date.
func normalizeDateTime(dt DateTime) DateTime {
	out := DateTime{}
	if models.IsValidDate(dt.Date) {
		out.Date = dt.Date
		out.Day = models.WeekdayOf(dt.Date)
	}
	if models.IsValidTime(dt.Time) {
		out.Time = dt.Time
	}
	return out
}
