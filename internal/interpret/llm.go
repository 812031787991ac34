package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/genai"
	"github.com/BTreeMap/BookingPipe/internal/models"
)

// maxConfirmationLength bounds a generated confirmation sentence.
const maxConfirmationLength = 300

const (
	intentSystemPrompt       = "You classify requests sent to an appointment booking assistant. Answer with exactly one label and nothing else."
	dateTimeSystemPrompt     = "You extract appointment slots from user messages. Respond only with a JSON object with keys date, day and time. Use null for anything you are unsure about."
	modeSystemPrompt         = "You infer how an appointment will be held. Answer with one word: virtual or telephonic."
	confirmationSystemPrompt = "You write one short, friendly sentence confirming an appointment. Include the mode, weekday, date and time exactly as given."
)

// LLM interprets text by prompting a genai.Generator.
type LLM struct {
	gen genai.Generator
	now func() time.Time
}

var _ Service = (*LLM)(nil)

// NewLLM creates an LLM backend. A nil now uses time.Now.
func NewLLM(gen genai.Generator, now func() time.Time) *LLM {
	if now == nil {
		now = time.Now
	}
	return &LLM{gen: gen, now: now}
}

func (l *LLM) ClassifyIntent(ctx context.Context, text string, labels []models.Intent) (models.Intent, error) {
	names := make([]string, len(labels))
	for i, lbl := range labels {
		names[i] = string(lbl)
	}
	prompt := "Classify the intent of the user as one of: " + strings.Join(names, ", ") + ". Just answer with the label.\nUser: " + text
	out, err := l.gen.Generate(ctx, intentSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	answer := strings.ToLower(strings.TrimSpace(out))
	for _, lbl := range labels {
		if answer == string(lbl) {
			return lbl, nil
		}
	}
	for _, lbl := range labels {
		if strings.Contains(answer, string(lbl)) {
			return lbl, nil
		}
	}
	return "", fmt.Errorf("%w: intent answer %q", ErrInvalidResult, out)
}

// llmDateTime accepts nulls for any field.
type llmDateTime struct {
	Date *string `json:"date"`
	Day  *string `json:"day"`
	Time *string `json:"time"`
}

func (l *LLM) ExtractDateTime(ctx context.Context, text string) (DateTime, error) {
	now := l.now()
	prompt := fmt.Sprintf("Today is %s (%s). Extract the future date (YYYY-MM-DD), day (Weekday) and time (HH:MM, 24-hour) from the text.\nText: %s",
		now.Format(models.DateLayout), now.Weekday(), text)
	out, err := l.gen.Generate(ctx, dateTimeSystemPrompt, prompt)
	if err != nil {
		return DateTime{}, err
	}
	var parsed llmDateTime
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &parsed); err != nil {
		return DateTime{}, fmt.Errorf("%w: datetime answer is not JSON: %v", ErrInvalidResult, err)
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return strings.TrimSpace(*p)
	}
	return DateTime{Date: deref(parsed.Date), Day: deref(parsed.Day), Time: deref(parsed.Time)}, nil
}

func (l *LLM) InferMode(ctx context.Context, text string) (models.Mode, error) {
	out, err := l.gen.Generate(ctx, modeSystemPrompt, "Infer appointment mode as 'virtual' or 'telephonic'. Answer with one word.\nText: "+text)
	if err != nil {
		return "", err
	}
	answer := strings.ToLower(out)
	if strings.Contains(answer, "tele") || strings.Contains(answer, "phone") {
		return models.ModeTelephonic, nil
	}
	return models.ModeVirtual, nil
}

func (l *LLM) GenerateConfirmation(ctx context.Context, req ConfirmationRequest) (string, error) {
	prompt := fmt.Sprintf("Mode: %s\nWeekday: %s\nDate: %s\nTime: %s", req.Mode, req.Day, req.Date, req.Time)
	out, err := l.gen.Generate(ctx, confirmationSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out)
	if text == "" || len(text) > maxConfirmationLength {
		return "", fmt.Errorf("%w: confirmation length %d", ErrInvalidResult, len(text))
	}
	return text, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
