package interpret

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

// TaskRequest is the body of POST /task.
type TaskRequest struct {
	Agent   string         `json:"agent"`
	Task    string         `json:"task"`
	Payload map[string]any `json:"payload"`
}

// Key returns "agent.task".
func (r TaskRequest) Key() string {
	return r.Agent + "." + r.Task
}

func intentRequest(text string, labels []models.Intent) TaskRequest {
	ls := make([]string, len(labels))
	for i, l := range labels {
		ls[i] = string(l)
	}
	return TaskRequest{Agent: AgentIntent, Task: TaskClassifyIntent, Payload: map[string]any{"text": text, "labels": ls}}
}

func dateTimeRequest(text string) TaskRequest {
	return TaskRequest{Agent: AgentDateTime, Task: TaskExtractDateTime, Payload: map[string]any{"text": text}}
}

func modeRequest(text string) TaskRequest {
	return TaskRequest{Agent: AgentMode, Task: TaskInferMode, Payload: map[string]any{"text": text}}
}

func confirmationRequest(req ConfirmationRequest) TaskRequest {
	return TaskRequest{Agent: AgentConfirmation, Task: TaskGenerateConfirmation, Payload: map[string]any{
		"date": req.Date, "day": req.Day, "time": req.Time, "mode": string(req.Mode),
	}}
}

// Dispatch runs a wire request against svc and returns the wire result.
func Dispatch(ctx context.Context, svc Service, req TaskRequest) (map[string]any, error) {
	switch req.Key() {
	case AgentIntent + "." + TaskClassifyIntent:
		labels := payloadLabels(req.Payload)
		intent, err := svc.ClassifyIntent(ctx, payloadString(req.Payload, "text"), labels)
		if err != nil {
			return nil, err
		}
		return map[string]any{"intent": string(intent)}, nil
	case AgentDateTime + "." + TaskExtractDateTime:
		dt, err := svc.ExtractDateTime(ctx, payloadString(req.Payload, "text"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"date": nullable(dt.Date), "day": nullable(dt.Day), "time": nullable(dt.Time)}, nil
	case AgentMode + "." + TaskInferMode:
		mode, err := svc.InferMode(ctx, payloadString(req.Payload, "text"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"mode": string(mode)}, nil
	case AgentConfirmation + "." + TaskGenerateConfirmation:
		text, err := svc.GenerateConfirmation(ctx, ConfirmationRequest{
			Date: payloadString(req.Payload, "date"),
			Day:  payloadString(req.Payload, "day"),
			Time: payloadString(req.Payload, "time"),
			Mode: models.Mode(payloadString(req.Payload, "mode")),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTask, req.Key())
	}
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// payloadLabels reads the label list; a missing list means every known intent.
func payloadLabels(p map[string]any) []models.Intent {
	raw, ok := p["labels"].([]any)
	if !ok || len(raw) == 0 {
		if typed, ok := p["labels"].([]string); ok && len(typed) > 0 {
			out := make([]models.Intent, len(typed))
			for i, s := range typed {
				out[i] = models.Intent(s)
			}
			return out
		}
		return models.IntentLabels
	}
	out := make([]models.Intent, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, models.Intent(s))
		}
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
