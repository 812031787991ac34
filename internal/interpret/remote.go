package interpret

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

// maxRemoteResponseBytes caps the body read from a remote interpretation server.
const maxRemoteResponseBytes = 1 << 20

// Remote calls an interpretation server speaking the /task wire format.
type Remote struct {
	endpoint string
	client   *http.Client
}

var _ Service = (*Remote)(nil)

// NewRemote creates a client for endpoint (the server base URL, without /task).
// A nil client gets one with the given timeout.
func NewRemote(endpoint string, client *http.Client, timeout time.Duration) *Remote {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Remote{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

// Call posts one task and decodes the JSON object answer.
func (r *Remote) Call(ctx context.Context, req TaskRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/task", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build task request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Remote.Call: posting task", "endpoint", r.endpoint, "task", req.Key())
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote task %s failed: %w", req.Key(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote task %s returned status %d", req.Key(), resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: remote answer is not a JSON object: %v", ErrInvalidResult, err)
	}
	if len(out) == 0 {
		return nil, ErrNoResult
	}
	return out, nil
}

func (r *Remote) ClassifyIntent(ctx context.Context, text string, labels []models.Intent) (models.Intent, error) {
	out, err := r.Call(ctx, intentRequest(text, labels))
	if err != nil {
		return "", err
	}
	return models.Intent(payloadString(out, "intent")), nil
}

func (r *Remote) ExtractDateTime(ctx context.Context, text string) (DateTime, error) {
	out, err := r.Call(ctx, dateTimeRequest(text))
	if err != nil {
		return DateTime{}, err
	}
	return DateTime{
		Date: payloadString(out, "date"),
		Day:  payloadString(out, "day"),
		Time: payloadString(out, "time"),
	}, nil
}

func (r *Remote) InferMode(ctx context.Context, text string) (models.Mode, error) {
	out, err := r.Call(ctx, modeRequest(text))
	if err != nil {
		return "", err
	}
	return models.Mode(strings.ToLower(payloadString(out, "mode"))), nil
}

func (r *Remote) GenerateConfirmation(ctx context.Context, req ConfirmationRequest) (string, error) {
	out, err := r.Call(ctx, confirmationRequest(req))
	if err != nil {
		return "", err
	}
	return payloadString(out, "text"), nil
}
