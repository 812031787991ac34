package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gemini "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrEmptyContent is returned when Gemini answers with no text parts.
var ErrEmptyContent = errors.New("gemini returned empty content")

// GeminiClient implements Generator with Google's Gemini API.
type GeminiClient struct {
	client      *gemini.Client
	modelID     string
	temperature float32
	maxTokens   int32
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini-backed Generator. An API key is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := applyOpts(opts, DefaultGeminiModel)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := gemini.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	slog.Debug("genai.NewGeminiClient: Gemini client ready", "model", cfg.Model)
	return &GeminiClient{
		client:      client,
		modelID:     cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Generate implements Generator.
func (c *GeminiClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(c.temperature)
	if c.maxTokens > 0 {
		model.SetMaxOutputTokens(c.maxTokens)
	}
	if strings.TrimSpace(systemPrompt) != "" {
		model.SystemInstruction = gemini.NewUserContent(gemini.Text(systemPrompt))
	}
	resp, err := model.GenerateContent(ctx, gemini.Text(userPrompt))
	if err != nil {
		slog.Warn("GeminiClient.Generate: completion failed", "error", err, "model", c.modelID)
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	return geminiText(resp)
}

// geminiText concatenates the text parts of the first candidate.
func geminiText(resp *gemini.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoChoicesReturned
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrEmptyContent
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(gemini.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyContent
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}
