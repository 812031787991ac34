// Package genai provides text generation over hosted LLM APIs (OpenAI and Gemini).
//
// Callers depend on the Generator interface; the interpretation layer builds
// its prompt-driven backend on top of it.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults applied when options leave a field unset.
const (
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultGeminiModel  = "gemini-2.5-flash"
	DefaultTemperature  = 0.1
	DefaultMaxTokens    = 256
	debugDirName        = "debug"
	debugFilePermission = 0644
)

// ErrNoChoicesReturned is returned when the provider answers without any completion.
var ErrNoChoicesReturned = errors.New("no choices returned")

// Generator produces a completion for a system and user prompt pair.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter exposes the SDK completion service as a chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the OpenAI and Gemini clients.
type Opts struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option configures a client.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the OpenAI client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request/response pair under <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

func applyOpts(opts []Option, defaultModel string) Opts {
	cfg := Opts{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	return cfg
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

var _ Generator = (*Client)(nil)

// NewClient initializes an OpenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := applyOpts(opts, DefaultOpenAIModel)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: OpenAI client ready", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")
	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(ctx, systemPrompt, userPrompt)
}

// GeneratePrompt generates a response without a caller context.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext generates a response based on the provided system and user prompts.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Warn("Client.GeneratePromptWithContext: completion failed", "error", err, "model", c.model)
		return "", err
	}
	c.writeDebugLog("GeneratePromptWithContext", params, resp)
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	out := resp.Choices[0].Message.Content
	slog.Debug("Client.GeneratePromptWithContext: completion received", "model", c.model, "chars", len(out), "elapsed", time.Since(start))
	return out, nil
}

// writeDebugLog stores one JSON file per call when debug mode is on. Failures only log.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, debugDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("Client.writeDebugLog: create directory failed", "error", err, "dir", dir)
		return
	}
	now := time.Now().UTC()
	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: encode failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), strings.ToLower(method))
	if err := os.WriteFile(filepath.Join(dir, name), data, debugFilePermission); err != nil {
		slog.Warn("Client.writeDebugLog: write failed", "error", err)
	}
}
