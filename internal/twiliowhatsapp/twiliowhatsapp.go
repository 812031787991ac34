// Package twiliowhatsapp sends WhatsApp messages through the Twilio REST API.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends plain text WhatsApp messages.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = (*MockClient)(nil)
)

// Opts holds the Twilio credentials and the sending number.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // sending number, with or without the "whatsapp:" prefix
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the WhatsApp-enabled sending number.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST client.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

// resolveOpts applies opts and fills unset values from TWILIO_* variables.
func resolveOpts(opts []Option) (Opts, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("twiliowhatsapp: config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return cfg, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return cfg, fmt.Errorf("sending WhatsApp number must be provided")
	}
	cfg.FromWhats = whatsappAddress(cfg.FromWhats)
	return cfg, nil
}

// whatsappAddress prefixes a phone number with Twilio's "whatsapp:" channel marker.
func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}

// NewClient creates a Twilio sender. Unset options fall back to the environment.
func NewClient(opts ...Option) (*Client, error) {
	cfg, err := resolveOpts(opts)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		fromWhats: cfg.FromWhats,
	}, nil
}

// SendMessage sends body to the phone number to.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Client.SendMessage: sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// SentMessage records one send made through MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records sends instead of calling Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded sends.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
