// Package whatsapp wraps the Whatsmeow client used by the BookingPipe WhatsApp channel.
//
// It owns device-store setup, the QR login flow and plain text sends.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/BookingPipe/internal/store"
)

const (
	// DefaultSQLitePath is the default location of the whatsmeow device database
	DefaultSQLitePath = "/var/lib/bookingpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Sender sends plain text WhatsApp messages.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = (*MockClient)(nil)
)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device store connection string
	QRPath      string // file receiving the login QR code; stdout when empty
	NumericCode bool   // print the raw pairing code instead of a QR block
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow device store connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the pairing code as text.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client is a connected whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// driverFor maps a device store DSN to its database/sql driver name.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == store.DriverPostgres {
		return store.DriverPostgres
	}
	return store.DriverSQLite
}

// missingForeignKeys reports whether an SQLite DSN leaves foreign keys off.
// whatsmeow relies on them for cascading device deletes.
func missingForeignKeys(dsn string) bool {
	if driverFor(dsn) != store.DriverSQLite {
		return false
	}
	return !strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store, logs in when no device is paired yet, and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultSQLitePath
		slog.Debug("whatsapp.NewClient: no device store DSN, using default", "path", dsn)
	}
	driver := driverFor(dsn)
	if missingForeignKeys(dsn) {
		slog.Warn("whatsapp.NewClient: SQLite device store without foreign keys, add ?_foreign_keys=on",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	waClient := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID != nil {
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp: %w", err)
		}
		slog.Info("whatsapp.NewClient: connected", "driver", driver)
		return &Client{waClient: waClient}, nil
	}

	slog.Info("whatsapp.NewClient: login required, starting pairing flow")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open WhatsApp QR channel: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			waClient.Disconnect()
			return nil, fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsapp.NewClient: login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	slog.Info("whatsapp.NewClient: connected after login")
	return &Client{waClient: waClient}, nil
}

// SendMessage sends body as a plain conversation message to the phone number to.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "body_length", len(body))
	return nil
}

// AddEventHandler registers a whatsmeow event handler.
func (c *Client) AddEventHandler(handler func(evt interface{})) {
	c.waClient.AddEventHandler(handler)
}

// Disconnect closes the WhatsApp connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// SentMessage records one send made through MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records sends instead of contacting WhatsApp.
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
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
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded sends.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
