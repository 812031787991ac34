package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/BookingPipe/internal/assistant"
	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/store"
)

// MsgApology is sent when a message could not be processed at all.
const MsgApology = "Sorry, something went wrong on our side. Please try again."

// Inbound status labels.
const (
	statusProcessed  = "processed"
	statusDuplicate  = "duplicate"
	statusInvalid    = "invalid"
	statusError      = "error"
	statusSendFailed = "send_failed"
)

// MessageHandler answers one user message. *assistant.Service implements it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sessionID, userID, text string) (*assistant.Reply, error)
}

var _ MessageHandler = (*assistant.Service)(nil)

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	Dedup   store.DedupRepo
	Metrics *metrics.Metrics
}

// DispatcherOption defines a configuration option for the Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithDedup drops messages whose channel id was already recorded.
func WithDedup(d store.DedupRepo) DispatcherOption {
	return func(o *DispatcherOpts) { o.Dedup = d }
}

// WithDispatcherMetrics counts inbound messages by channel and status.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(o *DispatcherOpts) { o.Metrics = m }
}

// Dispatcher feeds inbound channel messages to the assistant and sends back its replies.
type Dispatcher struct {
	handler MessageHandler
	opts    DispatcherOpts

	mu       sync.Mutex
	services []Service
}

// NewDispatcher creates a dispatcher around handler.
func NewDispatcher(handler MessageHandler, opts ...DispatcherOption) *Dispatcher {
	var cfg DispatcherOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{handler: handler, opts: cfg}
}

// Register adds a channel. It must be called before Run.
func (d *Dispatcher) Register(svc Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = append(d.services, svc)
	slog.Debug("Dispatcher.Register: channel registered", "channel", svc.Name())
}

// SessionID is the conversation id of a phone number on a channel.
func SessionID(channel, phone string) string {
	return channel + ":" + phone
}

// Run starts every registered service and processes their inbound messages
// until ctx is cancelled or all services have stopped. Messages of one channel
// are handled in arrival order.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	services := append([]Service(nil), d.services...)
	d.mu.Unlock()
	if len(services) == 0 {
		slog.Info("Dispatcher.Run: no channels registered")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		if err := svc.Start(gctx); err != nil {
			return fmt.Errorf("failed to start %s channel: %w", svc.Name(), err)
		}
		g.Go(func() error {
			d.drain(gctx, svc)
			return nil
		})
	}
	slog.Info("Dispatcher.Run: channels started", "count", len(services))
	err := g.Wait()

	for _, svc := range services {
		if stopErr := svc.Stop(); stopErr != nil {
			slog.Warn("Dispatcher.Run: failed to stop channel", "channel", svc.Name(), "error", stopErr)
		}
	}
	return err
}

func (d *Dispatcher) drain(ctx context.Context, svc Service) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-svc.Responses():
			if !ok {
				slog.Info("Dispatcher.drain: channel closed", "channel", svc.Name())
				return
			}
			if err := d.Handle(ctx, svc, resp); err != nil {
				slog.Error("Dispatcher.drain: failed to handle message", "channel", svc.Name(), "from", resp.From, "error", err)
			}
		}
	}
}

// Handle processes one inbound message: validation, redelivery check, the
// assistant turn and the replies. Processing failures still answer the user.
func (d *Dispatcher) Handle(ctx context.Context, svc Service, resp models.Response) error {
	channel := svc.Name()
	resp.Body = strings.TrimSpace(resp.Body)
	if err := resp.Validate(); err != nil {
		d.opts.Metrics.ObserveInbound(channel, statusInvalid)
		return fmt.Errorf("invalid inbound message: %w", err)
	}
	phone, err := svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		d.opts.Metrics.ObserveInbound(channel, statusInvalid)
		return fmt.Errorf("invalid sender: %w", err)
	}

	if d.opts.Dedup != nil && resp.ID != "" {
		fresh, err := d.opts.Dedup.RecordInbound(ctx, resp.ID, phone)
		switch {
		case err != nil:
			slog.Warn("Dispatcher.Handle: dedup check failed, processing anyway", "id", resp.ID, "error", err)
		case !fresh:
			slog.Info("Dispatcher.Handle: duplicate message ignored", "channel", channel, "id", resp.ID)
			d.opts.Metrics.ObserveInbound(channel, statusDuplicate)
			return nil
		}
	}

	reply, runErr := d.handler.HandleMessage(ctx, SessionID(channel, phone), phone, resp.Body)
	messages := replyMessages(reply, runErr)
	if runErr != nil {
		slog.Error("Dispatcher.Handle: assistant failed", "channel", channel, "from", phone, "error", runErr)
	}

	for _, msg := range messages {
		if err := svc.SendMessage(ctx, phone, msg); err != nil {
			d.opts.Metrics.ObserveInbound(channel, statusSendFailed)
			return errors.Join(runErr, fmt.Errorf("failed to reply on %s: %w", channel, err))
		}
	}

	if d.opts.Dedup != nil && resp.ID != "" {
		if err := d.opts.Dedup.MarkProcessed(ctx, resp.ID); err != nil {
			slog.Warn("Dispatcher.Handle: failed to mark processed", "id", resp.ID, "error", err)
		}
	}
	if runErr != nil {
		d.opts.Metrics.ObserveInbound(channel, statusError)
		return runErr
	}
	d.opts.Metrics.ObserveInbound(channel, statusProcessed)
	return nil
}

// replyMessages picks what to send back: the assistant's turns when there are
// any, else an apology when the turn failed.
func replyMessages(reply *assistant.Reply, err error) []string {
	if reply != nil && len(reply.Messages) > 0 {
		return reply.Messages
	}
	if err != nil {
		return []string{MsgApology}
	}
	return nil
}
