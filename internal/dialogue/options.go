package dialogue

import (
	"time"

	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/models"
)

// DefaultMaxSteps bounds the stage executions of one Run.
const DefaultMaxSteps = 16

// RetryPolicy bounds repeated extraction failures. Once the attempt count
// reaches MaxAttempts the stage stops with TerminalMessage and waits for input.
type RetryPolicy struct {
	MaxAttempts     int
	TerminalMessage string
}

// DefaultDateTimeRetry asks for an explicit format after two failed extractions.
var DefaultDateTimeRetry = RetryPolicy{MaxAttempts: 2, TerminalMessage: MsgDateTimeExplicit}

// Next returns the attempt count after one more failure. The count saturates:
// once it reaches MaxAttempts further failures return MaxAttempts unchanged,
// so a stored count never exceeds the policy limit.
func (p RetryPolicy) Next(attempts int) int {
	if attempts >= p.MaxAttempts {
		return p.MaxAttempts
	}
	return attempts + 1
}

// Exhausted reports whether attempts has reached the limit.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// StageObserver is called with the state after every stage execution.
type StageObserver func(stage Stage, st *models.ConversationState)

// Opts holds orchestrator configuration.
type Opts struct {
	DateTimeRetry   RetryPolicy
	MaxSteps        int
	ContinuePending bool
	Metrics         *metrics.Metrics
	Observer        StageObserver
	Now             func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Opts)

// WithDateTimeRetry replaces the date/time retry policy.
func WithDateTimeRetry(p RetryPolicy) Option {
	return func(o *Opts) { o.DateTimeRetry = p }
}

// WithMaxSteps sets the stage budget of one Run.
func WithMaxSteps(n int) Option {
	return func(o *Opts) { o.MaxSteps = n }
}

// WithPendingContinuation keeps an unfinished book, cancel or reschedule
// operation when a follow-up message does not state an intent of its own.
func WithPendingContinuation(enabled bool) Option {
	return func(o *Opts) { o.ContinuePending = enabled }
}

// WithMetrics records stage transitions, turns and store operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithStageObserver registers a callback run after each stage.
func WithStageObserver(fn StageObserver) Option {
	return func(o *Opts) { o.Observer = fn }
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{
		DateTimeRetry: DefaultDateTimeRetry,
		MaxSteps:      DefaultMaxSteps,
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DateTimeRetry.MaxAttempts < 1 {
		cfg.DateTimeRetry.MaxAttempts = DefaultDateTimeRetry.MaxAttempts
	}
	if cfg.DateTimeRetry.TerminalMessage == "" {
		cfg.DateTimeRetry.TerminalMessage = DefaultDateTimeRetry.TerminalMessage
	}
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}
