package interpret

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/models"
)

// DefaultTimeout bounds each backend call made by a Resolver.
const DefaultTimeout = 5 * time.Second

// Backend is a named Service in a Resolver chain.
type Backend struct {
	Name    string
	Service Service
}

// ResolverOpts configures a Resolver.
type ResolverOpts struct {
	Backends []Backend
	Local    *Local
	Timeout  time.Duration
	Metrics  *metrics.Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*ResolverOpts)

// WithBackend appends a backend; backends are tried in the order added, before Local.
func WithBackend(name string, svc Service) ResolverOption {
	return func(o *ResolverOpts) { o.Backends = append(o.Backends, Backend{Name: name, Service: svc}) }
}

// WithLocal replaces the Local interpreter used last and for datetime repair.
func WithLocal(l *Local) ResolverOption {
	return func(o *ResolverOpts) { o.Local = l }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ResolverOption {
	return func(o *ResolverOpts) { o.Timeout = d }
}

// WithMetrics records per-backend outcomes.
func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(o *ResolverOpts) { o.Metrics = m }
}

// Resolver tries each backend in turn and returns the first valid answer,
// or the caller's fallback. It never returns an error.
type Resolver struct {
	backends []Backend
	local    *Local
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewResolver builds a chain ending with the Local interpreter.
func NewResolver(opts ...ResolverOption) *Resolver {
	cfg := ResolverOpts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Local == nil {
		cfg.Local = NewLocal(nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	chain := append([]Backend(nil), cfg.Backends...)
	chain = append(chain, Backend{Name: "local", Service: cfg.Local})
	names := make([]string, len(chain))
	for i, b := range chain {
		names[i] = b.Name
	}
	slog.Debug("interpret.NewResolver: backend chain", "backends", strings.Join(names, ","), "timeout", cfg.Timeout)
	return &Resolver{backends: chain, local: cfg.Local, timeout: cfg.Timeout, metrics: cfg.Metrics}
}

// resolve runs call on every backend until accept approves a result.
func resolve[T any](ctx context.Context, r *Resolver, task string, call func(context.Context, Service) (T, error), accept func(T) (T, bool)) (T, bool) {
	var zero T
	for _, b := range r.backends {
		if ctx.Err() != nil {
			break
		}
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		v, err := call(cctx, b.Service)
		cancel()
		elapsed := time.Since(start).Seconds()

		if err != nil {
			result := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				result = "timeout"
			} else if errors.Is(err, ErrNoResult) {
				result = "empty"
			}
			r.metrics.ObserveInterpretation(task, b.Name, result, elapsed)
			if result != "empty" {
				slog.Warn("Resolver.resolve: backend failed", "task", task, "backend", b.Name, "error", err)
			}
			continue
		}
		out, ok := accept(v)
		if !ok {
			r.metrics.ObserveInterpretation(task, b.Name, "invalid", elapsed)
			slog.Warn("Resolver.resolve: backend answer rejected", "task", task, "backend", b.Name, "answer", v)
			continue
		}
		r.metrics.ObserveInterpretation(task, b.Name, "ok", elapsed)
		slog.Debug("Resolver.resolve: answered", "task", task, "backend", b.Name, "answer", out)
		return out, true
	}
	r.metrics.ObserveInterpretation(task, "fallback", "ok", 0)
	return zero, false
}

// ClassifyIntent returns an intent from labels, or fallback.
func (r *Resolver) ClassifyIntent(ctx context.Context, text string, labels []models.Intent, fallback models.Intent) models.Intent {
	v, ok := resolve(ctx, r, TaskClassifyIntent,
		func(ctx context.Context, s Service) (models.Intent, error) { return s.ClassifyIntent(ctx, text, labels) },
		func(i models.Intent) (models.Intent, bool) {
			i = models.Intent(strings.ToLower(strings.TrimSpace(string(i))))
			return i, containsLabel(labels, i)
		})
	if !ok {
		return fallback
	}
	return v
}

// ExtractDateTime returns a complete slot, or fallback. Partial answers are
// completed with the local parser before being accepted.
func (r *Resolver) ExtractDateTime(ctx context.Context, text string, fallback DateTime) DateTime {
	v, ok := resolve(ctx, r, TaskExtractDateTime,
		func(ctx context.Context, s Service) (DateTime, error) { return s.ExtractDateTime(ctx, text) },
		func(dt DateTime) (DateTime, bool) {
			dt = normalizeDateTime(dt)
			if dt.Complete() {
				return dt, true
			}
			if dt.IsZero() {
				return dt, false
			}
			return r.repair(text, dt)
		})
	if !ok {
		return fallback
	}
	return v
}

// repair fills missing fields of a partial slot from the local parser.
func (r *Resolver) repair(text string, dt DateTime) (DateTime, bool) {
	local := r.local.Parse(text)
	if dt.Date == "" {
		dt.Date, dt.Day = local.Date, local.Day
	}
	if dt.Time == "" {
		dt.Time = local.Time
	}
	dt = normalizeDateTime(dt)
	return dt, dt.Complete()
}

// InferMode returns a supported mode, or fallback.
func (r *Resolver) InferMode(ctx context.Context, text string, fallback models.Mode) models.Mode {
	v, ok := resolve(ctx, r, TaskInferMode,
		func(ctx context.Context, s Service) (models.Mode, error) { return s.InferMode(ctx, text) },
		func(m models.Mode) (models.Mode, bool) { return m, m.IsValid() })
	if !ok {
		return fallback
	}
	return v
}

// GenerateConfirmation returns a non-empty sentence, or fallback.
func (r *Resolver) GenerateConfirmation(ctx context.Context, req ConfirmationRequest, fallback string) string {
	v, ok := resolve(ctx, r, TaskGenerateConfirmation,
		func(ctx context.Context, s Service) (string, error) { return s.GenerateConfirmation(ctx, req) },
		func(text string) (string, bool) {
			text = strings.TrimSpace(text)
			return text, text != ""
		})
	if !ok {
		return fallback
	}
	return v
}
