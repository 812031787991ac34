package interpret

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeService answers with canned values and counts calls.
type fakeService struct {
	intent       models.Intent
	dateTime     DateTime
	mode         models.Mode
	confirmation string
	err          error
	delay        time.Duration
	calls        int
}

func (f *fakeService) wait(ctx context.Context) error {
	f.calls++
	if f.delay == 0 {
		return f.err
	}
	select {
	case <-time.After(f.delay):
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeService) ClassifyIntent(ctx context.Context, text string, labels []models.Intent) (models.Intent, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.intent, nil
}

func (f *fakeService) ExtractDateTime(ctx context.Context, text string) (DateTime, error) {
	if err := f.wait(ctx); err != nil {
		return DateTime{}, err
	}
	return f.dateTime, nil
}

func (f *fakeService) InferMode(ctx context.Context, text string) (models.Mode, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.mode, nil
}

func (f *fakeService) GenerateConfirmation(ctx context.Context, req ConfirmationRequest) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.confirmation, nil
}

func newTestResolver(opts ...ResolverOption) *Resolver {
	base := []ResolverOption{
		WithLocal(NewLocal(fixedNow)),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	}
	return NewResolver(append(base, opts...)...)
}

func TestResolverUsesFirstValidBackend(t *testing.T) {
	first := &fakeService{intent: "Cancel "}
	second := &fakeService{intent: models.IntentBook}
	r := newTestResolver(WithBackend("first", first), WithBackend("second", second))

	got := r.ClassifyIntent(context.Background(), "book something", models.IntentLabels, models.IntentOther)
	if got != models.IntentCancel {
		t.Errorf("expected normalized answer of first backend, got %q", got)
	}
	if second.calls != 0 {
		t.Errorf("second backend should not be called, got %d calls", second.calls)
	}
}

func TestResolverSkipsFailingAndInvalidBackends(t *testing.T) {
	failing := &fakeService{err: errors.New("boom")}
	invalid := &fakeService{intent: "dance"}
	r := newTestResolver(WithBackend("failing", failing), WithBackend("invalid", invalid))

	got := r.ClassifyIntent(context.Background(), "please reschedule", models.IntentLabels, models.IntentOther)
	if got != models.IntentReschedule {
		t.Errorf("expected local answer, got %q", got)
	}
	if failing.calls != 1 || invalid.calls != 1 {
		t.Errorf("expected each backend called once, got %d and %d", failing.calls, invalid.calls)
	}
}

func TestResolverTimeout(t *testing.T) {
	slow := &fakeService{mode: models.ModeVirtual, delay: time.Second}
	r := newTestResolver(WithBackend("slow", slow), WithTimeout(20*time.Millisecond))

	start := time.Now()
	got := r.InferMode(context.Background(), "by phone", models.ModeVirtual)
	if got != models.ModeTelephonic {
		t.Errorf("expected local answer after timeout, got %q", got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestResolverRejectsUnsupportedMode(t *testing.T) {
	r := newTestResolver(WithBackend("odd", &fakeService{mode: "carrier pigeon"}))
	if got := r.InferMode(context.Background(), "video please", models.ModeTelephonic); got != models.ModeVirtual {
		t.Errorf("expected local answer, got %q", got)
	}
}

func TestResolverExtractDateTime(t *testing.T) {
	ctx := context.Background()
	fallback := DateTime{Date: "2030-01-01", Day: "Tuesday", Time: "09:00"}

	t.Run("complete answer gets derived weekday", func(t *testing.T) {
		r := newTestResolver(WithBackend("b", &fakeService{dateTime: DateTime{Date: "2025-10-24", Day: "Monday", Time: "15:00"}}))
		got := r.ExtractDateTime(ctx, "whatever", fallback)
		want := DateTime{Date: "2025-10-24", Day: "Friday", Time: "15:00"}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("partial answer repaired locally", func(t *testing.T) {
		r := newTestResolver(WithBackend("b", &fakeService{dateTime: DateTime{Time: "15:00"}}))
		got := r.ExtractDateTime(ctx, "tomorrow afternoon", fallback)
		want := DateTime{Date: "2025-10-24", Day: "Friday", Time: "15:00"}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("invalid values dropped", func(t *testing.T) {
		r := newTestResolver(WithBackend("b", &fakeService{dateTime: DateTime{Date: "2025-13-40", Time: "99:99"}}))
		got := r.ExtractDateTime(ctx, "friday at noon", fallback)
		want := DateTime{Date: "2025-10-24", Day: "Friday", Time: "12:00"}
		if got != want {
			t.Errorf("expected local answer %+v, got %+v", want, got)
		}
	})

	t.Run("nothing found returns fallback", func(t *testing.T) {
		r := newTestResolver(WithBackend("b", &fakeService{err: ErrNoResult}))
		if got := r.ExtractDateTime(ctx, "asdfasdf", fallback); got != fallback {
			t.Errorf("expected fallback, got %+v", got)
		}
	})
}

func TestResolverGenerateConfirmation(t *testing.T) {
	req := ConfirmationRequest{Date: "2025-10-24", Day: "Friday", Time: "15:00", Mode: models.ModeTelephonic}
	r := newTestResolver(WithBackend("blank", &fakeService{confirmation: "   "}))
	got := r.GenerateConfirmation(context.Background(), req, "unused")
	if want := ConfirmationText(req); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	r = newTestResolver(WithBackend("nice", &fakeService{confirmation: " See you Friday! "}))
	if got := r.GenerateConfirmation(context.Background(), req, "unused"); got != "See you Friday!" {
		t.Errorf("expected trimmed backend text, got %q", got)
	}
}

func TestResolverCancelledContextUsesFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backend := &fakeService{intent: models.IntentBook}
	r := newTestResolver(WithBackend("b", backend))
	if got := r.ClassifyIntent(ctx, "book", models.IntentLabels, models.IntentOther); got != models.IntentOther {
		t.Errorf("expected fallback, got %q", got)
	}
	if backend.calls != 0 {
		t.Errorf("no backend should run on a cancelled context, got %d calls", backend.calls)
	}
}
