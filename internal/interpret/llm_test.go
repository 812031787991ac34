package interpret

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

type fakeGenerator struct {
	out        string
	err        error
	lastSystem string
	lastUser   string
}

func (g *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.lastSystem, g.lastUser = systemPrompt, userPrompt
	return g.out, g.err
}

func TestLLMClassifyIntent(t *testing.T) {
	gen := &fakeGenerator{out: " Reschedule.\n"}
	l := NewLLM(gen, fixedNow)
	got, err := l.ClassifyIntent(context.Background(), "move it", models.IntentLabels)
	if err != nil || got != models.IntentReschedule {
		t.Fatalf("expected reschedule, got %q (%v)", got, err)
	}
	if !strings.Contains(gen.lastUser, "cancel") {
		t.Errorf("labels missing from prompt: %s", gen.lastUser)
	}

	gen.out = "I cannot tell"
	if _, err := l.ClassifyIntent(context.Background(), "??", models.IntentLabels); !errors.Is(err, ErrInvalidResult) {
		t.Errorf("expected ErrInvalidResult, got %v", err)
	}
}

func TestLLMExtractDateTime(t *testing.T) {
	gen := &fakeGenerator{out: "```json\n{\"date\": \"2025-10-24\", \"day\": \"Friday\", \"time\": null}\n```"}
	l := NewLLM(gen, fixedNow)
	got, err := l.ExtractDateTime(context.Background(), "tomorrow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := (DateTime{Date: "2025-10-24", Day: "Friday"}); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if !strings.Contains(gen.lastUser, "2025-10-23 (Thursday)") {
		t.Errorf("prompt should carry today's date: %s", gen.lastUser)
	}

	gen.out = "tomorrow at three"
	if _, err := l.ExtractDateTime(context.Background(), "x"); !errors.Is(err, ErrInvalidResult) {
		t.Errorf("expected ErrInvalidResult, got %v", err)
	}
}

func TestLLMInferModeAndConfirmation(t *testing.T) {
	gen := &fakeGenerator{out: "Telephonic"}
	l := NewLLM(gen, fixedNow)
	if got, _ := l.InferMode(context.Background(), "x"); got != models.ModeTelephonic {
		t.Errorf("expected telephonic, got %q", got)
	}

	gen.out = "  Booked: Friday 15:00, virtual.  "
	text, err := l.GenerateConfirmation(context.Background(), ConfirmationRequest{Date: "2025-10-24", Day: "Friday", Time: "15:00", Mode: models.ModeVirtual})
	if err != nil || text != "Booked: Friday 15:00, virtual." {
		t.Errorf("unexpected confirmation %q (%v)", text, err)
	}

	gen.out = strings.Repeat("a", maxConfirmationLength+1)
	if _, err := l.GenerateConfirmation(context.Background(), ConfirmationRequest{}); !errors.Is(err, ErrInvalidResult) {
		t.Errorf("expected ErrInvalidResult for overlong text, got %v", err)
	}

	gen.err = errors.New("quota")
	if _, err := l.InferMode(context.Background(), "x"); err == nil {
		t.Error("expected generator error to surface")
	}
}
