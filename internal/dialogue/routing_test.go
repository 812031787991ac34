package dialogue

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

func TestRoutersAreTotal(t *testing.T) {
	intents := append([]models.Intent{""}, models.IntentLabels...)
	fallbacks := []models.FallbackStage{"", models.FallbackStageIntent, models.FallbackStageDateTime, models.FallbackStageConflict}
	slots := []models.Appointment{
		{},
		{Date: "2025-10-24", Time: "15:00"},
		{Date: "2025-10-24", Time: "15:00", Mode: models.ModeTelephonic},
	}
	for stage := range routes {
		for _, intent := range intents {
			for _, fb := range fallbacks {
				for _, appt := range slots {
					for _, waiting := range []bool{false, true} {
						st := &models.ConversationState{
							Intent:          intent,
							Operation:       intent.Operation(),
							Appointment:     appt,
							WaitingForInput: waiting,
						}
						if fb != "" {
							st.SetFallback("reason", fb)
						}
						got := next(stage, st)
						if _, ok := stageNames[got]; !ok {
							t.Fatalf("router for %s returned unknown stage %d", stage, got)
						}
					}
				}
			}
		}
	}
	if got := next(StageEnd, &models.ConversationState{}); got != StageEnd {
		t.Errorf("end must stay terminal, got %s", got)
	}
}

func TestRouteAfterIntent(t *testing.T) {
	tests := []struct {
		name string
		st   models.ConversationState
		want Stage
	}{
		{"waiting", models.ConversationState{WaitingForInput: true, Intent: models.IntentBook, Operation: models.OperationBook}, StageEnd},
		{"fallback", models.ConversationState{Intent: models.IntentOther, FallbackReason: ReasonUnclearIntent, FallbackStage: models.FallbackStageIntent}, StageFallback},
		{"cancel", models.ConversationState{Intent: models.IntentCancel, Operation: models.OperationCancel}, StageConfirm},
		{"book without slot", models.ConversationState{Intent: models.IntentBook, Operation: models.OperationBook}, StageDateTime},
		{"book without mode", models.ConversationState{Intent: models.IntentBook, Operation: models.OperationBook, Appointment: models.Appointment{Date: "2025-10-24", Time: "15:00"}}, StageMode},
		{"book complete", models.ConversationState{Intent: models.IntentReschedule, Operation: models.OperationReschedule, Appointment: models.Appointment{Date: "2025-10-24", Time: "15:00", Mode: models.ModeVirtual}}, StageConfirm},
		{"query", models.ConversationState{Intent: models.IntentQuery}, StageFallback},
	}
	for _, tt := range tests {
		if got := routeAfterIntent(&tt.st); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestRouteAfterFallback(t *testing.T) {
	slot := models.Appointment{Date: "2025-10-24", Time: "15:00"}
	tests := []struct {
		name string
		st   models.ConversationState
		want Stage
	}{
		{"no intent", models.ConversationState{}, StageIntent},
		{"other", models.ConversationState{Intent: models.IntentOther}, StageIntent},
		{"missing slot", models.ConversationState{Intent: models.IntentBook, Operation: models.OperationBook}, StageDateTime},
		{"missing mode", models.ConversationState{Intent: models.IntentBook, Operation: models.OperationBook, Appointment: slot}, StageMode},
		{"waiting", models.ConversationState{Intent: models.IntentCancel, Operation: models.OperationCancel, WaitingForInput: true}, StageEnd},
		{"resolved", models.ConversationState{Intent: models.IntentQuery}, StageIntent},
	}
	for _, tt := range tests {
		if got := routeAfterFallback(&tt.st); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2}
	if p.Next(0) != 1 || p.Next(1) != 2 || p.Next(2) != 2 {
		t.Errorf("unexpected progression %d %d %d", p.Next(0), p.Next(1), p.Next(2))
	}
	if p.Exhausted(1) || !p.Exhausted(2) {
		t.Error("policy should be exhausted exactly at MaxAttempts")
	}

	cfg := applyOpts([]Option{WithDateTimeRetry(RetryPolicy{}), WithMaxSteps(0)})
	if cfg.DateTimeRetry != DefaultDateTimeRetry || cfg.MaxSteps != DefaultMaxSteps {
		t.Errorf("zero values should fall back to defaults, got %+v", cfg)
	}
}

func TestCancelStoreFailure(t *testing.T) {
	interp := &scriptedInterpreter{intents: map[string]models.Intent{"cancel": models.IntentCancel}}
	o, _ := newTestOrchestrator(t, interp, &fakeStore{deleteErr: errors.New("locked")})
	st := models.NewConversationState("s1", "quinn")
	st.AddUserTurn("cancel")

	if err := o.Run(context.Background(), st); !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if st.Done {
		t.Error("a failed cancel must not be reported as done")
	}
}

func TestStageString(t *testing.T) {
	if StageDateTime.String() != "datetime" || Stage(42).String() != "stage(42)" {
		t.Errorf("unexpected names %q %q", StageDateTime, Stage(42))
	}
}
