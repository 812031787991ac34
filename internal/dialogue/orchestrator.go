package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BTreeMap/BookingPipe/internal/interpret"
	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/store"
)

var tracer = otel.Tracer("bookingpipe.internal.dialogue")

// Interpreter answers the interpretation questions of each stage. Every
// method returns the supplied fallback when no backend has a usable answer.
type Interpreter interface {
	ClassifyIntent(ctx context.Context, text string, labels []models.Intent, fallback models.Intent) models.Intent
	ExtractDateTime(ctx context.Context, text string, fallback interpret.DateTime) interpret.DateTime
	InferMode(ctx context.Context, text string, fallback models.Mode) models.Mode
	GenerateConfirmation(ctx context.Context, req interpret.ConfirmationRequest, fallback string) string
}

var _ Interpreter = (*interpret.Resolver)(nil)

// AppointmentStore is the part of store.Store the dialogue writes through.
type AppointmentStore interface {
	BookAppointment(ctx context.Context, appt models.Appointment) (models.PersistedAppointment, error)
	UpdateLatestForUser(ctx context.Context, userID string, mutate store.Mutator) (*models.PersistedAppointment, error)
	DeleteLatestForUser(ctx context.Context, userID string) (bool, error)
	FindConflicts(ctx context.Context, date, clock, userID string) ([]models.PersistedAppointment, error)
	HasTimeSlotTaken(ctx context.Context, date, clock string) (bool, error)
}

var _ AppointmentStore = (store.Store)(nil)

// stageFunc executes one stage against the state. A non-nil error aborts Run.
type stageFunc func(ctx context.Context, st *models.ConversationState) error

// Orchestrator runs the dialogue state machine. It holds no per-conversation
// data and is safe for concurrent use on distinct states.
type Orchestrator struct {
	interp  Interpreter
	store   AppointmentStore
	opts    Opts
	metrics *metrics.Metrics
	stages  map[Stage]stageFunc
}

// New creates an Orchestrator over an interpreter and an appointment store.
func New(interp Interpreter, st AppointmentStore, opts ...Option) *Orchestrator {
	cfg := applyOpts(opts)
	o := &Orchestrator{interp: interp, store: st, opts: cfg, metrics: cfg.Metrics}
	o.stages = map[Stage]stageFunc{
		StageIntent:   o.intentStage,
		StageDateTime: o.dateTimeStage,
		StageMode:     o.modeStage,
		StageConfirm:  o.confirmStage,
		StageFallback: o.fallbackStage,
	}
	slog.Debug("dialogue.New: orchestrator created", "maxSteps", cfg.MaxSteps, "datetimeAttempts", cfg.DateTimeRetry.MaxAttempts, "continuePending", cfg.ContinuePending)
	return o
}

// Run processes the latest user turn of st, appending assistant turns and
// updating the state in place. Only store failures are returned; they are
// wrapped with ErrStore after an apology turn has been appended.
func (o *Orchestrator) Run(ctx context.Context, st *models.ConversationState) error {
	ctx, span := tracer.Start(ctx, "dialogue.Run", trace.WithAttributes(
		attribute.String("bookingpipe.session_id", st.SessionID),
	))
	defer span.End()
	start := time.Now()

	prepareTurn(st)

	stage := StageIntent
	for steps := 0; stage != StageEnd; steps++ {
		if steps >= o.opts.MaxSteps {
			slog.Error("Orchestrator.Run: stage budget exhausted", "session", st.SessionID, "stage", stage, "steps", steps)
			st.AddAssistantTurn(MsgTryAgain)
			st.ClearFallback()
			st.Done = false
			st.WaitingForInput = true
			break
		}
		if err := o.execute(ctx, stage, st); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.abort(st, err)
			o.metrics.ObserveTurn("error", time.Since(start).Seconds())
			return err
		}
		following := next(stage, st)
		o.metrics.ObserveStage(stage.String(), following.String())
		slog.Debug("Orchestrator.Run: transition", "session", st.SessionID, "from", stage, "to", following)

		if stage == StageFallback && following == StageIntent {
			// The user has to answer the re-prompt before intent runs again.
			st.WaitingForInput = true
			break
		}
		stage = following
	}

	st.UpdatedAt = o.opts.Now()
	outcome := "waiting"
	if st.Done {
		outcome = "done"
	}
	span.SetAttributes(
		attribute.String("bookingpipe.intent", string(st.Intent)),
		attribute.String("bookingpipe.outcome", outcome),
	)
	o.metrics.ObserveTurn(outcome, time.Since(start).Seconds())
	slog.Info("Orchestrator.Run: turn processed", "session", st.SessionID, "intent", st.Intent, "operation", st.Operation, "outcome", outcome)
	return nil
}

// execute runs one stage and checks the state invariants afterwards.
func (o *Orchestrator) execute(ctx context.Context, stage Stage, st *models.ConversationState) error {
	fn, ok := o.stages[stage]
	if !ok {
		return nil
	}
	ctx, span := tracer.Start(ctx, "dialogue.stage."+stage.String())
	defer span.End()

	err := fn(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if ierr := st.CheckInvariants(); ierr != nil {
		span.RecordError(ierr)
		slog.Error("Orchestrator.execute: state invariant violated", "session", st.SessionID, "stage", stage, "error", ierr)
	}
	if o.opts.Observer != nil {
		o.opts.Observer(stage, st)
	}
	return nil
}

// abort leaves the conversation resumable after a store failure.
func (o *Orchestrator) abort(st *models.ConversationState, err error) {
	slog.Error("Orchestrator.Run: store failure", "session", st.SessionID, "operation", st.Operation, "error", err)
	st.AddAssistantTurn(MsgStoreFailure)
	st.ClearFallback()
	st.Done = false
	st.WaitingForInput = true
	st.UpdatedAt = o.opts.Now()
}

// prepareTurn resets the per-invocation flags before a new user message is
// processed. A finished request starts over; a request paused by a slot
// conflict forgets the rejected slot so the new message is parsed afresh.
func prepareTurn(st *models.ConversationState) {
	if st.Done {
		st.Intent = ""
		st.Operation = ""
		st.Appointment = models.Appointment{UserID: st.Appointment.UserID, Notes: st.Appointment.Notes}
		st.Conflicts = nil
		st.DateTimeAttempts = 0
		st.ConflictPending = false
	}
	if st.ConflictPending {
		st.Appointment.ClearSlot()
		st.Appointment.Mode = ""
		st.Conflicts = nil
		st.ConflictPending = false
	}
	st.ClearFallback()
	st.WaitingForInput = false
	st.Done = false
}

// storeError wraps err with ErrStore.
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
