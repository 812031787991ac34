package dialogue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/BookingPipe/internal/interpret"
	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/store"
)

// intentStage classifies the latest user message.
func (o *Orchestrator) intentStage(ctx context.Context, st *models.ConversationState) error {
	text := st.LatestUserText()
	intent := o.interp.ClassifyIntent(ctx, text, models.IntentLabels, models.IntentOther)

	if intent == models.IntentOther && o.opts.ContinuePending && st.Operation != "" {
		slog.Debug("Orchestrator.intentStage: continuing pending operation", "session", st.SessionID, "operation", st.Operation)
		intent = models.Intent(st.Operation)
	}

	st.Intent = intent
	st.Operation = intent.Operation()
	if intent == models.IntentOther {
		st.SetFallback(ReasonUnclearIntent, models.FallbackStageIntent)
	}
	slog.Debug("Orchestrator.intentStage: classified", "session", st.SessionID, "intent", intent)
	return nil
}

// dateTimeStage extracts the slot, counting failures against the retry policy.
func (o *Orchestrator) dateTimeStage(ctx context.Context, st *models.ConversationState) error {
	if !st.Operation.NeedsSlot() {
		return nil
	}
	dt := o.interp.ExtractDateTime(ctx, st.LatestUserText(), interpret.DateTime{})
	if dt.Complete() {
		st.Appointment.Date = dt.Date
		st.Appointment.Day = dt.Day
		if st.Appointment.Day == "" {
			st.Appointment.Day = models.WeekdayOf(dt.Date)
		}
		st.Appointment.Time = dt.Time
		st.DateTimeAttempts = 0
		st.WaitingForInput = false
		slog.Debug("Orchestrator.dateTimeStage: slot resolved", "session", st.SessionID, "date", dt.Date, "time", dt.Time)
		return nil
	}

	policy := o.opts.DateTimeRetry
	st.DateTimeAttempts = policy.Next(st.DateTimeAttempts)
	if policy.Exhausted(st.DateTimeAttempts) {
		slog.Debug("Orchestrator.dateTimeStage: attempts exhausted", "session", st.SessionID, "attempts", st.DateTimeAttempts)
		st.AddAssistantTurn(policy.TerminalMessage)
		st.WaitingForInput = true
		st.ClearFallback()
		return nil
	}
	st.SetFallback(ReasonInvalidDateTime, models.FallbackStageDateTime)
	return nil
}

// modeStage infers the delivery mode and checks the slot against the store:
// first against every user, then against the requesting user.
func (o *Orchestrator) modeStage(ctx context.Context, st *models.ConversationState) error {
	if !st.Operation.NeedsSlot() {
		return nil
	}
	mode := o.interp.InferMode(ctx, st.LatestUserText(), models.ModeVirtual)
	if !mode.IsValid() {
		mode = models.ModeVirtual
	}
	st.Appointment.Mode = mode
	st.Conflicts = nil

	appt := st.Appointment
	taken, err := o.store.HasTimeSlotTaken(ctx, appt.Date, appt.Time)
	if err != nil {
		return storeError("check slot", err)
	}
	if taken {
		slog.Info("Orchestrator.modeStage: slot already booked", "session", st.SessionID, "date", appt.Date, "time", appt.Time)
		st.SetFallback(SlotTakenMessage(appt.Date, appt.Time), models.FallbackStageConflict)
		return nil
	}

	conflicts, err := o.store.FindConflicts(ctx, appt.Date, appt.Time, appt.UserID)
	if err != nil {
		return storeError("find conflicts", err)
	}
	if len(conflicts) > 0 {
		st.Conflicts = conflicts
		st.SetFallback(MsgUserConflict, models.FallbackStageConflict)
	}
	return nil
}

// confirmStage commits the operation and reports the outcome.
func (o *Orchestrator) confirmStage(ctx context.Context, st *models.ConversationState) error {
	userID := st.Appointment.UserID
	switch st.Operation {
	case models.OperationCancel:
		deleted, err := o.store.DeleteLatestForUser(ctx, userID)
		if err != nil {
			o.metrics.ObserveOperation(string(st.Operation), "error")
			return storeError("cancel", err)
		}
		if deleted {
			st.AddAssistantTurn(MsgCancelled)
			o.metrics.ObserveOperation(string(st.Operation), "ok")
		} else {
			st.AddAssistantTurn(MsgNothingToCancel)
			o.metrics.ObserveOperation(string(st.Operation), "not_found")
		}
		o.finish(st)
		return nil

	case models.OperationBook, models.OperationReschedule:
		if st.FallbackStage == models.FallbackStageConflict {
			o.pauseOnConflict(st, st.FallbackReason)
			return nil
		}
		if st.Operation == models.OperationReschedule {
			updated, err := o.reschedule(ctx, st)
			if errors.Is(err, store.ErrSlotTaken) {
				o.metrics.ObserveOperation(string(st.Operation), "conflict")
				o.pauseOnConflict(st, SlotTakenMessage(st.Appointment.Date, st.Appointment.Time))
				return nil
			}
			if err != nil {
				o.metrics.ObserveOperation(string(st.Operation), "error")
				return storeError("reschedule", err)
			}
			if updated == nil {
				st.AddAssistantTurn(MsgNothingToReschedule)
				o.metrics.ObserveOperation(string(st.Operation), "not_found")
				o.finish(st)
				return nil
			}
		} else {
			_, err := o.store.BookAppointment(ctx, st.Appointment)
			if errors.Is(err, store.ErrSlotTaken) {
				o.metrics.ObserveOperation(string(st.Operation), "conflict")
				o.pauseOnConflict(st, SlotTakenMessage(st.Appointment.Date, st.Appointment.Time))
				return nil
			}
			if err != nil {
				o.metrics.ObserveOperation(string(st.Operation), "error")
				return storeError("book", err)
			}
		}
		o.metrics.ObserveOperation(string(st.Operation), "ok")

		req := interpret.ConfirmationRequest{
			Date: st.Appointment.Date,
			Day:  st.Appointment.Day,
			Time: st.Appointment.Time,
			Mode: st.Appointment.Mode,
		}
		st.AddAssistantTurn(o.interp.GenerateConfirmation(ctx, req, interpret.ConfirmationText(req)))
		o.finish(st)
		return nil

	default:
		o.finish(st)
		return nil
	}
}

func (o *Orchestrator) reschedule(ctx context.Context, st *models.ConversationState) (*models.PersistedAppointment, error) {
	draft := st.Appointment
	return o.store.UpdateLatestForUser(ctx, draft.UserID, func(p *models.PersistedAppointment) {
		p.Date = draft.Date
		p.Day = draft.Day
		p.Time = draft.Time
		if draft.Mode != "" {
			p.Mode = draft.Mode
		}
	})
}

// pauseOnConflict reports a conflict without finishing the request.
func (o *Orchestrator) pauseOnConflict(st *models.ConversationState, reason string) {
	if reason == "" {
		reason = MsgConflictUnavailable
	}
	st.AddAssistantTurn(reason)
	st.ClearFallback()
	st.ConflictPending = true
	st.Done = false
	st.WaitingForInput = true
}

func (o *Orchestrator) finish(st *models.ConversationState) {
	st.Done = true
	st.WaitingForInput = false
	st.ConflictPending = false
}

// fallbackStage emits the re-prompt for the stage that raised the fallback.
func (o *Orchestrator) fallbackStage(ctx context.Context, st *models.ConversationState) error {
	st.AddAssistantTurn(fallbackMessage(st))
	if st.FallbackStage == models.FallbackStageConflict {
		st.ConflictPending = true
	}
	st.ClearFallback()
	st.Done = false
	return nil
}

// fallbackMessage is deterministic in the fallback stage and reason.
func fallbackMessage(st *models.ConversationState) string {
	switch st.FallbackStage {
	case models.FallbackStageIntent:
		return MsgIntentFallback
	case models.FallbackStageDateTime:
		return MsgDateTimeFallback
	case models.FallbackStageConflict:
		if st.FallbackReason != "" {
			return st.FallbackReason
		}
		return MsgConflictUnavailable
	default:
		return MsgTryAgain
	}
}
