package dialogue

import "github.com/BTreeMap/BookingPipe/internal/models"

// router picks the stage that follows a completed stage. Routers are total.
type router func(st *models.ConversationState) Stage

var routes = map[Stage]router{
	StageIntent:   routeAfterIntent,
	StageDateTime: routeAfterDateTime,
	StageMode:     routeAfterMode,
	StageConfirm:  routeAfterConfirm,
	StageFallback: routeAfterFallback,
}

// next returns the successor of stage; unknown stages end the invocation.
func next(stage Stage, st *models.ConversationState) Stage {
	if r, ok := routes[stage]; ok {
		return r(st)
	}
	return StageEnd
}

func routeAfterIntent(st *models.ConversationState) Stage {
	switch {
	case st.WaitingForInput:
		return StageEnd
	case st.HasFallback():
		return StageFallback
	case st.Operation == models.OperationCancel:
		return StageConfirm
	case st.Operation.NeedsSlot():
		return slotStage(st)
	default:
		return StageFallback
	}
}

func routeAfterDateTime(st *models.ConversationState) Stage {
	switch {
	case st.WaitingForInput:
		return StageEnd
	case st.HasFallback():
		return StageFallback
	case st.Appointment.Mode == "":
		return StageMode
	default:
		return StageConfirm
	}
}

func routeAfterMode(st *models.ConversationState) Stage {
	switch {
	case st.WaitingForInput:
		return StageEnd
	case st.HasFallback():
		return StageFallback
	default:
		return StageConfirm
	}
}

func routeAfterConfirm(*models.ConversationState) Stage {
	return StageEnd
}

// routeAfterFallback returns StageIntent when nothing can be resolved from
// the current message; Run treats that as a hand-off to the user.
func routeAfterFallback(st *models.ConversationState) Stage {
	switch {
	case st.Intent == "" || st.Intent == models.IntentOther:
		return StageIntent
	case st.Operation.NeedsSlot() && !st.Appointment.HasSlot():
		return StageDateTime
	case st.Operation.NeedsSlot() && st.Appointment.Mode == "":
		return StageMode
	case st.WaitingForInput:
		return StageEnd
	default:
		return StageIntent
	}
}

// slotStage is the first unresolved step of a book or reschedule request.
func slotStage(st *models.ConversationState) Stage {
	switch {
	case !st.Appointment.HasSlot():
		return StageDateTime
	case st.Appointment.Mode == "":
		return StageMode
	default:
		return StageConfirm
	}
}
