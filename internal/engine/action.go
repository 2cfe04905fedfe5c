package engine

import "alarmist/internal/alarmid"

// Token identifies a scheduled timer; stale tokens are ignored on delivery.
type Token uint64

// ActionKind tags the variant of a side effect.
type ActionKind int

const (
	ActionSet ActionKind = iota
	ActionClear
	ActionForget
	ActionStartTimer
	ActionCancelTimer
	ActionRegisterRemedy
	ActionUnregisterRemedy
)

func (k ActionKind) String() string {
	switch k {
	case ActionSet:
		return "set"
	case ActionClear:
		return "clear"
	case ActionForget:
		return "forget"
	case ActionStartTimer:
		return "start_timer"
	case ActionCancelTimer:
		return "cancel_timer"
	case ActionRegisterRemedy:
		return "register_remedy"
	case ActionUnregisterRemedy:
		return "unregister_remedy"
	default:
		return "unknown"
	}
}

// Action is a side effect produced by the engine and executed by the
// Handler.
type Action struct {
	Kind ActionKind
	ID   alarmid.ID

	// Set/description-update only.
	Desc interface{}
	// Set/Clear only.
	Level alarmid.Level

	// StartTimer only.
	Millis        int64
	IntendedState alarmid.State
	Token         Token

	// Register/UnregisterRemedy only.
	RemedySpec interface{}
}

func dedupeKey(a Action) string {
	switch a.Kind {
	case ActionSet, ActionClear:
		return "state:" + a.ID.Key()
	case ActionForget:
		return "forget:" + a.ID.Key()
	case ActionStartTimer, ActionCancelTimer:
		return "timer:" + a.ID.Key()
	case ActionRegisterRemedy, ActionUnregisterRemedy:
		return "remedy:" + a.ID.Key()
	default:
		return "?:" + a.ID.Key()
	}
}
