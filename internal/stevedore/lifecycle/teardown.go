package lifecycle

// Action is what closing a session should do to its runtime.
type Action int

const (
	// ActionNone leaves the runtime untouched.
	ActionNone Action = iota
	// ActionStop tears the runtime down.
	ActionStop
	// ActionPause suspends the runtime so it can be resumed later.
	ActionPause
)

func (a Action) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionPause:
		return "pause"
	default:
		return "none"
	}
}

// Teardown decides what to do with a runtime when its session closes.
// It has no side effects; the controller executes the selected action.
//
//	keepAlive=false            → stop
//	keepAlive=true, pause=true → pause
//	keepAlive=true, pause=false→ leave untouched
func Teardown(keepAlive, pauseOnClose bool) Action {
	if !keepAlive {
		return ActionStop
	}
	if pauseOnClose {
		return ActionPause
	}
	return ActionNone
}
