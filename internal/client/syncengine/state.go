package syncengine

// State is the engine's position in the sync state machine.
type State int

const (
	Offline State = iota
	Connecting
	Syncing
	Idle
	Error
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Idle:
		return "idle"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
