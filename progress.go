package iosocket

// Progress is the bootstrap progress of a connection. It grows during a
// connection epoch and falls back to ProgressConnecting on disconnect.
type Progress int

// Progress values
const (
	ProgressConnecting Progress = iota
	ProgressConnected
	ProgressObjectsLoaded
	ProgressReady
)

func (p Progress) String() string {
	switch p {
	case ProgressConnecting:
		return "connecting"
	case ProgressConnected:
		return "connected"
	case ProgressObjectsLoaded:
		return "objectsLoaded"
	case ProgressReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Phase is the state of the connection lifecycle
type Phase int

// Phase values
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseAuthenticating
	PhaseBootstrapping
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}
