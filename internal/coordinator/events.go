package coordinator

import "github.com/srg/brushlink/internal/sonicare"

// Phase is the coordinator lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// EventKind tells listeners what changed.
type EventKind int

const (
	// EventDataUpdated carries a fresh state snapshot.
	EventDataUpdated EventKind = iota + 1
	// EventDisconnected means entities should be marked unavailable.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventDataUpdated:
		return "data_updated"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind name in JSON.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is delivered to coordinator listeners.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Address   string          `json:"address"`
	Connected bool            `json:"connected"`
	State     *sonicare.State `json:"state,omitempty"`
}
