package protocol

// ConnectionState tracks the underlying transport link.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// SessionState tracks the protocol session lifecycle, from bootstrap
// pairing check through an established session.
type SessionState int

const (
	NotStarted SessionState = iota
	IDPFailed
	IDPPending
	SSFailed
	SSPending
	Started
)

func (s SessionState) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case IDPFailed:
		return "IDP_FAILED"
	case IDPPending:
		return "IDP_PENDING"
	case SSFailed:
		return "SS_FAILED"
	case SSPending:
		return "SS_PENDING"
	case Started:
		return "STARTED"
	default:
		return "UNKNOWN"
	}
}
