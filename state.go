package ftp

// State is the position of a Session in the control-channel state machine.
type State int32

const (
	// StateDisconnected means no control connection is owned.
	StateDisconnected State = iota
	// StateConnected means the greeting was read.
	StateConnected
	// StateUser means USER was sent and PASS is expected.
	StateUser
	// StateAuthenticated means PASS was sent.
	StateAuthenticated
	// StateActive means a PORT binding is waiting for the next data command.
	StateActive
	// StatePassive means a PASV binding is waiting for the next data command.
	StatePassive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateUser:
		return "user"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StatePassive:
		return "passive"
	default:
		return "unknown"
	}
}

// DataMode selects how data connections are established.
type DataMode int

const (
	// PassiveMode connects to an address announced by the server (PASV).
	PassiveMode DataMode = iota
	// ActiveMode listens locally and lets the server connect (PORT).
	ActiveMode
)

func (m DataMode) String() string {
	if m == ActiveMode {
		return "active"
	}
	return "passive"
}

func (m DataMode) state() State {
	if m == ActiveMode {
		return StateActive
	}
	return StatePassive
}
