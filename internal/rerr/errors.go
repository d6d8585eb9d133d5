// Package rerr implements the closed error taxonomy of spec.md §7: every
// fallible public operation returns one of these kinds, wrapped over its
// cause, never a panic or a bare string.
package rerr

import "fmt"

// Kind is one of the closed set of error categories spec.md §7 defines.
type Kind string

const (
	Configuration     Kind = "configuration"
	ConnectionFailed  Kind = "connection_failed"
	Timeout           Kind = "timeout"
	ServerError       Kind = "server_error"
	CrossSlot         Kind = "cross_slot"
	TooManyRedirects  Kind = "too_many_redirects"
	NoServerAvailable Kind = "no_server_available"
	ProtocolError     Kind = "protocol_error"
	Integrity         Kind = "integrity"
	MultiplexerClosed Kind = "multiplexer_closed"
	BacklogOverflow   Kind = "backlog_overflow"
	CommandNotAvail   Kind = "command_not_available"
)

// ConnectionFailureCause refines a ConnectionFailed error per spec.md §4.2.
type ConnectionFailureCause string

const (
	UnableToConnect ConnectionFailureCause = "unable_to_connect"
	SocketFailure   ConnectionFailureCause = "socket_failure"
	AuthFailure     ConnectionFailureCause = "auth_failure"
	ProtocolFailure ConnectionFailureCause = "protocol_failure"
	SocketClosed    ConnectionFailureCause = "socket_closed"
)

// TimeoutPhase refines a Timeout error per spec.md §7.
type TimeoutPhase string

const (
	PhaseBacklog TimeoutPhase = "backlog"
	PhaseInFlight TimeoutPhase = "in_flight"
	PhaseConnect  TimeoutPhase = "connect"
)

// Error is the single concrete error type this module returns. It is
// errors.Is/As friendly: Is compares Kind (and Cause/Phase when set);
// Unwrap exposes the underlying cause for callers that want it.
type Error struct {
	Kind  Kind
	Cause ConnectionFailureCause
	Phase TimeoutPhase
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != "":
		if e.Err != nil {
			return fmt.Sprintf("redismux: %s (%s): %s: %v", e.Kind, e.Cause, e.Msg, e.Err)
		}
		return fmt.Sprintf("redismux: %s (%s): %s", e.Kind, e.Cause, e.Msg)
	case e.Phase != "":
		if e.Err != nil {
			return fmt.Sprintf("redismux: %s (%s): %s: %v", e.Kind, e.Phase, e.Msg, e.Err)
		}
		return fmt.Sprintf("redismux: %s (%s): %s", e.Kind, e.Phase, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("redismux: %s: %s: %v", e.Kind, e.Msg, e.Err)
	default:
		return fmt.Sprintf("redismux: %s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &Error{Kind: X}) style comparisons, matching
// on Kind and, when present on the target, Cause/Phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Cause != "" && t.Cause != e.Cause {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return true
}

// New builds an Error of the given kind with a message and optional
// wrapped cause.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Connection builds a ConnectionFailed error with the given refined cause.
func Connection(cause ConnectionFailureCause, msg string, err error) *Error {
	return &Error{Kind: ConnectionFailed, Cause: cause, Msg: msg, Err: err}
}

// TimeoutErr builds a Timeout error with the given refined phase.
func TimeoutErr(phase TimeoutPhase, msg string) *Error {
	return &Error{Kind: Timeout, Phase: phase, Msg: msg}
}
