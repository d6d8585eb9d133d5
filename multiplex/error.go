package multiplex

import "github.com/boomballa/redismux/internal/rerr"

// Error is the single concrete error type every fallible Multiplexer
// method returns (§7); re-exported here so callers outside this module
// never need to import internal/rerr directly.
type Error = rerr.Error

// ErrorKind mirrors rerr.Kind under the public name (§7's closed taxonomy).
type ErrorKind = rerr.Kind

const (
	ErrConfiguration     = rerr.Configuration
	ErrConnectionFailed  = rerr.ConnectionFailed
	ErrTimeout           = rerr.Timeout
	ErrServerError       = rerr.ServerError
	ErrCrossSlot         = rerr.CrossSlot
	ErrTooManyRedirects  = rerr.TooManyRedirects
	ErrNoServerAvailable = rerr.NoServerAvailable
	ErrProtocolError     = rerr.ProtocolError
	ErrIntegrity         = rerr.Integrity
	ErrMultiplexerClosed = rerr.MultiplexerClosed
	ErrBacklogOverflow   = rerr.BacklogOverflow
	ErrCommandNotAvail   = rerr.CommandNotAvail
)
