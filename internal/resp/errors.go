package resp

import (
	"errors"
	"fmt"
)

// ErrIncomplete signals that the buffer does not yet hold a full frame.
// Callers append more bytes and retry; the decoder keeps no state between
// calls (see decode.go doc comment).
var ErrIncomplete = errors.New("resp: incomplete frame")

// ProtocolError reports a malformed frame: an unknown tag, a non-numeric
// length field, a missing CRLF trailer, or a size exceeding the configured
// safety bound.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "resp: protocol error: " + e.Detail }

func protoErrf(format string, args ...any) error {
	return &ProtocolError{Detail: fmt.Sprintf(format, args...)}
}
