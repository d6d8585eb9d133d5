package cluster

import (
	"strconv"
	"strings"

	"github.com/boomballa/redismux/internal/resp"
)

// RedirectKind distinguishes MOVED from ASK (§4.6).
type RedirectKind int

const (
	RedirectNone RedirectKind = iota
	RedirectMoved
	RedirectAsk
)

// Redirect is a parsed MOVED/ASK error.
type Redirect struct {
	Kind RedirectKind
	Slot uint16
	Addr string
}

// ParseRedirect inspects an Error reply for a "MOVED <slot> <addr>" or
// "ASK <slot> <addr>" prefix (§4.6). Grounded on
// internal/redisx/client.go's IsMovedError/ParseMovedAddr, generalized to
// also recognize ASK and to operate on resp.Reply instead of a formatted
// Go error string.
func ParseRedirect(r resp.Reply) (Redirect, bool) {
	if r.Kind != resp.KindError {
		return Redirect{}, false
	}
	fields := strings.Fields(r.String())
	if len(fields) < 3 {
		return Redirect{}, false
	}
	var kind RedirectKind
	switch strings.ToUpper(fields[0]) {
	case "MOVED":
		kind = RedirectMoved
	case "ASK":
		kind = RedirectAsk
	default:
		return Redirect{}, false
	}
	slot, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return Redirect{}, false
	}
	addr := strings.Trim(fields[2], ",")
	return Redirect{Kind: kind, Slot: uint16(slot), Addr: addr}, true
}
