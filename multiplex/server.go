package multiplex

import (
	"context"
	"time"

	"github.com/boomballa/redismux/internal/endpoint"
	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
)

// ServerHandle is a direct handle onto one physical endpoint (§4.5
// `get_server`), bypassing slot routing and redirection entirely — for
// administrative commands (CLIENT LIST, CONFIG SET, CLUSTER ...) that
// must target one specific node rather than whichever the selector would
// pick.
type ServerHandle struct {
	addr string
	ep   *endpoint.ServerEndpoint
}

// Addr returns the handle's server address.
func (h *ServerHandle) Addr() string { return h.addr }

// Connected reports whether the handle's endpoint is currently usable.
func (h *ServerHandle) Connected() bool { return h.ep.Connected() }

// Execute submits argv directly to this endpoint, with no slot routing
// and no MOVED/ASK redirection (§4.5 "bypasses the selector").
func (h *ServerHandle) Execute(ctx context.Context, argv [][]byte, flags rcmd.Flag, db int16, deadline time.Time) (resp.Reply, error) {
	cmd := rcmd.New(argv, flags, db, deadline)
	h.ep.Interactive.TryWrite(cmd)
	select {
	case out := <-cmd.Sink:
		return out.Reply, out.Err
	case <-ctx.Done():
		return resp.Reply{}, ctx.Err()
	}
}

// GetServer returns a handle onto the endpoint at addr, which must
// already be part of the arena (a server Reconfigure or a prior
// redirect has discovered it) — GetServer never dials a new address on
// its own (§4.5 `get_server`).
func (m *Multiplexer) GetServer(addr string) (*ServerHandle, error) {
	_, ep, ok := m.endpointByAddr(addr)
	if !ok {
		return nil, rerr.New(rerr.NoServerAvailable, "no known endpoint at "+addr, nil)
	}
	return &ServerHandle{addr: addr, ep: ep}, nil
}
