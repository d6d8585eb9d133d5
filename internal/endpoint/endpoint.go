package endpoint

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/boomballa/redismux/internal/cluster"
	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/transport"
)

// ServerEndpoint is one physical Redis server the multiplexer talks to
// (§3, §4.2): an address, a cluster.EndpointID, an interactive bridge, and
// — only when the deployment needs pub/sub on a separate RESP2 connection
// (§4.3) — a subscription bridge. A RESP3 deployment leaves Subscription
// nil and multiplexes pushes over Interactive instead.
type ServerEndpoint struct {
	ID   cluster.EndpointID
	Addr string

	Interactive  *bridge.Bridge
	Subscription *bridge.Bridge // nil when this deployment shares one RESP3 connection

	role     atomic.Int32 // cluster.Role
	features atomic.Pointer[Features]
}

// New builds a ServerEndpoint and its bridge(s), not yet connected.
//
// needsSubscriptionBridge is true for RESP2 deployments (pub/sub requires
// its own connection, see spec.md §4.7); RESP3 deployments pass false and
// rely on onPush being wired into Interactive instead.
func New(id cluster.EndpointID, addr string, dialer transport.Dialer, proto resp.Protocol, cfg Config, bcfg bridge.Config, policy bridge.ReconnectPolicy, needsSubscriptionBridge bool, onPush func(resp.Reply), onEvent func(bridge.Event)) *ServerEndpoint {
	ep := &ServerEndpoint{ID: id, Addr: addr}
	ep.features.Store(&Features{})

	ep.Interactive = bridge.New(bridge.RoleInteractive, addr, dialer, proto, bcfg, ep.handshakeFunc(cfg), policy, onPush, onEvent)

	if needsSubscriptionBridge {
		subCfg := cfg
		subCfg.RequestRESP3 = false // pub/sub bridge only ever needs RESP2 (§4.7)
		ep.Subscription = bridge.New(bridge.RoleSubscription, addr, dialer, resp.Protocol2, bcfg, ep.handshakeFunc(subCfg), policy, onPush, onEvent)
	}
	return ep
}

// handshakeFunc wraps Handshake so the discovered Role/Features are cached
// on the endpoint as a side effect, without changing bridge.HandshakeFunc's
// signature.
func (ep *ServerEndpoint) handshakeFunc(cfg Config) bridge.HandshakeFunc {
	return func(ctx context.Context, pc *transport.PhysicalConnection) error {
		res, err := RunAndCollect(ctx, pc, cfg)
		if err != nil {
			return err
		}
		ep.role.Store(int32(res.Role))
		ep.features.Store(&res.Features)
		return nil
	}
}

// Role reports the most recently discovered role (primary/replica), zero
// value RoleUnknown before the first successful handshake.
func (ep *ServerEndpoint) Role() cluster.Role { return cluster.Role(ep.role.Load()) }

// Features reports the most recently discovered capability record.
func (ep *ServerEndpoint) Features() Features { return *ep.features.Load() }

// Connected reports whether the interactive bridge (the one that always
// exists) is fully established. The multiplexer's endpoint arena uses this
// per-endpoint check to implement cluster.Connectivity across all of its
// endpoints.
func (ep *ServerEndpoint) Connected() bool {
	return ep.Interactive.State() == bridge.StateConnectedEstablished
}

// Connect dials and handshakes both bridges, returning once the
// interactive bridge is ready; the subscription bridge (if any) connects
// in the background and is retried independently by its own heartbeat.
func (ep *ServerEndpoint) Connect(ctx context.Context) error {
	if err := ep.Interactive.Connect(ctx); err != nil {
		return err
	}
	if ep.Subscription != nil {
		go func() { _ = ep.Subscription.Connect(ctx) }()
	}
	return nil
}

// Heartbeat drives both bridges' periodic reconnect/idle-tracer logic
// (§4.3's on_heartbeat); tracer builds the idle-keepalive command (an ECHO
// or PING) each bridge sends when it has been write-idle too long.
func (ep *ServerEndpoint) Heartbeat(ctx context.Context, tracer func() *rcmd.Command) {
	ep.Interactive.Heartbeat(ctx, tracer)
	if ep.Subscription != nil {
		ep.Subscription.Heartbeat(ctx, tracer)
	}
}

// SweepTimeouts fails expired in-flight commands on both bridges.
func (ep *ServerEndpoint) SweepTimeouts(now time.Time) {
	ep.Interactive.SweepTimeouts(now)
	if ep.Subscription != nil {
		ep.Subscription.SweepTimeouts(now)
	}
}

// Close shuts down both bridges.
func (ep *ServerEndpoint) Close() {
	ep.Interactive.Close()
	if ep.Subscription != nil {
		ep.Subscription.Close()
	}
}
