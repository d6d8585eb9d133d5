// Package multiplex implements spec.md §4.5: the public Multiplexer
// contract that is the one entry point every caller uses — Execute,
// ExecuteFireAndForget, Subscribe/Unsubscribe, Reconfigure, GetServer, and
// Close. It owns the endpoint arena (see spec.md §9's arena-by-id design
// note), wires internal/cluster's Selector against that arena via the
// Connectivity interface, drives MOVED/ASK redirection, and fans
// connection/configuration events out over internal/events.
//
// Grounded on the teacher's ClusterClient (internal/redisx/cluster_client.go):
// Do/GetNodeClient/refreshSlots generalize into Execute/GetServer/Reconfigure,
// with the arena keyed by cluster.EndpointID rather than address so the
// SlotMap never holds endpoint pointers (spec.md §9 "cyclic graphs").
package multiplex

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/boomballa/redismux/internal/cluster"
	"github.com/boomballa/redismux/internal/endpoint"
	"github.com/boomballa/redismux/internal/events"
	"github.com/boomballa/redismux/internal/metrics"
	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/rconfig"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/rlog"
	"github.com/boomballa/redismux/internal/subscribe"
	"github.com/boomballa/redismux/internal/transport"
)

// defaultMaxRedirects bounds MOVED/ASK redirect depth (§4.6).
const defaultMaxRedirects = 5

// Option customizes a Multiplexer beyond what the connection string
// carries (§6's grammar is the primary surface; these are construction-time
// escape hatches for things a string can't express, like a custom Dialer).
type Option func(*Multiplexer)

// WithDialer substitutes the transport.Dialer used for every endpoint
// (tests and TLS wrappers both use this).
func WithDialer(d transport.Dialer) Option {
	return func(m *Multiplexer) { m.dialer = d }
}

// WithOptionsProviders installs the §9 OptionsProvider match-list, tried
// before ApplyDefaults fills any still-unset field.
func WithOptionsProviders(providers ...rconfig.OptionsProvider) Option {
	return func(m *Multiplexer) { m.providers = providers }
}

// WithReconnectPolicy overrides the default exponential-backoff retry
// policy.
func WithReconnectPolicy(p bridge.ReconnectPolicy) Option {
	return func(m *Multiplexer) { m.retryPolicy = p }
}

// WithBridgeConfig overrides the backlog/rate-limit/timeout tuning every
// bridge is built with.
func WithBridgeConfig(cfg bridge.Config) Option {
	return func(m *Multiplexer) { m.bridgeCfg = cfg }
}

// WithMaxRedirects overrides the default MOVED/ASK depth bound of 5.
func WithMaxRedirects(n int) Option {
	return func(m *Multiplexer) { m.maxRedirects = n }
}

// arenaEntry is one physical server's bookkeeping (§3 ServerEndpoint,
// §9 "arena indexed by integer id").
type arenaEntry struct {
	ep   *endpoint.ServerEndpoint
	role cluster.Role
}

// Multiplexer is the long-lived, thread-safe connection multiplexer of
// spec.md §1: command admission, server selection, redirection, and
// reconfiguration all flow through this one type.
type Multiplexer struct {
	opts      rconfig.Options
	providers []rconfig.OptionsProvider

	dialer      transport.Dialer
	retryPolicy bridge.ReconnectPolicy
	bridgeCfg   bridge.Config
	epCfgBase   endpoint.Config

	deployment cluster.Deployment

	arenaMu sync.RWMutex
	byAddr  map[string]cluster.EndpointID
	byID    map[cluster.EndpointID]*arenaEntry
	nextID  atomic.Int64

	topology *cluster.Topology
	selector *cluster.Selector

	registry    *subscribe.Registry
	subOwnerMu  sync.Mutex
	subOwner    map[subKey]cluster.EndpointID
	pubsubOwner atomic.Int64 // cluster.EndpointID of the exact/pattern pubsub connection

	bus *events.Bus

	maxRedirects int

	heartbeatCtx    context.Context
	heartbeatCancel context.CancelFunc
	bgWG            sync.WaitGroup

	closing atomic.Bool
	closed  atomic.Bool
}

type subKey struct {
	channel string
	kind    subscribe.Kind
}

// New parses connString (§6's grammar), resolves it against providers
// (§9's match-list) and hard defaults, then dials every configured
// endpoint. If Options.AbortConnect is set, New fails fast unless at
// least one endpoint reaches ConnectedEstablished; otherwise it returns a
// still-connecting Multiplexer whose bridges keep retrying in the
// background (§6 "abortConnect").
func New(ctx context.Context, connString string, opts ...Option) (*Multiplexer, error) {
	parsed, err := rconfig.ParseConnectionString(connString)
	if err != nil {
		return nil, err
	}
	return newFromOptions(ctx, parsed, opts...)
}

// NewFromOptions builds a Multiplexer from an already-parsed/loaded
// Options value (e.g. from rconfig.LoadFile), skipping the
// connection-string grammar entirely.
func NewFromOptions(ctx context.Context, o rconfig.Options, opts ...Option) (*Multiplexer, error) {
	return newFromOptions(ctx, o, opts...)
}

func newFromOptions(ctx context.Context, parsed rconfig.Options, opts ...Option) (*Multiplexer, error) {
	m := &Multiplexer{
		byAddr:       make(map[string]cluster.EndpointID),
		byID:         make(map[cluster.EndpointID]*arenaEntry),
		registry:     subscribe.NewRegistry(),
		subOwner:     make(map[subKey]cluster.EndpointID),
		bus:          events.NewBus(256),
		maxRedirects: defaultMaxRedirects,
		dialer:       transport.DefaultDialer(),
		retryPolicy:  rconfig.DefaultReconnectRetryPolicy(),
		bridgeCfg: bridge.Config{
			BacklogLimit:          4096,
			BacklogOverflowPolicy: bridge.OverflowFail,
			KeepAliveInterval:     30 * time.Second,
			ConnectTimeout:        5 * time.Second,
		},
	}
	for _, o := range opts {
		o(m)
	}

	resolved := rconfig.Resolve(parsed, m.providers)
	resolved.ApplyDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, err
	}
	m.opts = resolved
	m.bridgeCfg.ConnectTimeout = resolved.ConnectTimeout
	m.bridgeCfg.KeepAliveInterval = resolved.KeepAlive

	m.epCfgBase = endpoint.Config{
		Username:       resolved.User,
		Password:       resolved.Password,
		RequestRESP3:   resolved.RESP3,
		ClientName:     "redismux",
		TieBreakerKey:  resolved.TieBreaker,
		TieBreakerName: resolved.TieBreaker,
	}
	if resolved.ServiceName != "" {
		m.epCfgBase.Deployment = endpoint.DeploymentSentinel
		m.epCfgBase.SentinelService = resolved.ServiceName
		m.deployment = cluster.DeploymentStandalone
	} else if len(resolved.Endpoints) > 1 {
		m.epCfgBase.Deployment = endpoint.DeploymentCluster
		m.deployment = cluster.DeploymentCluster
	} else {
		m.epCfgBase.Deployment = endpoint.DeploymentStandalone
		m.deployment = cluster.DeploymentStandalone
	}

	m.topology = cluster.NewTopology()
	m.selector = cluster.NewSelector(m.deployment, m.topology, m)

	m.heartbeatCtx, m.heartbeatCancel = context.WithCancel(context.Background())

	var connectedAny bool
	for _, addr := range resolved.Endpoints {
		id, ep := m.addEndpoint(addr)
		if m.deployment == cluster.DeploymentStandalone {
			m.selector.SetStandaloneEndpoint(id)
		}
		if err := ep.Connect(ctx); err != nil {
			rlog.Default().Warn("redismux: initial connect failed", map[string]any{"addr": addr, "err": err.Error()})
			continue
		}
		connectedAny = true
	}

	if m.deployment == cluster.DeploymentCluster && connectedAny {
		_ = m.Reconfigure(ctx)
	}

	if resolved.AbortConnect && !connectedAny {
		m.Close(false)
		return nil, rerr.Connection(rerr.UnableToConnect, "no configured endpoint connected and abortConnect=true", nil)
	}

	m.startBackgroundLoops()
	return m, nil
}

// addEndpoint creates and registers a new ServerEndpoint for addr, not yet
// connected. Caller still needs to call ep.Connect.
func (m *Multiplexer) addEndpoint(addr string) (cluster.EndpointID, *endpoint.ServerEndpoint) {
	m.arenaMu.Lock()
	if id, ok := m.byAddr[addr]; ok {
		ep := m.byID[id].ep
		m.arenaMu.Unlock()
		return id, ep
	}
	id := cluster.EndpointID(m.nextID.Add(1))
	m.arenaMu.Unlock()

	needsSub := !m.opts.RESP3
	proto := resp.Protocol2
	if m.opts.RESP3 {
		proto = resp.Protocol3
	}

	ep := endpoint.New(id, addr, m.dialer, proto, m.epCfgBase, m.bridgeCfg, m.retryPolicy, needsSub,
		func(push resp.Reply) { m.onPush(id, push) },
		func(ev bridge.Event) { m.onBridgeEvent(id, addr, ev) },
	)

	m.arenaMu.Lock()
	m.byAddr[addr] = id
	m.byID[id] = &arenaEntry{ep: ep}
	if m.pubsubOwner.Load() == 0 {
		m.pubsubOwner.Store(int64(id))
	}
	m.arenaMu.Unlock()

	return id, ep
}

// Connected implements cluster.Connectivity.
func (m *Multiplexer) Connected(id cluster.EndpointID) bool {
	m.arenaMu.RLock()
	e, ok := m.byID[id]
	m.arenaMu.RUnlock()
	if !ok {
		return false
	}
	return e.ep.Connected()
}

func (m *Multiplexer) endpointByID(id cluster.EndpointID) (*endpoint.ServerEndpoint, bool) {
	m.arenaMu.RLock()
	defer m.arenaMu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e.ep, true
}

func (m *Multiplexer) endpointByAddr(addr string) (cluster.EndpointID, *endpoint.ServerEndpoint, bool) {
	m.arenaMu.RLock()
	defer m.arenaMu.RUnlock()
	id, ok := m.byAddr[addr]
	if !ok {
		return 0, nil, false
	}
	return id, m.byID[id].ep, true
}

// roundRobinCandidates lists every known endpoint id, for the non-keyed
// cluster selection row of §4.6's table (the Selector filters by
// connectivity; role filtering by DemandPrimary/DemandReplica happens
// inside the Selector via topology lookups, so here we only need ids that
// exist at all).
func (m *Multiplexer) roundRobinCandidates() []cluster.EndpointID {
	m.arenaMu.RLock()
	defer m.arenaMu.RUnlock()
	out := make([]cluster.EndpointID, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	return out
}

// onBridgeEvent forwards a bridge's state transition onto the public
// event bus and, on reconnect, triggers subscription restoration (§4.3
// "Reconnect" / §4.7 "Restoration").
func (m *Multiplexer) onBridgeEvent(id cluster.EndpointID, addr string, ev bridge.Event) {
	switch ev.State {
	case bridge.StateDisconnected:
		m.bus.Publish(events.Event{Kind: events.ConnectionFailed, Endpoint: addr, Err: ev.Err})
	case bridge.StateConnectedEstablished:
		m.bus.Publish(events.Event{Kind: events.ConnectionRestored, Endpoint: addr})
		m.resubscribeEndpoint(id)
	}
}

// onPush routes a decoded push frame (RESP3 Push, or a RESP2 subscription
// bridge's message/pmessage/smessage array) to the subscription registry
// (§4.7 "Message delivery").
func (m *Multiplexer) onPush(id cluster.EndpointID, reply resp.Reply) {
	if reply.Kind != resp.KindArray && reply.Kind != resp.KindPush {
		return
	}
	if len(reply.Elems) == 0 {
		return
	}
	kind := strings.ToLower(reply.Elems[0].String())
	switch kind {
	case "message":
		if len(reply.Elems) < 3 {
			return
		}
		m.registry.Deliver(stripPrefix(m.opts.ChannelPrefix, reply.Elems[1].String()), subscribe.Exact, reply.Elems[2].Str)
	case "smessage":
		if len(reply.Elems) < 3 {
			return
		}
		m.registry.Deliver(stripPrefix(m.opts.ChannelPrefix, reply.Elems[1].String()), subscribe.Sharded, reply.Elems[2].Str)
	case "pmessage":
		if len(reply.Elems) < 4 {
			return
		}
		m.registry.DeliverPattern(stripPrefix(m.opts.ChannelPrefix, reply.Elems[1].String()), stripPrefix(m.opts.ChannelPrefix, reply.Elems[2].String()), reply.Elems[3].Str)
	case "subscribe", "psubscribe", "ssubscribe", "unsubscribe", "punsubscribe", "sunsubscribe":
		// Confirmation frames are consumed synchronously by the command
		// that issued them (they travel through the ordinary in-flight
		// FIFO, not the push path, on every bridge this module builds);
		// reaching here means a stray duplicate, safe to ignore.
	}
}

func stripPrefix(prefix, channel string) string {
	return strings.TrimPrefix(channel, prefix)
}

// ExecuteOptions customizes one Execute call beyond the base flags.
type ExecuteOptions struct {
	// Keys drives §4.6 hash-slot routing and cross-slot admission. Leave
	// nil for a non-keyed command (administrative commands, PING, ...).
	Keys [][]byte

	Flags rcmd.Flag

	// DB selects a logical database for this command. The zero value (0)
	// selects database 0 explicitly, same as any other index; pass
	// rcmd.UnsetDB to defer to the connection's configured
	// DefaultDatabase instead of naming one.
	DB int16

	Deadline time.Time
}

// Execute is the core entry point of §4.5: build a Command, select a
// server, submit it, and follow MOVED/ASK redirection until a final reply
// or routing failure.
func (m *Multiplexer) Execute(ctx context.Context, argv [][]byte, o ExecuteOptions) (resp.Reply, error) {
	if m.closing.Load() {
		return resp.Reply{}, rerr.New(rerr.MultiplexerClosed, "multiplexer is closing or closed", nil)
	}

	slot, err := m.slotFor(o.Keys, o.Flags)
	if err != nil {
		return resp.Reply{}, err
	}

	db := o.DB
	if db == rcmd.UnsetDB {
		db = int16(m.opts.DefaultDatabase)
	}

	var (
		depth       int
		asking      bool
		targetID    cluster.EndpointID
		targetKnown bool
	)
	for {
		var id cluster.EndpointID
		if targetKnown {
			id = targetID
		} else {
			id, err = m.selector.Choose(slot, o.Flags, m.roundRobinCandidates())
			if err != nil {
				return resp.Reply{}, err
			}
		}

		ep, ok := m.endpointByID(id)
		if !ok {
			return resp.Reply{}, rerr.New(rerr.NoServerAvailable, "selected endpoint no longer exists", nil)
		}

		cmd := rcmd.New(cloneArgv(argv), o.Flags, db, o.Deadline)
		cmd.HashSlot = slot

		var out rcmd.Outcome
		if asking {
			// §4.6 ASK: the ASKING flag and the redirected command travel
			// in the same exclusive write block so no other caller's
			// command can land on this bridge between them.
			reply, err := execAsking(ctx, ep.Interactive, cmd)
			asking = false
			if err != nil {
				return resp.Reply{}, err
			}
			out = rcmd.Outcome{Reply: reply}
		} else {
			ep.Interactive.TryWrite(cmd)
			select {
			case out = <-cmd.Sink:
			case <-ctx.Done():
				return resp.Reply{}, ctx.Err()
			}
		}

		if out.Err != nil {
			return resp.Reply{}, out.Err
		}
		if o.Flags.Has(rcmd.FireAndForget) {
			return out.Reply, nil
		}

		if out.Reply.IsError() {
			if redir, ok := cluster.ParseRedirect(out.Reply); ok {
				if o.Flags.Has(rcmd.NoRedirect) {
					return resp.Reply{}, rerr.New(rerr.ServerError, out.Reply.String(), nil)
				}
				depth++
				if depth > m.maxRedirects {
					return resp.Reply{}, rerr.New(rerr.TooManyRedirects, fmt.Sprintf("exceeded %d redirects", m.maxRedirects), nil)
				}
				rid, _, found := m.endpointByAddr(redir.Addr)
				if !found {
					rid, _ = m.addEndpoint(redir.Addr)
					newEp, _ := m.endpointByID(rid)
					go func() { _ = newEp.Connect(ctx) }()
				}
				switch redir.Kind {
				case cluster.RedirectMoved:
					m.applyMoved(redir.Slot, rid)
					m.bus.Publish(events.Event{Kind: events.HashSlotMoved, Slot: int32(redir.Slot), Endpoint: redir.Addr})
					targetID, targetKnown = rid, true
					continue
				case cluster.RedirectAsk:
					targetID, targetKnown = rid, true
					asking = true
					continue
				}
			}
			return resp.Reply{}, rerr.New(rerr.ServerError, out.Reply.String(), nil)
		}

		return out.Reply, nil
	}
}

// ExecuteFireAndForget submits cmd with the FireAndForget flag set and
// returns once the bridge has accepted it onto the wire or backlog,
// without waiting for (or expecting) a matched reply (§4.5).
func (m *Multiplexer) ExecuteFireAndForget(ctx context.Context, argv [][]byte, o ExecuteOptions) error {
	o.Flags |= rcmd.FireAndForget
	_, err := m.Execute(ctx, argv, o)
	return err
}

// slotFor computes §4.6's hash slot for a keyed command and enforces the
// cross-slot admission rule; -1 means "not keyed".
func (m *Multiplexer) slotFor(keys [][]byte, flags rcmd.Flag) (int16, error) {
	if len(keys) == 0 || m.deployment != cluster.DeploymentCluster {
		return -1, nil
	}
	first := cluster.Slot(keys[0])
	for _, k := range keys[1:] {
		if cluster.Slot(k) != first {
			if flags.Has(rcmd.NoRedirect) {
				return int16(first), nil
			}
			return 0, rerr.New(rerr.CrossSlot, "command keys hash to different slots", nil)
		}
	}
	return int16(first), nil
}

func (m *Multiplexer) applyMoved(slot uint16, id cluster.EndpointID) {
	m.topology.Swap(m.topology.ApplyMoved(slot, id))
}

// execAsking runs ASKING followed by cmd as one exclusive write block on
// br, satisfying §4.8-style atomicity for the ASK redirect's two-frame
// sequence (§4.6).
func execAsking(ctx context.Context, br *bridge.Bridge, cmd *rcmd.Command) (resp.Reply, error) {
	var result resp.Reply
	err := br.RunExclusive(ctx, func(write func(*rcmd.Command) (resp.Reply, error)) error {
		asking := rcmd.New([][]byte{[]byte("ASKING")}, rcmd.InternalCall, -1, cmd.Deadline)
		if _, err := write(asking); err != nil {
			return err
		}
		r, err := write(cmd)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func cloneArgv(argv [][]byte) [][]byte {
	out := make([][]byte, len(argv))
	copy(out, argv)
	return out
}

// Reconfigure re-fetches cluster topology (CLUSTER NODES on a connected
// endpoint) and atomically swaps the SlotMap (§4.5, §4.6 "topology
// refresh"). It is a no-op on a standalone deployment.
func (m *Multiplexer) Reconfigure(ctx context.Context) error {
	if m.deployment != cluster.DeploymentCluster {
		return nil
	}
	var reply resp.Reply
	var lastErr error
	for _, id := range m.roundRobinCandidates() {
		ep, ok := m.endpointByID(id)
		if !ok || !ep.Connected() {
			continue
		}
		cmd := rcmd.New([][]byte{[]byte("CLUSTER"), []byte("NODES")}, rcmd.InternalCall, -1, time.Time{})
		ep.Interactive.TryWrite(cmd)
		out := <-cmd.Sink
		if out.Err != nil {
			lastErr = out.Err
			continue
		}
		if out.Reply.IsError() {
			lastErr = rerr.New(rerr.ServerError, out.Reply.String(), nil)
			continue
		}
		reply = out.Reply
		lastErr = nil
		break
	}
	if lastErr != nil {
		m.bus.Publish(events.Event{Kind: events.InternalError, Err: lastErr, Message: "topology refresh failed"})
		return lastErr
	}

	parsed, err := cluster.ParseClusterNodes(reply.String())
	if err != nil {
		m.bus.Publish(events.Event{Kind: events.InternalError, Err: err, Message: "CLUSTER NODES parse failed"})
		return err
	}

	nodes := make([]cluster.NodeInfo, 0, len(parsed))
	for _, n := range parsed {
		id, ep, ok := m.endpointByAddr(n.Addr)
		if !ok {
			id, ep = m.addEndpoint(n.Addr)
			go func() { _ = ep.Connect(ctx) }()
		}
		role := cluster.RoleReplica
		if n.Primary {
			role = cluster.RolePrimary
		}
		info := cluster.NodeInfo{ID: id, Addr: n.Addr, Role: role, Slots: n.Slots}
		if n.MasterID != "" {
			if masterID, _, ok := m.resolveClusterID(n.MasterID, parsed); ok {
				info.MasterID = masterID
			}
		}
		nodes = append(nodes, info)
		_ = ep // newly discovered endpoints are already connecting (the goroutine above started Connect); existing ones are left to the heartbeat's own retry policy
	}

	m.topology.Swap(cluster.BuildTopology(nodes))
	m.bus.Publish(events.Event{Kind: events.ConfigurationChanged})
	return nil
}

// resolveClusterID maps a CLUSTER NODES node-id to the EndpointID this
// arena assigned its address, by scanning the parsed roster for the
// address owning that node-id.
func (m *Multiplexer) resolveClusterID(nodeID string, parsed []cluster.ParsedNode) (cluster.EndpointID, string, bool) {
	for _, n := range parsed {
		if n.ID == nodeID {
			id, _, ok := m.endpointByAddr(n.Addr)
			return id, n.Addr, ok
		}
	}
	return 0, "", false
}

// startBackgroundLoops runs the heartbeat/timeout-sweeper tasks of §4.3 /
// §5 at a fixed cadence until Close.
func (m *Multiplexer) startBackgroundLoops() {
	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-m.heartbeatCtx.Done():
				return
			case now := <-ticker.C:
				m.arenaMu.RLock()
				entries := make([]*arenaEntry, 0, len(m.byID))
				for _, e := range m.byID {
					entries = append(entries, e)
				}
				m.arenaMu.RUnlock()
				for _, e := range entries {
					e.ep.Heartbeat(m.heartbeatCtx, tracerCommand)
					e.ep.SweepTimeouts(now)
				}
			}
		}
	}()
}

func tracerCommand() *rcmd.Command {
	return rcmd.New([][]byte{[]byte("PING")}, rcmd.InternalCall|rcmd.HighPriority, -1, time.Time{})
}

// MetricsHandler exposes every bridge's ConnectionCounters as a Prometheus
// scrape endpoint (§2 "side-car components"; new relative to spec.md).
func (m *Multiplexer) MetricsHandler() http.Handler {
	exp := metrics.New("redismux", m.metricsSnapshot)
	return exp.Handler()
}

func (m *Multiplexer) metricsSnapshot() []metrics.Snapshot {
	m.arenaMu.RLock()
	defer m.arenaMu.RUnlock()
	out := make([]metrics.Snapshot, 0, len(m.byID)*2)
	for addr, id := range m.byAddr {
		e, ok := m.byID[id]
		if !ok {
			continue
		}
		out = append(out, metrics.Snapshot{Endpoint: addr, Role: "interactive", State: e.ep.Interactive.State().String(), Counters: e.ep.Interactive.Counters()})
		if e.ep.Subscription != nil {
			out = append(out, metrics.Snapshot{Endpoint: addr, Role: "subscription", State: e.ep.Subscription.State().String(), Counters: e.ep.Subscription.Counters()})
		}
	}
	return out
}

// Events subscribes to every event kind (§7); callers filter by Event.Kind.
// The returned channel is bounded and drops its oldest entry under
// backpressure (events.Bus), never blocking the internal goroutine that
// published it.
func (m *Multiplexer) Events() (<-chan events.Event, func()) {
	return m.bus.Subscribe()
}

// Close implements §4.5's close(graceful). Either way it stops admitting
// new commands first. With graceful it then waits a fixed 50ms; it does
// not wait for the in-flight FIFOs or backlogs to empty. It then stops the
// heartbeat and closes every endpoint, and Bridge.Close fails whatever is
// still backlogged or in flight.
func (m *Multiplexer) Close(graceful bool) {
	if !m.closing.CompareAndSwap(false, true) {
		return
	}
	if graceful {
		time.Sleep(50 * time.Millisecond)
	}
	m.heartbeatCancel()
	m.bgWG.Wait()

	m.arenaMu.RLock()
	entries := make([]*arenaEntry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	m.arenaMu.RUnlock()
	for _, e := range entries {
		e.ep.Close()
	}
	m.closed.Store(true)
}
