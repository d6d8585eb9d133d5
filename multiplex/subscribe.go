package multiplex

import (
	"context"
	"time"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/boomballa/redismux/internal/cluster"
	"github.com/boomballa/redismux/internal/endpoint"
	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/subscribe"
)

// Subscribe registers handler for channel (§4.5 `subscribe`, §4.7). The
// first consumer for a (channel, kind) pair issues the wire
// SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE; later consumers attach locally at no
// wire cost. The returned cancel removes handler and, once it was the
// last consumer, issues the corresponding unsubscribe.
func (m *Multiplexer) Subscribe(ctx context.Context, channel string, kind subscribe.Kind, handler subscribe.Handler) (cancel func(context.Context) error, err error) {
	if m.closing.Load() {
		return nil, rerr.New(rerr.MultiplexerClosed, "multiplexer is closing or closed", nil)
	}
	wire := m.opts.ChannelPrefix + channel
	needsWire, regCancel := m.registry.SubscribeHandler(wire, kind, handler)
	if needsWire {
		if err := m.attachWire(ctx, wire, kind); err != nil {
			regCancel()
			return nil, err
		}
	}
	return func(ctx context.Context) error { return m.finishCancel(ctx, wire, kind, regCancel) }, nil
}

// SubscribeQueue is Subscribe's bounded-queue consumption mode (§4.7).
func (m *Multiplexer) SubscribeQueue(ctx context.Context, channel string, kind subscribe.Kind, capacity int) (q *subscribe.Queue, cancel func(context.Context) error, err error) {
	if m.closing.Load() {
		return nil, nil, rerr.New(rerr.MultiplexerClosed, "multiplexer is closing or closed", nil)
	}
	wire := m.opts.ChannelPrefix + channel
	q, needsWire, regCancel := m.registry.SubscribeQueue(wire, kind, capacity)
	if needsWire {
		if err := m.attachWire(ctx, wire, kind); err != nil {
			regCancel()
			return nil, nil, err
		}
	}
	return q, func(ctx context.Context) error { return m.finishCancel(ctx, wire, kind, regCancel) }, nil
}

// Unsubscribe is a convenience wrapper equivalent to calling the cancel
// closure Subscribe/SubscribeQueue returned.
func (m *Multiplexer) Unsubscribe(ctx context.Context, cancel func(context.Context) error) error {
	return cancel(ctx)
}

func (m *Multiplexer) finishCancel(ctx context.Context, wire string, kind subscribe.Kind, regCancel func() bool) error {
	empty := regCancel()
	if !empty {
		return nil
	}
	m.subOwnerMu.Lock()
	id, ok := m.subOwner[subKey{wire, kind}]
	delete(m.subOwner, subKey{wire, kind})
	m.subOwnerMu.Unlock()
	if !ok {
		m.registry.Remove(wire, kind)
		return nil
	}
	ep, ok := m.endpointByID(id)
	if !ok {
		m.registry.Remove(wire, kind)
		return nil
	}
	br := subscriptionBridge(ep, kind)
	cmd := rcmd.New([][]byte{[]byte(unwireCommand(kind)), []byte(wire)}, rcmd.InternalCall, -1, time.Time{})
	br.TryWrite(cmd)
	select {
	case out := <-cmd.Sink:
		if out.Err == nil && !out.Reply.IsError() {
			m.registry.Remove(wire, kind)
		}
		return out.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attachWire issues the wire SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE for a newly
// activated (channel, kind) and records which endpoint now owns it.
func (m *Multiplexer) attachWire(ctx context.Context, wire string, kind subscribe.Kind) error {
	id, err := m.ownerFor(wire, kind)
	if err != nil {
		return err
	}
	ep, ok := m.endpointByID(id)
	if !ok {
		return rerr.New(rerr.NoServerAvailable, "subscription owner endpoint not found", nil)
	}
	br := subscriptionBridge(ep, kind)
	cmd := rcmd.New([][]byte{[]byte(wireCommand(kind)), []byte(wire)}, rcmd.InternalCall, -1, time.Time{})
	br.TryWrite(cmd)
	select {
	case out := <-cmd.Sink:
		if out.Err != nil {
			return out.Err
		}
		if out.Reply.IsError() {
			return rerr.New(rerr.ServerError, out.Reply.String(), nil)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	m.registry.MarkAttached(wire, kind)
	m.subOwnerMu.Lock()
	m.subOwner[subKey{wire, kind}] = id
	m.subOwnerMu.Unlock()
	return nil
}

// resubscribeEndpoint re-issues every active subscription this endpoint
// owns after it reaches ConnectedEstablished (§4.3 "Reconnect" /
// §4.7 "Restoration"): unconditional, not gated on the registry's
// attached flag, since a dropped connection always needs its
// subscriptions reinstated regardless of what the flag last recorded.
//
// Every bridge's batch runs inside one RunExclusive call so the write
// mutex stays held for the whole batch: spec.md §4.7 requires every
// outstanding subscription to be reissued before any ordinary Execute
// is admitted on the same connection, and a bare TryWrite per channel
// would release and reacquire the mutex between iterations, letting a
// concurrent Execute interleave mid-batch.
func (m *Multiplexer) resubscribeEndpoint(id cluster.EndpointID) {
	ep, ok := m.endpointByID(id)
	if !ok {
		return
	}

	byBridge := make(map[*bridge.Bridge][]subscribe.ActiveSubscription)
	for _, active := range m.registry.ActiveChannels() {
		owner, err := m.ownerFor(active.Channel, active.Kind)
		if err != nil || owner != id {
			continue
		}
		br := subscriptionBridge(ep, active.Kind)
		byBridge[br] = append(byBridge[br], active)
	}

	for br, batch := range byBridge {
		go m.resubscribeBatch(id, br, batch)
	}
}

// resubscribeBatch reissues every (channel, kind) pair in batch on br
// without releasing br's write mutex in between, so they land on the
// wire as one uninterrupted block ahead of any command still waiting
// on the mutex.
func (m *Multiplexer) resubscribeBatch(id cluster.EndpointID, br *bridge.Bridge, batch []subscribe.ActiveSubscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = br.RunExclusive(ctx, func(write func(*rcmd.Command) (resp.Reply, error)) error {
		for _, active := range batch {
			cmd := rcmd.New([][]byte{[]byte(wireCommand(active.Kind)), []byte(active.Channel)}, rcmd.InternalCall, -1, time.Time{})
			reply, err := write(cmd)
			if err != nil || reply.IsError() {
				continue
			}
			m.registry.MarkAttached(active.Channel, active.Kind)
			m.subOwnerMu.Lock()
			m.subOwner[subKey{active.Channel, active.Kind}] = id
			m.subOwnerMu.Unlock()
		}
		return nil
	})
}

// ownerFor picks the endpoint a (channel, kind) pair's wire subscribe
// command belongs on: the shared pubsub owner for Exact/Pattern, or the
// slot's primary for Sharded in cluster mode (§4.7).
func (m *Multiplexer) ownerFor(wire string, kind subscribe.Kind) (cluster.EndpointID, error) {
	if kind == subscribe.Sharded && m.deployment == cluster.DeploymentCluster {
		slot := cluster.SlotString(wire)
		if id := m.topology.PrimaryOf(slot); id != 0 {
			return id, nil
		}
		return 0, rerr.New(rerr.NoServerAvailable, "no primary owns the sharded channel's slot", nil)
	}
	id := cluster.EndpointID(m.pubsubOwner.Load())
	if id == 0 {
		return 0, rerr.New(rerr.NoServerAvailable, "no pubsub-capable endpoint configured", nil)
	}
	return id, nil
}

func subscriptionBridge(ep *endpoint.ServerEndpoint, kind subscribe.Kind) *bridge.Bridge {
	if kind == subscribe.Sharded || ep.Subscription == nil {
		return ep.Interactive
	}
	return ep.Subscription
}

func wireCommand(kind subscribe.Kind) string {
	switch kind {
	case subscribe.Pattern:
		return "PSUBSCRIBE"
	case subscribe.Sharded:
		return "SSUBSCRIBE"
	default:
		return "SUBSCRIBE"
	}
}

func unwireCommand(kind subscribe.Kind) string {
	switch kind {
	case subscribe.Pattern:
		return "PUNSUBSCRIBE"
	case subscribe.Sharded:
		return "SUNSUBSCRIBE"
	default:
		return "UNSUBSCRIBE"
	}
}
