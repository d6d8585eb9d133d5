// Package subscribe implements the Subscription registry of spec.md §4.7:
// entries keyed by (channel, kind), fanning out delivered pub/sub push
// frames to handlers (inline, non-blocking callbacks) and queues (bounded
// FIFOs the caller drains), and restoring every active subscription after
// a reconnect. Grounded on pascaldekloe-redis/pubsub.go's Listener —
// generalized from its single "requested subs" map to the spec's
// (channel, kind) keying and the handler/queue dual consumption model; the
// cancel-closure returned from each Subscribe call mirrors the teacher's
// SUBSCRIBE(channel) (messages, UNSUBSCRIBE func()) shape.
package subscribe

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Kind distinguishes the three subscribe flavors (§4.7).
type Kind uint8

const (
	Exact Kind = iota
	Pattern
	Sharded
)

func (k Kind) String() string {
	switch k {
	case Pattern:
		return "pattern"
	case Sharded:
		return "sharded"
	default:
		return "exact"
	}
}

// Message is one delivered push payload.
type Message struct {
	Channel []byte
	Payload []byte
}

// Handler is a synchronous, non-blocking callback (§4.7): "a handler that
// blocks is a client bug". Registry.Deliver invokes it inline on whatever
// goroutine is decoding the read loop.
type Handler func(channel, payload []byte)

// Queue is a bounded FIFO a caller drains via C(). Overflow drops the
// oldest entry and increments a sharded counter (§4.7 "bounded-queue
// overflow policy: drop oldest with a counter increment").
type Queue struct {
	ch chan Message
}

// C exposes the delivery channel for select-based consumption.
func (q *Queue) C() <-chan Message { return q.ch }

func (q *Queue) push(msg Message, onDrop func()) {
	select {
	case q.ch <- msg:
		return
	default:
	}
	select {
	case <-q.ch:
		onDrop()
	default:
	}
	select {
	case q.ch <- msg:
	default:
	}
}

type key struct {
	channel string
	kind    Kind
}

type consumerID uint64

// entry is one (channel, kind)'s registered consumers and wire-attachment
// state.
type entry struct {
	mu       sync.Mutex
	handlers map[consumerID]Handler
	queues   map[consumerID]*Queue
	attached bool // true once a SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE has been acknowledged
}

func (e *entry) empty() bool { return len(e.handlers) == 0 && len(e.queues) == 0 }

// overflowShards bounds the sharded overflow-counter array; channel names
// hash into it via xxhash so concurrent overflow on unrelated channels
// does not contend on one counter (§4.7, grounded on the teacher's use of
// xxhash for cluster-slot hashing, repurposed here for counter sharding).
const overflowShards = 64

// Registry is the concurrent (channel, kind) → entry map (§4.7 "concurrent
// map keyed by (channel, kind); per-entry mutex for handler/queue list
// mutation; reads are atomic snapshots").
type Registry struct {
	mu      sync.RWMutex
	entries map[key]*entry
	nextID  atomic.Uint64

	overflowCount [overflowShards]uint64
	overflowMu    [overflowShards]sync.Mutex
}

// NewRegistry builds an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]*entry)}
}

func (r *Registry) allocID() consumerID {
	return consumerID(r.nextID.Add(1))
}

// SubscribeHandler registers handler for (channel, kind). It returns
// needsWire — true when this is the first consumer and the caller must
// issue the wire SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE (§4.7's idempotency
// rule) — and cancel, which removes the handler and reports whether the
// entry is now empty (caller must then issue the unsubscribe command).
func (r *Registry) SubscribeHandler(channel string, kind Kind, h Handler) (needsWire bool, cancel func() (empty bool)) {
	e := r.entryFor(channel, kind)
	id := r.allocID()

	e.mu.Lock()
	needsWire = !e.attached
	e.handlers[id] = h
	e.mu.Unlock()

	return needsWire, func() (empty bool) {
		e.mu.Lock()
		delete(e.handlers, id)
		empty = e.empty()
		e.mu.Unlock()
		return empty
	}
}

// SubscribeQueue builds a new bounded Queue registered for (channel,
// kind). Same idempotency/cancel contract as SubscribeHandler; cancel
// also closes the queue's channel.
func (r *Registry) SubscribeQueue(channel string, kind Kind, capacity int) (q *Queue, needsWire bool, cancel func() (empty bool)) {
	if capacity < 1 {
		capacity = 1
	}
	q = &Queue{ch: make(chan Message, capacity)}
	e := r.entryFor(channel, kind)
	id := r.allocID()

	e.mu.Lock()
	needsWire = !e.attached
	e.queues[id] = q
	e.mu.Unlock()

	return q, needsWire, func() (empty bool) {
		e.mu.Lock()
		if _, ok := e.queues[id]; ok {
			delete(e.queues, id)
			close(q.ch)
		}
		empty = e.empty()
		e.mu.Unlock()
		return empty
	}
}

// MarkAttached records that the wire subscribe command for (channel, kind)
// was acknowledged, so subsequent Subscribe calls skip re-issuing it.
func (r *Registry) MarkAttached(channel string, kind Kind) {
	e := r.entryFor(channel, kind)
	e.mu.Lock()
	e.attached = true
	e.mu.Unlock()
}

// Remove deletes the (channel, kind) entry entirely, used once the
// corresponding unsubscribe command is acknowledged and the entry was
// already empty.
func (r *Registry) Remove(channel string, kind Kind) {
	r.mu.Lock()
	delete(r.entries, key{channel: channel, kind: kind})
	r.mu.Unlock()
}

// Deliver fans a received message to every handler (invoked inline) and
// every queue (bounded push, drop-oldest on overflow) registered for
// (channel, kind) (§4.7 "Message delivery"). It is a no-op if no consumer
// is registered — an unsolicited push after a race with Unsubscribe.
func (r *Registry) Deliver(channel string, kind Kind, payload []byte) {
	r.deliver(channel, kind, channel, payload)
}

// DeliverPattern fans a pmessage to the handlers/queues registered under
// pattern (the lookup key, what the caller actually SUBSCRIBEd to) but
// reports channel — the concrete channel the message was published on —
// in the delivered Message, matching the server's
// ["pmessage", pattern, channel, payload] shape (§4.7).
func (r *Registry) DeliverPattern(pattern, channel string, payload []byte) {
	r.deliver(pattern, Pattern, channel, payload)
}

func (r *Registry) deliver(lookupKey string, kind Kind, deliveredChannel string, payload []byte) {
	r.mu.RLock()
	e, ok := r.entries[key{channel: lookupKey, kind: kind}]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	handlers := make([]Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	queues := make([]*Queue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	msg := Message{Channel: []byte(deliveredChannel), Payload: payload}
	for _, h := range handlers {
		h(msg.Channel, msg.Payload)
	}
	for _, q := range queues {
		q.push(msg, func() { r.bumpOverflow(lookupKey) })
	}
}

// ActiveSubscription is one (channel, kind) pair with at least one
// registered consumer, for resubscription after a reconnect.
type ActiveSubscription struct {
	Channel string
	Kind    Kind
}

// ActiveChannels lists every (channel, kind) pair with at least one
// registered consumer (§4.3 "Reconnect" / §4.7).
func (r *Registry) ActiveChannels() []ActiveSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActiveSubscription, 0, len(r.entries))
	for k, e := range r.entries {
		e.mu.Lock()
		empty := e.empty()
		e.mu.Unlock()
		if empty {
			continue
		}
		out = append(out, ActiveSubscription{Channel: k.channel, Kind: k.kind})
	}
	return out
}

// ResetAttachment marks every entry as not-attached, called when the
// owning bridge disconnects so the next reconnect re-issues every
// subscribe command (§4.3 "resubscribe outstanding subscriptions").
func (r *Registry) ResetAttachment() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		e.mu.Lock()
		e.attached = false
		e.mu.Unlock()
	}
}

// OverflowCount reports the total number of dropped-oldest events across
// all queues, for diagnostics/metrics.
func (r *Registry) OverflowCount() uint64 {
	var total uint64
	for i := range r.overflowCount {
		r.overflowMu[i].Lock()
		total += r.overflowCount[i]
		r.overflowMu[i].Unlock()
	}
	return total
}

func (r *Registry) bumpOverflow(channel string) {
	idx := xxhash.Sum64String(channel) % overflowShards
	r.overflowMu[idx].Lock()
	r.overflowCount[idx]++
	r.overflowMu[idx].Unlock()
}

func (r *Registry) entryFor(channel string, kind Kind) *entry {
	k := key{channel: channel, kind: kind}
	r.mu.RLock()
	e, ok := r.entries[k]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[k]; ok {
		return e
	}
	e = &entry{handlers: make(map[consumerID]Handler), queues: make(map[consumerID]*Queue)}
	r.entries[k] = e
	return e
}
