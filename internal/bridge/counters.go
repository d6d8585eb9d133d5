package bridge

import "sync/atomic"

// Counters is spec.md §5's ConnectionCounters: a per-bridge block of
// independent atomic counters. Every field is incremented with fetch_add
// on the specific path that produces the event it names; reads are plain
// atomic loads (Relaxed in the spec's terms — Go's atomic package gives
// no weaker ordering to ask for, so a Load is the whole story).
type Counters struct {
	SentAwaitingResponse atomic.Int64
	PendingUnsent        atomic.Int64
	CompletedSync        atomic.Int64
	CompletedAsync       atomic.Int64
	FailedAsync          atomic.Int64
	Subscriptions        atomic.Int64
	SocketCount          atomic.Int64
	OperationCount       atomic.Int64
}

// Counters returns the bridge's counter block for metrics export
// (internal/metrics reads these directly; nothing here synchronizes with
// the write mutex, matching the spec's lock-free read requirement).
func (b *Bridge) Counters() *Counters { return &b.counters }
