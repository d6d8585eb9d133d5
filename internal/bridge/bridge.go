package bridge

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/transport"
	"golang.org/x/time/rate"
)

// Config tunes one Bridge (§4.3, §4.10).
type Config struct {
	BacklogLimit            int
	BacklogOverflowPolicy   OverflowPolicy
	BacklogSpillThreshold   int // 0 disables LZ4 spill compression
	MaxOpsPerSecond         float64
	KeepAliveInterval       time.Duration
	ConnectTimeout          time.Duration
	DisconnectBacklogExpiry time.Duration
}

// HandshakeFunc runs the ServerEndpoint handshake (§4.4) on a freshly
// dialed connection before the bridge admits user commands.
type HandshakeFunc func(ctx context.Context, pc *transport.PhysicalConnection) error

// ReconnectPolicy decides whether and how long to wait before the next
// reconnect attempt (§4.10).
type ReconnectPolicy interface {
	NextDelay(attempt int) (time.Duration, bool)
}

// Event is emitted on bridge-level state transitions, forwarded by the
// owning endpoint/multiplexer to the public event channels (§7).
type Event struct {
	State State
	Err   error
}

// integrityPending bridges a command's own reply to its trailing
// verification ECHO (§4.3 HighIntegrity): the command's reply is held
// here until the ECHO entry's turn confirms or refutes the token.
type integrityPending struct {
	cmd       *rcmd.Command
	reply     resp.Reply
	delivered bool
}

type inflightEntry struct {
	cmd      *rcmd.Command     // nil for an echo-trailer or SELECT entry
	pending  *integrityPending // set on the command entry when HighIntegrity; set on its trailer too
	isEcho   bool
	isSelect bool // reply belongs to a SELECT this bridge issued on cmd's behalf; drop it
}

// Bridge is exactly one (endpoint, role) write path (§4.3).
type Bridge struct {
	role      Role
	addr      string
	dialer    transport.Dialer
	proto     resp.Protocol
	cfg       Config
	handshake HandshakeFunc
	policy    ReconnectPolicy
	onPush    func(resp.Reply)
	onEvent   func(Event)

	writeMu sync.Mutex

	// currentDB is the database last selected on this connection, only
	// ever read or written while writeMu is held; it resets to 0 on every
	// fresh Connect (a newly dialed Redis connection always starts on
	// database 0, regardless of what the previous connection had
	// selected).
	currentDB int16

	state      atomic.Int32
	generation atomic.Int64
	pc         atomic.Pointer[transport.PhysicalConnection]

	inFlightMu sync.Mutex
	inFlight   []inflightEntry

	backlog *Backlog
	limiter *rate.Limiter

	drainerRunning atomic.Bool
	closed         atomic.Bool

	connectAttempt    atomic.Int32
	connectStartNanos atomic.Int64

	counters Counters
}

// New builds a Bridge for addr, not yet connected — call Connect to dial.
func New(role Role, addr string, dialer transport.Dialer, proto resp.Protocol, cfg Config, hs HandshakeFunc, policy ReconnectPolicy, onPush func(resp.Reply), onEvent func(Event)) *Bridge {
	b := &Bridge{
		role:      role,
		addr:      addr,
		dialer:    dialer,
		proto:     proto,
		cfg:       cfg,
		handshake: hs,
		policy:    policy,
		onPush:    onPush,
		onEvent:   onEvent,
		backlog:   NewBacklog(cfg.BacklogLimit, cfg.BacklogOverflowPolicy, cfg.BacklogSpillThreshold),
	}
	if cfg.MaxOpsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.MaxOpsPerSecond), int(cfg.MaxOpsPerSecond)+1)
	}
	b.state.Store(int32(StateDisconnected))
	return b
}

// State reports the current bridge state.
func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	if b.onEvent != nil {
		b.onEvent(Event{State: s})
	}
}

// BacklogLen reports the current backlog depth, for diagnostics/metrics.
func (b *Bridge) BacklogLen() int { return b.backlog.Len() }

// TryWrite implements §4.3's single-writer admission rule: a non-blocking
// attempt to acquire the write mutex and send directly, falling back to
// the backlog otherwise.
func (b *Bridge) TryWrite(cmd *rcmd.Command) WriteResult {
	if b.closed.Load() {
		cmd.Fail(rerr.New(rerr.MultiplexerClosed, "bridge closed", nil))
		return Written
	}
	if !b.writeMu.TryLock() {
		b.enqueue(cmd)
		return Queued
	}
	defer b.writeMu.Unlock()

	if b.State() != StateConnectedEstablished || b.backlog.Len() > 0 {
		b.enqueueLocked(cmd)
		return Queued
	}
	if err := b.writeDirect(cmd); err != nil {
		b.enqueueLocked(cmd)
		return Queued
	}
	return Written
}

func (b *Bridge) enqueue(cmd *rcmd.Command) {
	if !b.backlog.Push(cmd) {
		cmd.Fail(rerr.New(rerr.BacklogOverflow, "backlog full", nil))
		return
	}
	b.counters.PendingUnsent.Add(1)
	b.maybeStartDrainer()
}

func (b *Bridge) enqueueLocked(cmd *rcmd.Command) {
	if !b.backlog.Push(cmd) {
		cmd.Fail(rerr.New(rerr.BacklogOverflow, "backlog full", nil))
		return
	}
	b.counters.PendingUnsent.Add(1)
	b.maybeStartDrainer()
}

func (b *Bridge) maybeStartDrainer() {
	if b.drainerRunning.CompareAndSwap(false, true) {
		go b.drainLoop()
	}
}

// drainLoop is the single backlog-drainer task (§4.3): it owns the write
// mutex for the duration of each drain step.
func (b *Bridge) drainLoop() {
	defer b.drainerRunning.Store(false)
	for {
		entry, ok := b.backlog.Peek()
		if !ok {
			return
		}
		if !entry.cmd.Deadline.IsZero() && time.Now().After(entry.cmd.Deadline) {
			b.backlog.Pop()
			b.counters.PendingUnsent.Add(-1)
			entry.cmd.Fail(rerr.TimeoutErr(rerr.PhaseBacklog, "backlog timeout"))
			continue
		}
		if b.State() != StateConnectedEstablished {
			return // idle; restarted by Connect or the next enqueue
		}
		if b.limiter != nil {
			_ = b.limiter.Wait(context.Background())
		}

		b.writeMu.Lock()
		// Re-check after any rate-limiter wait: state may have flipped.
		if b.State() != StateConnectedEstablished {
			b.writeMu.Unlock()
			return
		}
		frame, ferr := entry.wireFrame()
		if ferr != nil {
			b.writeMu.Unlock()
			b.backlog.Pop()
			b.counters.PendingUnsent.Add(-1)
			entry.cmd.Fail(rerr.New(rerr.ProtocolError, "backlog entry frame decode failed", ferr))
			continue
		}
		err := b.writeFrame(entry.cmd, frame)
		b.writeMu.Unlock()
		if err != nil {
			return // connection failure; ReadLoop's onClosed drives reconnect
		}
		b.backlog.Pop()
		b.counters.PendingUnsent.Add(-1)
	}
}

// writeDirect encodes and writes cmd, pushing it (and, for HighIntegrity,
// a trailing ECHO) onto the in-flight FIFO. Caller holds writeMu.
func (b *Bridge) writeDirect(cmd *rcmd.Command) error {
	return b.writeFrame(cmd, cmd.Encode())
}

// writeFrame writes frame (cmd's already-encoded wire form, possibly
// recovered from a compressed backlog entry) and pushes cmd onto the
// in-flight FIFO. Caller holds writeMu. When cmd.DB names a database
// other than the one last selected on this connection, a SELECT is
// written first and its own reply is tracked separately so it never
// reaches cmd's caller.
func (b *Bridge) writeFrame(cmd *rcmd.Command, frame []byte) error {
	pc := b.pc.Load()
	if pc == nil {
		return rerr.Connection(rerr.SocketClosed, "no active connection", nil)
	}

	if cmd.DB != rcmd.UnsetDB && cmd.DB != b.currentDB {
		selectFrame := resp.EncodeCommand([][]byte{[]byte("SELECT"), []byte(strconv.Itoa(int(cmd.DB)))})
		if err := pc.Write(selectFrame); err != nil {
			return err
		}
		b.pushInFlight(inflightEntry{isSelect: true})
		b.currentDB = cmd.DB
	}

	b.counters.OperationCount.Add(1)

	if cmd.Flags.Has(rcmd.HighIntegrity) {
		token := newIntegrityToken()
		cmd.IntegrityToken = &token
		tokenStr := strconv.FormatUint(uint64(token), 10)
		echoFrame := resp.EncodeCommand([][]byte{[]byte("ECHO"), []byte(tokenStr)})
		frame = append(frame, echoFrame...)

		pending := &integrityPending{cmd: cmd}
		if err := pc.Write(frame); err != nil {
			return err
		}
		b.counters.SentAwaitingResponse.Add(1)
		b.pushInFlight(inflightEntry{cmd: cmd, pending: pending})
		b.pushInFlight(inflightEntry{isEcho: true, pending: pending})
		return nil
	}

	if err := pc.Write(frame); err != nil {
		return err
	}
	if !cmd.Flags.Has(rcmd.FireAndForget) {
		b.counters.SentAwaitingResponse.Add(1)
		b.pushInFlight(inflightEntry{cmd: cmd})
	} else {
		b.counters.CompletedAsync.Add(1)
		cmd.Fulfill(resp.NilBulkString())
	}
	return nil
}

func (b *Bridge) pushInFlight(e inflightEntry) {
	b.inFlightMu.Lock()
	b.inFlight = append(b.inFlight, e)
	b.inFlightMu.Unlock()
}

func (b *Bridge) popInFlight() (inflightEntry, bool) {
	b.inFlightMu.Lock()
	defer b.inFlightMu.Unlock()
	if len(b.inFlight) == 0 {
		return inflightEntry{}, false
	}
	e := b.inFlight[0]
	b.inFlight = b.inFlight[1:]
	return e, true
}

// OnReply is the PhysicalConnection's read-loop callback (§4.3 "Reply
// arrival"). It must not block: handler dispatch for pushes happens
// inline, matching the spec's "invoked inline on the read-loop thread"
// rule for pub/sub (§4.7).
func (b *Bridge) OnReply(reply resp.Reply) {
	if reply.Kind == resp.KindPush {
		if b.onPush != nil {
			b.onPush(reply)
		}
		return
	}

	// A RESP2 subscription bridge never carries RESP3's Push tag, so a
	// delivered message/pmessage/smessage array is indistinguishable from
	// an ordinary reply by tag alone; route it by its first element
	// instead, without disturbing the in-flight FIFO.
	if b.role == RoleSubscription && isPubSubMessageArray(reply) {
		if b.onPush != nil {
			b.onPush(reply)
		}
		return
	}

	entry, ok := b.popInFlight()
	if !ok {
		return // unsolicited reply with nothing in flight; drop
	}

	if entry.isSelect {
		return // this bridge's own SELECT reply, not matched to any caller
	}

	if entry.isEcho {
		b.counters.SentAwaitingResponse.Add(-1)
		want := strconv.FormatUint(uint64(*entry.pending.cmd.IntegrityToken), 10)
		if reply.String() == want {
			entry.pending.cmd.Fulfill(entry.pending.reply)
			b.counters.CompletedSync.Add(1)
		} else {
			entry.pending.cmd.Fail(rerr.New(rerr.Integrity, "integrity token mismatch on trailing ECHO", nil))
			b.counters.FailedAsync.Add(1)
		}
		entry.pending.delivered = true
		return
	}

	if entry.pending != nil {
		entry.pending.reply = reply
		return
	}
	b.counters.SentAwaitingResponse.Add(-1)
	b.counters.CompletedSync.Add(1)
	entry.cmd.Fulfill(reply)
}

// onClosed is the PhysicalConnection's read-loop exit callback: fail the
// in-flight FIFO in order, retain the backlog, and transition to
// Disconnected (§4.3 "Reconnect").
func (b *Bridge) onClosed(cause rerr.ConnectionFailureCause, err error) {
	b.inFlightMu.Lock()
	pending := b.inFlight
	b.inFlight = nil
	b.inFlightMu.Unlock()

	connErr := rerr.Connection(cause, "connection lost", err)
	for _, e := range pending {
		switch {
		case e.isSelect:
			// No caller is waiting on a bridge-issued SELECT; nothing to fail.
		case e.isEcho:
			if e.pending != nil && !e.pending.delivered {
				e.pending.cmd.Fail(connErr)
				e.pending.delivered = true
				b.counters.SentAwaitingResponse.Add(-1)
				b.counters.FailedAsync.Add(1)
			}
		case e.pending != nil:
			if !e.pending.delivered {
				e.pending.cmd.Fail(connErr)
				e.pending.delivered = true
			}
		default:
			e.cmd.Fail(connErr)
			b.counters.SentAwaitingResponse.Add(-1)
			b.counters.FailedAsync.Add(1)
		}
	}

	b.setState(StateDisconnected)
}

// Connect dials, performs the handshake, and starts the read loop. It
// blocks until the handshake completes or fails.
func (b *Bridge) Connect(ctx context.Context) error {
	b.setState(StateConnecting)
	b.connectStartNanos.Store(time.Now().UnixNano())

	timeout := b.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gen := b.generation.Add(1)
	pc, err := transport.Dial(dialCtx, b.dialer, b.addr, b.proto, gen)
	if err != nil {
		b.setState(StateDisconnected)
		return err
	}

	b.setState(StateConnectedEstablishing)
	if b.handshake != nil {
		if err := b.handshake(dialCtx, pc); err != nil {
			pc.Close()
			b.setState(StateDisconnected)
			return err
		}
	}

	b.currentDB = 0 // a fresh connection always starts on database 0
	b.pc.Store(pc)
	b.setState(StateConnectedEstablished)
	b.connectAttempt.Store(0)
	b.counters.SocketCount.Add(1)

	go pc.ReadLoop(ctx, b.OnReply, func(cause rerr.ConnectionFailureCause, err error) {
		b.pc.Store(nil)
		b.onClosed(cause, err)
	})

	b.maybeStartDrainer()
	return nil
}

// RunExclusive holds the write mutex for the duration of fn, giving fn a
// write function that sends one command directly (bypassing the backlog)
// and blocks for its reply before returning. This lets a caller run a
// WATCH…MULTI…EXEC sequence (§4.8) atomically with respect to every other
// writer on this bridge, reusing the same single-writer mutex §4.3 already
// serializes ordinary commands with. Callers are internal/txn and the
// multiplexer's ASK redirect and resubscription paths.
func (b *Bridge) RunExclusive(ctx context.Context, fn func(write func(cmd *rcmd.Command) (resp.Reply, error)) error) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.State() != StateConnectedEstablished {
		return rerr.Connection(rerr.SocketClosed, "not connected", nil)
	}

	write := func(cmd *rcmd.Command) (resp.Reply, error) {
		if err := b.writeDirect(cmd); err != nil {
			return resp.Reply{}, err
		}
		select {
		case out := <-cmd.Sink:
			return out.Reply, out.Err
		case <-ctx.Done():
			return resp.Reply{}, ctx.Err()
		}
	}
	return fn(write)
}

// Heartbeat implements §4.3's periodic on_heartbeat task: reconnect when
// disconnected and policy allows, abort a hung connect attempt, or issue
// an idle tracer when connected.
func (b *Bridge) Heartbeat(ctx context.Context, tracer func() *rcmd.Command) {
	switch b.State() {
	case StateDisconnected:
		attempt := int(b.connectAttempt.Add(1))
		if b.policy == nil {
			return
		}
		delay, ok := b.policy.NextDelay(attempt)
		if !ok {
			return
		}
		time.AfterFunc(delay, func() { _ = b.Connect(ctx) })

	case StateConnecting, StateConnectedEstablishing:
		timeout := b.cfg.ConnectTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		started := time.Unix(0, b.connectStartNanos.Load())
		if time.Since(started) > timeout {
			if pc := b.pc.Load(); pc != nil {
				pc.Close()
			}
			b.setState(StateDisconnected)
		}

	case StateConnectedEstablished:
		pc := b.pc.Load()
		if pc == nil {
			return
		}
		idle := b.cfg.KeepAliveInterval
		if idle <= 0 {
			return
		}
		if time.Since(pc.LastWrite()) > idle && tracer != nil {
			cmd := tracer()
			if cmd != nil {
				b.TryWrite(cmd)
			}
		}
	}
}

// SweepTimeouts fails any in-flight command whose deadline has passed
// without disturbing FIFO order for the rest (§4.3 reply-ordering
// invariant still holds for survivors).
func (b *Bridge) SweepTimeouts(now time.Time) {
	b.inFlightMu.Lock()
	kept := b.inFlight[:0]
	var expired []inflightEntry
	for _, e := range b.inFlight {
		cmd := e.cmd
		if cmd == nil && e.pending != nil {
			cmd = e.pending.cmd
		}
		if cmd != nil && !cmd.Deadline.IsZero() && now.After(cmd.Deadline) {
			expired = append(expired, e)
			continue
		}
		kept = append(kept, e)
	}
	b.inFlight = kept
	b.inFlightMu.Unlock()

	for _, e := range expired {
		switch {
		case e.isEcho:
			if e.pending != nil && !e.pending.delivered {
				e.pending.cmd.Fail(rerr.TimeoutErr(rerr.PhaseInFlight, "in-flight timeout"))
				e.pending.delivered = true
				b.counters.SentAwaitingResponse.Add(-1)
				b.counters.FailedAsync.Add(1)
			}
		case e.pending != nil:
			if !e.pending.delivered {
				e.pending.cmd.Fail(rerr.TimeoutErr(rerr.PhaseInFlight, "in-flight timeout"))
				e.pending.delivered = true
			}
		default:
			e.cmd.Fail(rerr.TimeoutErr(rerr.PhaseInFlight, "in-flight timeout"))
			b.counters.SentAwaitingResponse.Add(-1)
			b.counters.FailedAsync.Add(1)
		}
	}
}

// Close aborts the connection and fails every pending command (§4.5
// close(graceful=false) path; graceful draining is the multiplexer's
// responsibility before calling Close).
func (b *Bridge) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if pc := b.pc.Load(); pc != nil {
		pc.Close()
	}
	for _, e := range b.backlog.DrainAll() {
		e.cmd.Fail(rerr.New(rerr.MultiplexerClosed, "bridge closed", nil))
		b.counters.PendingUnsent.Add(-1)
	}
	b.inFlightMu.Lock()
	pending := b.inFlight
	b.inFlight = nil
	b.inFlightMu.Unlock()
	for _, e := range pending {
		if e.isEcho {
			continue
		}
		cmd := e.cmd
		if cmd == nil && e.pending != nil {
			cmd = e.pending.cmd
		}
		if cmd != nil {
			cmd.Fail(rerr.New(rerr.MultiplexerClosed, "bridge closed", nil))
			b.counters.SentAwaitingResponse.Add(-1)
			b.counters.FailedAsync.Add(1)
		}
	}
}

// isPubSubMessageArray reports whether r is a ["message",...]/["pmessage",
// ...]/["smessage",...] push array rather than a command reply.
func isPubSubMessageArray(r resp.Reply) bool {
	if r.Kind != resp.KindArray || len(r.Elems) == 0 {
		return false
	}
	switch strings.ToLower(r.Elems[0].String()) {
	case "message", "pmessage", "smessage":
		return true
	default:
		return false
	}
}

var integrityCounter atomic.Uint32

func newIntegrityToken() uint32 { return integrityCounter.Add(1) }
