// Package transport owns the physical duplex byte stream to one Redis
// endpoint. See internal/redisx/client.go in the teacher for the dial/
// keepalive/half-close technique this generalizes, and
// etsangsplk-redispipe/redisconn/conn.go for the generation-counter idea.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
)

const (
	keepAlivePeriod = 30 * time.Second
	readBufSize     = 64 * 1024
)

// Dialer abstracts net.Dialer so TLS (out of scope per the configuration
// surface, see rconfig) can be substituted later without touching
// PhysicalConnection or Bridge.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// tcpDialer is the default Dialer, tuned for Redis-style short commands
// rather than bulk transfer.
type tcpDialer struct{ d net.Dialer }

func (t *tcpDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return t.d.DialContext(ctx, network, addr)
}

// DefaultDialer returns the standard TCP dialer used when no Dialer is
// supplied.
func DefaultDialer() Dialer { return &tcpDialer{} }

// OnReply is invoked once per fully decoded frame, in arrival order, on the
// read loop's own goroutine (the bridge must not block it — see §4.3).
type OnReply func(reply resp.Reply)

// OnClosed is invoked exactly once when the read loop exits, carrying the
// ConnectionFailureCause that ended it.
type OnClosed func(cause rerr.ConnectionFailureCause, err error)

// PhysicalConnection owns one duplex byte stream to an endpoint (§4.2). It
// does not retain commands — the owning Bridge is authoritative for
// in-flight state; this type only moves bytes and decodes frames.
type PhysicalConnection struct {
	addr  string
	conn  net.Conn
	proto resp.Protocol
	buf   *resp.Buffer

	generation int64 // bumped by the caller on each successful (re)connect

	writeMu sync.Mutex
	closed  atomic.Bool

	lastWriteNanos atomic.Int64
	lastReadNanos  atomic.Int64
	bytesIn        atomic.Uint64
	bytesOut       atomic.Uint64

	connID atomic.Int64 // server-assigned id, set after CLIENT ID; 0 = unknown
}

// Dial opens a TCP connection to addr and returns a PhysicalConnection
// ready for read_loop to be started on it. generation is the caller's
// monotonic reconnect counter (§4.2 "connection generation").
func Dial(ctx context.Context, dialer Dialer, addr string, proto resp.Protocol, generation int64) (*PhysicalConnection, error) {
	if dialer == nil {
		dialer = DefaultDialer()
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rerr.Connection(rerr.UnableToConnect, "dial "+addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlivePeriod)
	}
	pc := &PhysicalConnection{
		addr:       addr,
		conn:       conn,
		proto:      proto,
		buf:        resp.NewBuffer(proto),
		generation: generation,
	}
	now := time.Now().UnixNano()
	pc.lastReadNanos.Store(now)
	pc.lastWriteNanos.Store(now)
	return pc, nil
}

// Generation returns the reconnect generation this connection was dialed
// with (§4.2).
func (pc *PhysicalConnection) Generation() int64 { return pc.generation }

// SetConnID records the server-assigned client id after CLIENT ID, for
// redirection diagnostics (§4.2, §4.4 step 3).
func (pc *PhysicalConnection) SetConnID(id int64) { pc.connID.Store(id) }

// ConnID returns the server-assigned client id, or 0 if CLIENT ID has not
// completed yet.
func (pc *PhysicalConnection) ConnID() int64 { return pc.connID.Load() }

// SetProtocol upgrades the decode buffer once HELLO 3 succeeds.
func (pc *PhysicalConnection) SetProtocol(proto resp.Protocol) {
	pc.proto = proto
	pc.buf.SetProtocol(proto)
}

// LastWrite and LastRead report the last successful IO time, used by the
// heartbeat to decide idle timeouts (§4.3).
func (pc *PhysicalConnection) LastWrite() time.Time {
	return time.Unix(0, pc.lastWriteNanos.Load())
}
func (pc *PhysicalConnection) LastRead() time.Time {
	return time.Unix(0, pc.lastReadNanos.Load())
}

// BytesIn and BytesOut report cumulative byte counters (§4.2).
func (pc *PhysicalConnection) BytesIn() uint64  { return pc.bytesIn.Load() }
func (pc *PhysicalConnection) BytesOut() uint64 { return pc.bytesOut.Load() }

// Write sends a fully-encoded command frame. Concurrent Write calls are
// serialized; the single-writer discipline above this (Bridge's write
// mutex) means contention here is not expected, but PhysicalConnection
// does not rely on that.
func (pc *PhysicalConnection) Write(frame []byte) error {
	if pc.closed.Load() {
		return rerr.Connection(rerr.SocketClosed, "write after close", nil)
	}
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()

	n, err := pc.conn.Write(frame)
	if err != nil {
		return rerr.Connection(rerr.SocketFailure, "write "+pc.addr, err)
	}
	pc.bytesOut.Add(uint64(n))
	pc.lastWriteNanos.Store(time.Now().UnixNano())
	return nil
}

// RoundTrip writes frame and blocks until exactly one reply has been
// decoded, honoring ctx's deadline. It is for the handshake only (§4.4):
// before ReadLoop is started, nothing else is draining the socket, so the
// handshake needs its own synchronous request/response helper rather than
// going through the bridge's async OnReply path.
func (pc *PhysicalConnection) RoundTrip(ctx context.Context, frame []byte) (resp.Reply, error) {
	if err := pc.Write(frame); err != nil {
		return resp.Reply{}, err
	}
	if dl, ok := ctx.Deadline(); ok {
		pc.conn.SetReadDeadline(dl)
		defer pc.conn.SetReadDeadline(time.Time{})
	}

	chunk := make([]byte, 4096)
	for {
		reply, ok, err := pc.buf.DecodeNext()
		if err != nil {
			return resp.Reply{}, rerr.Connection(rerr.ProtocolFailure, "handshake decode", err)
		}
		if ok {
			return reply, nil
		}
		n, err := pc.conn.Read(chunk)
		if n > 0 {
			pc.bytesIn.Add(uint64(n))
			pc.lastReadNanos.Store(time.Now().UnixNano())
			pc.buf.Append(chunk[:n])
		}
		if err != nil {
			return resp.Reply{}, rerr.Connection(classifyReadErr(err), "handshake read", err)
		}
	}
}

// ReadLoop repeatedly reads into the codec buffer, decodes zero or more
// complete frames, and delivers each to onReply, until IO fails or ctx is
// cancelled (§4.2). It blocks the calling goroutine; callers run it in its
// own goroutine. onClosed fires exactly once on exit with the cause.
func (pc *PhysicalConnection) ReadLoop(ctx context.Context, onReply OnReply, onClosed OnClosed) {
	defer pc.conn.Close()

	chunk := make([]byte, readBufSize)
	for {
		if ctx.Err() != nil {
			onClosed(rerr.SocketClosed, ctx.Err())
			return
		}
		n, err := pc.conn.Read(chunk)
		if n > 0 {
			pc.bytesIn.Add(uint64(n))
			pc.lastReadNanos.Store(time.Now().UnixNano())
			pc.buf.Append(chunk[:n])
			for {
				reply, ok, derr := pc.buf.DecodeNext()
				if derr != nil {
					onClosed(rerr.ProtocolFailure, derr)
					return
				}
				if !ok {
					break
				}
				onReply(reply)
			}
		}
		if err != nil {
			pc.closed.Store(true)
			onClosed(classifyReadErr(err), err)
			return
		}
	}
}

// Close shuts down the connection. Safe to call more than once.
func (pc *PhysicalConnection) Close() error {
	if !pc.closed.CompareAndSwap(false, true) {
		return nil
	}
	return pc.conn.Close()
}

// CloseWrite half-closes the write side, matching the teacher's graceful
// shutdown path (internal/redisx/client.go's CloseWrite) for servers that
// mishandle an abrupt RST while still draining pending reads.
func (pc *PhysicalConnection) CloseWrite() error {
	if tc, ok := pc.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return pc.Close()
}

func classifyReadErr(err error) rerr.ConnectionFailureCause {
	if errors.Is(err, net.ErrClosed) {
		return rerr.SocketClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return rerr.SocketFailure
	}
	return rerr.SocketFailure
}
