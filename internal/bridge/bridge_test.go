package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/transport"
	"github.com/stretchr/testify/require"
)

// fakeDialer hands back one end of a net.Pipe, letting tests act as the
// Redis server on the other end.
type fakeDialer struct{ server net.Conn }

func (d *fakeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	d.server = server
	return client, nil
}

func noopHandshake(ctx context.Context, pc *transport.PhysicalConnection) error { return nil }

func newTestBridge(t *testing.T) (*Bridge, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	b := New(RoleInteractive, "fake:6379", d, resp.Protocol2, Config{
		BacklogLimit:      16,
		ConnectTimeout:    time.Second,
		KeepAliveInterval: time.Hour,
	}, noopHandshake, nil, nil, nil)
	require.NoError(t, b.Connect(context.Background()))
	return b, d
}

func readFrame(t *testing.T, conn net.Conn) string {
	t.Helper()
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestTryWriteWritesDirectlyWhenConnectedAndIdle(t *testing.T) {
	b, d := newTestBridge(t)

	cmd := rcmd.New([][]byte{[]byte("PING")}, 0, -1, time.Time{})
	// net.Pipe is unbuffered: TryWrite returns only once the frame is read.
	resultCh := make(chan WriteResult, 1)
	go func() { resultCh <- b.TryWrite(cmd) }()

	frame := readFrame(t, d.server)
	require.Contains(t, frame, "PING")
	result := <-resultCh
	require.Equal(t, Written, result)

	go func() { d.server.Write([]byte("+PONG\r\n")) }()
	select {
	case out := <-cmd.Sink:
		require.NoError(t, out.Err)
		require.Equal(t, "PONG", out.Reply.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestFireAndForgetFulfillsImmediately(t *testing.T) {
	b, d := newTestBridge(t)
	go func() {
		buf := make([]byte, 4096)
		d.server.Read(buf)
	}()

	cmd := rcmd.New([][]byte{[]byte("SET"), []byte("k"), []byte("v")}, rcmd.FireAndForget, -1, time.Time{})
	result := b.TryWrite(cmd)
	require.Equal(t, Written, result)

	select {
	case out := <-cmd.Sink:
		require.NoError(t, out.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("fire-and-forget command never fulfilled")
	}
}

func TestDisconnectFailsInFlightInFIFOOrder(t *testing.T) {
	b, d := newTestBridge(t)

	cmd1 := rcmd.New([][]byte{[]byte("GET"), []byte("a")}, 0, -1, time.Time{})
	cmd2 := rcmd.New([][]byte{[]byte("GET"), []byte("b")}, 0, -1, time.Time{})

	go func() {
		buf := make([]byte, 4096)
		d.server.Read(buf)
	}()
	require.Equal(t, Written, b.TryWrite(cmd1))

	// Queue cmd2 behind the write mutex by holding it briefly.
	b.writeMu.Lock()
	result2 := b.TryWrite(cmd2)
	b.writeMu.Unlock()
	require.Equal(t, Queued, result2)

	d.server.Close()

	select {
	case out := <-cmd1.Sink:
		require.Error(t, out.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("cmd1 never failed on disconnect")
	}

	require.Eventually(t, func() bool {
		return b.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriteDirectIssuesSelectOnDatabaseChange(t *testing.T) {
	b, d := newTestBridge(t)

	cmd := rcmd.New([][]byte{[]byte("GET"), []byte("a")}, 0, 3, time.Time{})
	// net.Pipe is unbuffered: TryWrite returns only once both frames are read.
	resultCh := make(chan WriteResult, 1)
	go func() { resultCh <- b.TryWrite(cmd) }()

	selectFrame := readFrame(t, d.server)
	require.Contains(t, selectFrame, "SELECT")
	require.Contains(t, selectFrame, "3")

	getFrame := readFrame(t, d.server)
	require.Contains(t, getFrame, "GET")
	require.Equal(t, Written, <-resultCh)
	go func() {
		d.server.Write([]byte("+OK\r\n"))
		d.server.Write([]byte("$1\r\nx\r\n"))
	}()

	select {
	case out := <-cmd.Sink:
		require.NoError(t, out.Err)
		require.Equal(t, "x", out.Reply.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	require.EqualValues(t, 3, b.currentDB)

	// A second command on the same database must not repeat the SELECT.
	cmd2 := rcmd.New([][]byte{[]byte("GET"), []byte("b")}, 0, 3, time.Time{})
	go func() { resultCh <- b.TryWrite(cmd2) }()
	frame := readFrame(t, d.server)
	require.Contains(t, frame, "GET")
	require.NotContains(t, frame, "SELECT")
	require.Equal(t, Written, <-resultCh)
	go func() { d.server.Write([]byte("$1\r\ny\r\n")) }()
	select {
	case out := <-cmd2.Sink:
		require.NoError(t, out.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestBacklogOverflowFailsCommand(t *testing.T) {
	d := &fakeDialer{}
	b := New(RoleInteractive, "fake:6379", d, resp.Protocol2, Config{
		BacklogLimit:          1,
		BacklogOverflowPolicy: OverflowFail,
		ConnectTimeout:        time.Second,
	}, noopHandshake, nil, nil, nil)
	// Never call Connect: bridge stays Disconnected so TryWrite always queues.

	cmd1 := rcmd.New([][]byte{[]byte("GET"), []byte("a")}, 0, -1, time.Time{})
	cmd2 := rcmd.New([][]byte{[]byte("GET"), []byte("b")}, 0, -1, time.Time{})

	require.Equal(t, Queued, b.TryWrite(cmd1))
	require.Equal(t, Queued, b.TryWrite(cmd2))

	select {
	case out := <-cmd2.Sink:
		require.Error(t, out.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("overflowing command never failed")
	}
}

func TestCloseFailsBacklogAndInFlight(t *testing.T) {
	b, d := newTestBridge(t)
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := d.server.Read(buf); err != nil {
				return
			}
		}
	}()

	cmd := rcmd.New([][]byte{[]byte("GET"), []byte("a")}, 0, -1, time.Time{})
	b.TryWrite(cmd)
	b.Close()

	select {
	case out := <-cmd.Sink:
		require.Error(t, out.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("command never failed on Close")
	}
}
