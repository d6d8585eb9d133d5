package txn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/transport"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct{ server net.Conn }

func (d *fakeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	d.server = server
	return client, nil
}

func noopHandshake(ctx context.Context, pc *transport.PhysicalConnection) error { return nil }

func newConnectedBridge(t *testing.T) (*bridge.Bridge, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	b := bridge.New(bridge.RoleInteractive, "fake:6379", d, resp.Protocol2, bridge.Config{
		BacklogLimit:   16,
		ConnectTimeout: time.Second,
	}, noopHandshake, nil, nil, nil)
	require.NoError(t, b.Connect(context.Background()))
	return b, d
}

// scriptedServer replies to each incoming command with the next entry in
// replies, in order, ignoring the command's own content.
func scriptedServer(t *testing.T, conn net.Conn, replies []string) {
	t.Helper()
	go func() {
		buf := resp.NewBuffer(resp.Protocol2)
		chunk := make([]byte, 4096)
		for _, reply := range replies {
			for {
				r, ok, err := buf.DecodeNext()
				if err != nil {
					return
				}
				if ok {
					_ = r
					break
				}
				n, err := conn.Read(chunk)
				if n > 0 {
					buf.Append(chunk[:n])
				}
				if err != nil {
					return
				}
			}
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()
}

func TestExecuteCommitsAndDistributesReplies(t *testing.T) {
	b, d := newConnectedBridge(t)

	cmd1 := rcmd.New([][]byte{[]byte("SET"), []byte("k1"), []byte("v1")}, 0, -1, time.Time{})
	cmd2 := rcmd.New([][]byte{[]byte("SET"), []byte("k2"), []byte("v2")}, 0, -1, time.Time{})

	scriptedServer(t, d.server, []string{
		"+OK\r\n",                     // MULTI
		"+QUEUED\r\n",                 // cmd1
		"+QUEUED\r\n",                 // cmd2
		"*2\r\n+OK\r\n+OK\r\n",        // EXEC
	})

	txn := Transaction{Commands: []*rcmd.Command{cmd1, cmd2}}
	require.NoError(t, Execute(context.Background(), b, true, txn))

	out1 := <-cmd1.Sink
	require.NoError(t, out1.Err)
	require.Equal(t, "OK", out1.Reply.String())

	out2 := <-cmd2.Sink
	require.NoError(t, out2.Err)
	require.Equal(t, "OK", out2.Reply.String())
}

func TestExecuteNullReplyAbortsAllSinks(t *testing.T) {
	b, d := newConnectedBridge(t)

	cmd1 := rcmd.New([][]byte{[]byte("SET"), []byte("k"), []byte("v3")}, 0, -1, time.Time{})

	scriptedServer(t, d.server, []string{
		"+OK\r\n",     // MULTI
		"+QUEUED\r\n", // cmd1
		"*-1\r\n",     // EXEC -> nil array: WATCH tripped
	})

	txn := Transaction{Commands: []*rcmd.Command{cmd1}}
	require.NoError(t, Execute(context.Background(), b, true, txn))

	out := <-cmd1.Sink
	require.Error(t, out.Err)
}

func TestExecuteConditionFailureAbortsWithoutMulti(t *testing.T) {
	b, d := newConnectedBridge(t)

	cmd1 := rcmd.New([][]byte{[]byte("SET"), []byte("k"), []byte("v")}, 0, -1, time.Time{})

	scriptedServer(t, d.server, []string{
		"+OK\r\n",        // WATCH k
		"$1\r\nx\r\n",    // GET k -> "x", condition expects "y"
		"+OK\r\n",        // UNWATCH
	})

	txn := Transaction{
		Conditions: []Condition{{
			Key:      "k",
			ReadArgv: [][]byte{[]byte("GET"), []byte("k")},
			Check:    func(r resp.Reply) bool { return r.String() == "y" },
		}},
		Commands: []*rcmd.Command{cmd1},
	}
	require.NoError(t, Execute(context.Background(), b, true, txn))

	out := <-cmd1.Sink
	require.Error(t, out.Err)
}
