package multiplex

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/boomballa/redismux/internal/cluster"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/subscribe"
	"github.com/stretchr/testify/require"
)

// pipeDialer hands back one end of a net.Pipe per DialContext call and
// immediately runs a fake server responder on the other end, mirroring
// internal/endpoint's pipeDialer/fakeServer test harness but extended to
// cope with a Multiplexer dialing more than one bridge per endpoint
// (interactive plus a RESP2 subscription bridge).
type pipeDialer struct {
	t     *testing.T
	reply func(argv []string) []byte

	mu    sync.Mutex
	conns []net.Conn
}

func (d *pipeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	d.mu.Lock()
	d.conns = append(d.conns, server)
	d.mu.Unlock()
	fakeServer(d.t, server, d.reply)
	return client, nil
}

// fakeServer decodes one command at a time off conn and writes back
// whatever reply returns, until conn closes.
func fakeServer(t *testing.T, conn net.Conn, reply func(argv []string) []byte) {
	t.Helper()
	go func() {
		buf := resp.NewBuffer(resp.Protocol2)
		chunk := make([]byte, 4096)
		for {
			r, ok, err := buf.DecodeNext()
			if err != nil {
				return
			}
			if !ok {
				n, err := conn.Read(chunk)
				if n > 0 {
					buf.Append(chunk[:n])
				}
				if err != nil {
					return
				}
				continue
			}
			argv := make([]string, len(r.Elems))
			for i, e := range r.Elems {
				argv[i] = e.String()
			}
			if out := reply(argv); out != nil {
				if _, err := conn.Write(out); err != nil {
					return
				}
			}
		}
	}()
}

func bulk(s string) []byte {
	return []byte("$" + strconv.Itoa(len(s)) + "\r\n" + s + "\r\n")
}

func array(elems ...[]byte) []byte {
	out := []byte("*" + strconv.Itoa(len(elems)) + "\r\n")
	for _, e := range elems {
		out = append(out, e...)
	}
	return out
}

// standaloneReply answers the handshake sequence (CLIENT/INFO/CONFIG/ECHO)
// and a handful of data commands a test issues afterward.
func standaloneReply(argv []string) []byte {
	switch argv[0] {
	case "CLIENT":
		if len(argv) > 1 && argv[1] == "ID" {
			return []byte(":7\r\n")
		}
		return []byte("+OK\r\n")
	case "INFO":
		body := "role:master\r\n"
		return []byte("$" + strconv.Itoa(len(body)) + "\r\n" + body + "\r\n")
	case "CONFIG":
		key := argv[2]
		val := "16"
		if key == "maxmemory-policy" {
			val = "noeviction"
		}
		return array(bulk(key), bulk(val))
	case "ECHO":
		return bulk(argv[1])
	case "GET":
		return bulk("hello")
	case "SET":
		return []byte("+OK\r\n")
	case "PING":
		return []byte("+PONG\r\n")
	case "SUBSCRIBE":
		return array(bulk("subscribe"), bulk(argv[1]), []byte(":1\r\n"))
	case "UNSUBSCRIBE":
		return array(bulk("unsubscribe"), bulk(argv[1]), []byte(":0\r\n"))
	default:
		return []byte("+OK\r\n")
	}
}

func newTestMultiplexer(t *testing.T, reply func(argv []string) []byte) *Multiplexer {
	t.Helper()
	dialer := &pipeDialer{t: t, reply: reply}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := New(ctx, "fake:6379", WithDialer(dialer))
	require.NoError(t, err)
	return m
}

func TestExecuteRoundTrip(t *testing.T) {
	m := newTestMultiplexer(t, standaloneReply)
	defer m.Close(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := m.Execute(ctx, [][]byte{[]byte("GET"), []byte("k")}, ExecuteOptions{Keys: [][]byte{[]byte("k")}})
	require.NoError(t, err)
	require.Equal(t, "hello", reply.String())
}

func TestExecuteFireAndForgetDoesNotBlockOnReply(t *testing.T) {
	m := newTestMultiplexer(t, standaloneReply)
	defer m.Close(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.ExecuteFireAndForget(ctx, [][]byte{[]byte("SET"), []byte("k"), []byte("v")},
		ExecuteOptions{Keys: [][]byte{[]byte("k")}})
	require.NoError(t, err)
}

func TestExecuteAfterCloseFails(t *testing.T) {
	m := newTestMultiplexer(t, standaloneReply)
	m.Close(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.Execute(ctx, [][]byte{[]byte("GET"), []byte("k")}, ExecuteOptions{Keys: [][]byte{[]byte("k")}})
	require.Error(t, err)
}

func TestSubscribeDeliversMessageToHandler(t *testing.T) {
	m := newTestMultiplexer(t, standaloneReply)
	defer m.Close(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan string, 1)
	cancelSub, err := m.Subscribe(ctx, "news", subscribe.Exact, func(channel, payload []byte) {
		received <- string(payload)
	})
	require.NoError(t, err)
	defer cancelSub(ctx)

	m.onPush(soleEndpoint(m), pushMessage("news", "hi"))

	select {
	case payload := <-received:
		require.Equal(t, "hi", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the message")
	}
}

// soleEndpoint returns the id of the single endpoint a standalone test
// multiplexer registers, so a test can simulate a push frame arriving on
// it without reaching into the bridge's own read loop.
func soleEndpoint(m *Multiplexer) cluster.EndpointID {
	m.arenaMu.RLock()
	defer m.arenaMu.RUnlock()
	for id := range m.byID {
		return id
	}
	return 0
}

func pushMessage(channel, payload string) resp.Reply {
	return resp.Reply{Kind: resp.KindArray, Elems: []resp.Reply{
		{Kind: resp.KindBulkString, Str: []byte("message")},
		{Kind: resp.KindBulkString, Str: []byte(channel)},
		{Kind: resp.KindBulkString, Str: []byte(payload)},
	}}
}
