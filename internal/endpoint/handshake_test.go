package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/boomballa/redismux/internal/cluster"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/transport"
	"github.com/stretchr/testify/require"
)

type pipeDialer struct{ server net.Conn }

func (d *pipeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	d.server = server
	return client, nil
}

// fakeServer decodes one command at a time off conn and hands it to reply,
// which must write back a complete RESP frame. It stops when conn closes.
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
			if _, err := conn.Write(reply(argv)); err != nil {
				return
			}
		}
	}()
}

func standaloneReply(argv []string) []byte {
	switch argv[0] {
	case "CLIENT":
		if argv[1] == "ID" {
			return []byte(":7\r\n")
		}
		return []byte("+OK\r\n")
	case "INFO":
		body := "role:master\r\n"
		return []byte("$" + itoa(len(body)) + "\r\n" + body + "\r\n")
	case "CONFIG":
		key := argv[2]
		val := "16"
		if key == "maxmemory-policy" {
			val = "noeviction"
		}
		return []byte("*2\r\n$" + itoa(len(key)) + "\r\n" + key + "\r\n$" + itoa(len(val)) + "\r\n" + val + "\r\n")
	case "ECHO":
		tok := argv[1]
		return []byte("$" + itoa(len(tok)) + "\r\n" + tok + "\r\n")
	default:
		return []byte("+OK\r\n")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestHandshakeStandaloneDiscoversRoleAndFeatures(t *testing.T) {
	dialer := &pipeDialer{}
	pc, err := transport.Dial(context.Background(), dialer, "example:6379", resp.Protocol2, 1)
	require.NoError(t, err)

	fakeServer(t, dialer.server, standaloneReply)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := RunAndCollect(ctx, pc, Config{Deployment: DeploymentStandalone})
	require.NoError(t, err)
	require.Equal(t, cluster.RolePrimary, res.Role)
	require.EqualValues(t, 7, res.ConnID)
	require.Equal(t, 16, res.Features.MaxDatabases)
	require.Equal(t, "noeviction", res.Features.MaxMemoryPolicy)
}

func TestHandshakeFailsOnAuthRejection(t *testing.T) {
	dialer := &pipeDialer{}
	pc, err := transport.Dial(context.Background(), dialer, "example:6379", resp.Protocol2, 1)
	require.NoError(t, err)

	fakeServer(t, dialer.server, func(argv []string) []byte {
		if argv[0] == "AUTH" {
			return []byte("-ERR invalid password\r\n")
		}
		return []byte("+OK\r\n")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = RunAndCollect(ctx, pc, Config{Deployment: DeploymentStandalone, Password: "wrong"})
	require.Error(t, err)
}
