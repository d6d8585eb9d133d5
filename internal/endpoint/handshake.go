package endpoint

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/boomballa/redismux/internal/cluster"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/transport"
)

// Deployment selects which probe step 4 of the handshake runs (§4.4).
type Deployment int

const (
	DeploymentStandalone Deployment = iota
	DeploymentCluster
	DeploymentSentinel
)

// Config parameterizes the handshake for one endpoint (§4.4).
type Config struct {
	Deployment      Deployment
	Username        string
	Password        string
	RequestRESP3    bool
	ClientName      string
	SentinelService string
	TieBreakerKey   string
	TieBreakerName  string
}

// Result is what the handshake learned, handed back to the caller
// (ServerEndpoint's handshake hook stores its Role and Features).
type Result struct {
	Features      Features
	ConnID        int64
	Role          cluster.Role
	ClusterID     string // node id owning this connection, cluster deployments only
	TieBreakValue string // value of cfg.TieBreakerKey on this endpoint, empty if unset/absent
}

// Handshake runs the ordered §4.4 sequence on a freshly dialed
// PhysicalConnection, synchronously, before any bridge write admits user
// commands. It returns that sequence as a bridge handshake hook; the hook
// switches pc to RESP3 when HELLO 3 succeeds and discards the Result.
func Handshake(ctx context.Context, cfg Config) func(ctx context.Context, pc *transport.PhysicalConnection) error {
	return func(ctx context.Context, pc *transport.PhysicalConnection) error {
		_, err := runHandshake(ctx, pc, cfg)
		return err
	}
}

// RunAndCollect is like Handshake but also returns the probed Result,
// for callers (ServerEndpoint in this package) that need the
// Features/Role/ConnID the handshake discovered.
func RunAndCollect(ctx context.Context, pc *transport.PhysicalConnection, cfg Config) (Result, error) {
	return runHandshake(ctx, pc, cfg)
}

func runHandshake(ctx context.Context, pc *transport.PhysicalConnection, cfg Config) (Result, error) {
	var res Result

	// 1. HELLO/AUTH.
	resp3 := false
	if cfg.RequestRESP3 {
		reply, err := helloOrAuth(ctx, pc, cfg, 3)
		if err == nil && reply.Kind != resp.KindError {
			resp3 = true
			pc.SetProtocol(resp.Protocol3)
			res.Features = parseHello(reply)
		} else {
			reply, err = helloOrAuth(ctx, pc, cfg, 2)
			if err != nil {
				return res, err
			}
			if reply.IsError() && cfg.Password != "" {
				// Pre-HELLO server: fall back to plain AUTH.
				reply, err = authCommand(ctx, pc, cfg)
				if err != nil {
					return res, err
				}
			}
			if reply.IsError() {
				return res, rerr.Connection(rerr.AuthFailure, "HELLO/AUTH rejected", fmt.Errorf("%s", reply.String()))
			}
		}
	} else if cfg.Password != "" {
		reply, err := authCommand(ctx, pc, cfg)
		if err != nil {
			return res, err
		}
		if reply.IsError() {
			return res, rerr.Connection(rerr.AuthFailure, "AUTH rejected", fmt.Errorf("%s", reply.String()))
		}
	}
	res.Features.SupportsRESP3 = resp3

	// 2. CLIENT SETNAME.
	if cfg.ClientName != "" {
		if _, err := call(ctx, pc, "CLIENT", "SETNAME", cfg.ClientName); err != nil {
			return res, err
		}
	}

	// 3. CLIENT ID.
	if reply, err := call(ctx, pc, "CLIENT", "ID"); err == nil && reply.Kind == resp.KindInteger {
		pc.SetConnID(reply.Int)
		res.ConnID = reply.Int
	}

	// 4. Probe.
	switch cfg.Deployment {
	case DeploymentCluster:
		if err := probeCluster(ctx, pc, &res); err != nil {
			return res, err
		}
	case DeploymentSentinel:
		if err := probeSentinel(ctx, pc, cfg, &res); err != nil {
			return res, err
		}
	default:
		if err := probeStandalone(ctx, pc, &res); err != nil {
			return res, err
		}
	}

	// 5. Tie-breaker: record the value this endpoint holds for the
	// configured key in res.TieBreakValue. Nothing in this module reads
	// that field, so the value takes no part in choosing between competing
	// primaries.
	if cfg.TieBreakerKey != "" {
		if reply, err := call(ctx, pc, "GET", cfg.TieBreakerKey); err == nil && !reply.IsError() {
			res.TieBreakValue = reply.String()
		}
	}

	// 6. Tracer.
	tracerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	token := strconv.FormatInt(time.Now().UnixNano(), 36)
	reply, err := call(tracerCtx, pc, "ECHO", token)
	if err != nil {
		return res, err
	}
	if reply.String() != token {
		return res, rerr.Connection(rerr.ProtocolFailure, "tracer ECHO mismatch", nil)
	}

	return res, nil
}

func helloOrAuth(ctx context.Context, pc *transport.PhysicalConnection, cfg Config, version int) (resp.Reply, error) {
	argv := []string{"HELLO", strconv.Itoa(version)}
	if cfg.Password != "" {
		argv = append(argv, "AUTH")
		if cfg.Username != "" {
			argv = append(argv, cfg.Username)
		} else {
			argv = append(argv, "default")
		}
		argv = append(argv, cfg.Password)
	}
	return call(ctx, pc, argv...)
}

func authCommand(ctx context.Context, pc *transport.PhysicalConnection, cfg Config) (resp.Reply, error) {
	if cfg.Username != "" {
		return call(ctx, pc, "AUTH", cfg.Username, cfg.Password)
	}
	return call(ctx, pc, "AUTH", cfg.Password)
}

func probeStandalone(ctx context.Context, pc *transport.PhysicalConnection, res *Result) error {
	info, err := call(ctx, pc, "INFO", "REPLICATION")
	if err != nil {
		return err
	}
	if strings.Contains(info.String(), "role:master") {
		res.Role = cluster.RolePrimary
	} else {
		res.Role = cluster.RoleReplica
	}

	if reply, err := call(ctx, pc, "CONFIG", "GET", "databases"); err == nil {
		res.Features.MaxDatabases = parseConfigGetInt(reply)
	}
	if reply, err := call(ctx, pc, "CONFIG", "GET", "maxmemory-policy"); err == nil {
		res.Features.MaxMemoryPolicy = parseConfigGetString(reply)
	}
	res.Features.HasSCAN = true
	return nil
}

func probeCluster(ctx context.Context, pc *transport.PhysicalConnection, res *Result) error {
	reply, err := call(ctx, pc, "CLUSTER", "NODES")
	if err != nil {
		return err
	}
	nodes, err := cluster.ParseClusterNodes(reply.String())
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.Primary {
			res.Role = cluster.RolePrimary
			if res.ClusterID == "" {
				res.ClusterID = n.ID
			}
		}
	}
	res.Features.HasCluster = true
	res.Features.HasSCAN = true
	return nil
}

func probeSentinel(ctx context.Context, pc *transport.PhysicalConnection, cfg Config, res *Result) error {
	if _, err := call(ctx, pc, "SENTINEL", "sentinels", cfg.SentinelService); err != nil {
		return err
	}
	if _, err := call(ctx, pc, "SENTINEL", "get-master-addr-by-name", cfg.SentinelService); err != nil {
		return err
	}
	res.Role = cluster.RolePrimary
	return nil
}

func call(ctx context.Context, pc *transport.PhysicalConnection, argv ...string) (resp.Reply, error) {
	frame := make([][]byte, len(argv))
	for i, a := range argv {
		frame[i] = []byte(a)
	}
	return pc.RoundTrip(ctx, resp.EncodeCommand(frame))
}

func parseHello(reply resp.Reply) Features {
	f := Features{SupportsRESP3: true}
	for _, p := range reply.Pairs {
		switch p.Key.String() {
		case "version":
			f.Version = p.Value.String()
		}
	}
	return f
}

func parseConfigGetInt(reply resp.Reply) int {
	s := parseConfigGetString(reply)
	v, _ := strconv.Atoi(s)
	return v
}

func parseConfigGetString(reply resp.Reply) string {
	if reply.Kind != resp.KindArray || len(reply.Elems) < 2 {
		return ""
	}
	return reply.Elems[1].String()
}
