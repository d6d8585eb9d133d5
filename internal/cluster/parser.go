package cluster

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/boomballa/redismux/internal/resp"
)

// ParsedNode is one line of CLUSTER NODES output, addr-keyed rather than
// id-keyed — the caller (multiplexer) resolves addr to an EndpointID in
// its arena and only then builds a []NodeInfo for BuildTopology.
type ParsedNode struct {
	ID       string
	Addr     string
	Primary  bool
	MasterID string // empty when Primary
	Slots    [][2]int
}

// ParseClusterNodes parses CLUSTER NODES text output (§4.4 step 4).
// Grounded on internal/cluster/parser.go in the teacher, generalized only
// by package move (the parsing logic — field layout, normalizeAddr,
// parseSlotRange — is unchanged in substance).
func ParseClusterNodes(output string) ([]ParsedNode, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var nodes []ParsedNode

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, fmt.Errorf("cluster: invalid CLUSTER NODES line: %s", line)
		}

		flags := strings.Split(fields[2], ",")
		isPrimary := false
		for _, f := range flags {
			if f == "master" {
				isPrimary = true
			}
		}
		masterID := fields[3]
		if masterID == "-" {
			masterID = ""
		}

		node := ParsedNode{
			ID:       fields[0],
			Addr:     normalizeAddr(fields[1]),
			Primary:  isPrimary,
			MasterID: masterID,
		}

		for i := 8; i < len(fields); i++ {
			slotField := fields[i]
			if strings.HasPrefix(slotField, "[") {
				continue // importing/migrating marker, not a stable range
			}
			rng, err := parseSlotRange(slotField)
			if err != nil {
				return nil, fmt.Errorf("cluster: failed to parse slot range %q: %w", slotField, err)
			}
			node.Slots = append(node.Slots, rng)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func normalizeAddr(addr string) string {
	if idx := strings.Index(addr, "@"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func parseSlotRange(s string) ([2]int, error) {
	parts := strings.Split(s, "-")
	switch len(parts) {
	case 1:
		slot, err := strconv.Atoi(parts[0])
		if err != nil {
			return [2]int{}, err
		}
		return [2]int{slot, slot}, nil
	case 2:
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return [2]int{}, err
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return [2]int{}, err
		}
		return [2]int{start, end}, nil
	default:
		return [2]int{}, fmt.Errorf("cluster: invalid slot range format: %s", s)
	}
}

// ParsedSlotNode is one entry of a CLUSTER SLOTS reply: a contiguous slot
// range and the node that currently owns it (first address is the
// primary, remaining entries are replicas).
type ParsedSlotNode struct {
	Start, End int
	Primary    string
	Replicas   []string
}

// ParseClusterSlots parses a CLUSTER SLOTS reply (§1 "CLUSTER SLOTS" probe,
// §4.6 topology refresh). Grounded on
// internal/redisx/cluster_client.go's parseClusterSlots, generalized from
// interface{} reply values to resp.Reply and extended to also surface
// replica addresses (the teacher only tracked primaries).
func ParseClusterSlots(reply resp.Reply) ([]ParsedSlotNode, error) {
	if reply.Kind != resp.KindArray || reply.IsNil {
		return nil, fmt.Errorf("cluster: CLUSTER SLOTS reply is not an array")
	}
	var out []ParsedSlotNode
	for _, entry := range reply.Elems {
		if entry.Kind != resp.KindArray || len(entry.Elems) < 3 {
			continue
		}
		start, ok1 := asInt(entry.Elems[0])
		end, ok2 := asInt(entry.Elems[1])
		if !ok1 || !ok2 {
			continue
		}
		node := ParsedSlotNode{Start: int(start), End: int(end)}
		for i, hostInfo := range entry.Elems[2:] {
			if hostInfo.Kind != resp.KindArray || len(hostInfo.Elems) < 2 {
				continue
			}
			ip := hostInfo.Elems[0].String()
			port, ok := asInt(hostInfo.Elems[1])
			if !ok {
				continue
			}
			addr := net.JoinHostPort(ip, strconv.FormatInt(port, 10))
			if i == 0 {
				node.Primary = addr
			} else {
				node.Replicas = append(node.Replicas, addr)
			}
		}
		out = append(out, node)
	}
	return out, nil
}

func asInt(r resp.Reply) (int64, bool) {
	switch r.Kind {
	case resp.KindInteger:
		return r.Int, true
	case resp.KindBulkString, resp.KindSimpleString:
		v, err := strconv.ParseInt(r.String(), 10, 64)
		return v, err == nil
	default:
		return 0, false
	}
}
