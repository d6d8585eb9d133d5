package cluster

import (
	"strconv"
	"sync/atomic"

	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/dgryski/go-rendezvous"
)

// Deployment selects which row of the §4.6 selection table applies.
type Deployment int

const (
	DeploymentStandalone Deployment = iota
	DeploymentCluster
)

// RoundRobin is the shared atomic counter spec.md §4.6 calls
// "any_start_offset": used both for non-keyed round-robin across
// connected servers and for the replica tie-break among equally eligible
// replicas of one primary.
type RoundRobin struct {
	counter atomic.Uint64
}

// Next returns the next index into a slice of length n (n > 0).
func (r *RoundRobin) Next(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.counter.Add(1) % uint64(n))
}

// Selector implements §4.6's endpoint-selection table. It holds no
// long-lived endpoint state of its own — Connectivity is supplied by the
// caller (the multiplexer, which owns the endpoint arena) so this package
// never imports internal/endpoint.
type Selector struct {
	deployment Deployment
	topology   *Topology
	conn       Connectivity
	rr         *RoundRobin
	standalone EndpointID

	// nonPreferred counts selections that fell back from the requested
	// preferred role to the other one (DESIGN.md Open Question (a)).
	nonPreferred atomic.Uint64
}

// NewSelector builds a Selector for either deployment kind.
func NewSelector(deployment Deployment, topology *Topology, conn Connectivity) *Selector {
	return &Selector{deployment: deployment, topology: topology, conn: conn, rr: &RoundRobin{}, standalone: 1}
}

// NonPreferredEndpointCount reports how many selections had to fall back
// off the caller's preferred role.
func (s *Selector) NonPreferredEndpointCount() uint64 { return s.nonPreferred.Load() }

// SetStandaloneEndpoint configures the single endpoint id used in
// DeploymentStandalone mode.
func (s *Selector) SetStandaloneEndpoint(id EndpointID) { s.standalone = id }

// Choose implements the §4.6 table. slot is -1 for non-keyed commands.
// roundRobinCandidates is a list of candidate endpoints to round-robin across for the
// non-keyed cluster case (the multiplexer knows the full endpoint roster;
// the Selector does not).
func (s *Selector) Choose(slot int16, flags rcmd.Flag, roundRobinCandidates []EndpointID) (EndpointID, error) {
	if s.deployment == DeploymentStandalone {
		return s.standalone, nil
	}

	if slot < 0 {
		return s.chooseNonKeyed(flags, roundRobinCandidates)
	}

	primary := s.topology.PrimaryOf(uint16(slot))
	if primary == 0 {
		return 0, rerr.New(rerr.NoServerAvailable, "no primary owns slot "+strconv.Itoa(int(slot)), nil)
	}
	replicas := s.topology.ReplicasOf(primary)

	switch {
	case flags.Has(rcmd.DemandPrimary):
		if !s.conn.Connected(primary) {
			return 0, rerr.New(rerr.NoServerAvailable, "primary for slot unavailable", nil)
		}
		return primary, nil

	case flags.Has(rcmd.DemandReplica):
		r, ok := s.pickReplica(replicas)
		if !ok {
			return 0, rerr.New(rerr.NoServerAvailable, "no replica available for slot", nil)
		}
		return r, nil

	case flags.Has(rcmd.PreferReplica):
		if r, ok := s.pickReplica(replicas); ok {
			return r, nil
		}
		s.nonPreferred.Add(1)
		if s.conn.Connected(primary) {
			return primary, nil
		}
		return 0, rerr.New(rerr.NoServerAvailable, "neither replica nor primary available", nil)

	default: // PreferPrimary or unset — the spec's default.
		if s.conn.Connected(primary) {
			return primary, nil
		}
		s.nonPreferred.Add(1)
		if r, ok := s.pickReplica(replicas); ok {
			return r, nil
		}
		return 0, rerr.New(rerr.NoServerAvailable, "neither primary nor replica available", nil)
	}
}

// pickReplica chooses among connected replicas. With exactly one candidate
// it is returned directly. With more than one, an unweighted rendezvous
// hash over the live replica ids breaks the tie, looked up with the next
// value of the shared round-robin counter, so the pick varies from call
// to call; it is not a strict rotation through the replicas.
func (s *Selector) pickReplica(replicas []EndpointID) (EndpointID, bool) {
	var live []EndpointID
	for _, r := range replicas {
		if s.conn.Connected(r) {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		return 0, false
	}
	if len(live) == 1 {
		return live[0], true
	}
	keys := make([]string, len(live))
	lookup := make(map[string]EndpointID, len(live))
	for i, id := range live {
		k := strconv.FormatInt(int64(id), 10)
		keys[i] = k
		lookup[k] = id
	}
	rv := rendezvous.New(keys, xxhashSum64)
	picked := rv.Lookup(strconv.FormatUint(s.rr.counter.Add(1), 10))
	return lookup[picked], true
}

func (s *Selector) chooseNonKeyed(flags rcmd.Flag, candidates []EndpointID) (EndpointID, error) {
	var eligible []EndpointID
	for _, id := range candidates {
		if s.conn.Connected(id) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return 0, rerr.New(rerr.NoServerAvailable, "no connected server matches role flags", nil)
	}
	idx := s.rr.Next(len(eligible))
	return eligible[idx], nil
}
