package cluster

import "sync/atomic"

// slotTable is the immutable backing array a Topology points to. Replacing
// a Topology's pointer is the copy-on-write swap spec.md §3 requires for
// SlotMap: "replaced atomically (copy-on-write) on topology change."
type slotTable struct {
	primary  [numSlots]EndpointID // 0 = unowned
	replicas map[EndpointID][]EndpointID
}

// Topology is the atomically-swappable cluster slot map plus the replica
// roster per primary. Reads never block a writer and vice versa: readers
// load an *slotTable snapshot, writers build a new one and swap the
// pointer (spec.md §5 "SlotMap: replaced under a short mutex; reads are
// lock-free via an atomic pointer to an immutable array").
type Topology struct {
	ptr atomic.Pointer[slotTable]
}

// NewTopology returns an empty topology (every slot unowned).
func NewTopology() *Topology {
	t := &Topology{}
	t.ptr.Store(&slotTable{replicas: map[EndpointID][]EndpointID{}})
	return t
}

// PrimaryOf returns the EndpointID that owns slot, or 0 if unowned.
func (t *Topology) PrimaryOf(slot uint16) EndpointID {
	return t.ptr.Load().primary[slot]
}

// ReplicasOf returns the replica ids attached to a primary.
func (t *Topology) ReplicasOf(primary EndpointID) []EndpointID {
	return t.ptr.Load().replicas[primary]
}

// BuildTopology builds a fresh Topology from a full set of discovered nodes
// (§4.5 Reconfigure / §4.4 CLUSTER NODES probe). It is the caller's job to
// have resolved addresses to EndpointIDs first (the arena lives in the
// multiplexer).
func BuildTopology(nodes []NodeInfo) *Topology {
	table := &slotTable{replicas: map[EndpointID][]EndpointID{}}
	for _, n := range nodes {
		switch n.Role {
		case RolePrimary:
			for _, rng := range n.Slots {
				for s := rng[0]; s <= rng[1]; s++ {
					if s >= 0 && s < numSlots {
						table.primary[s] = n.ID
					}
				}
			}
		case RoleReplica:
			table.replicas[n.MasterID] = append(table.replicas[n.MasterID], n.ID)
		}
	}
	t := &Topology{}
	t.ptr.Store(table)
	return t
}

// ApplyMoved returns a new Topology identical to t except slot now points
// at primary — the copy-on-write update §4.6's MOVED handling requires.
// The original Topology (and anyone still holding its snapshot) is
// untouched.
func (t *Topology) ApplyMoved(slot uint16, primary EndpointID) *Topology {
	old := t.ptr.Load()
	next := &slotTable{replicas: old.replicas}
	next.primary = old.primary
	next.primary[slot] = primary
	nt := &Topology{}
	nt.ptr.Store(next)
	return nt
}

// Swap atomically replaces this Topology's contents with other's,
// implementing the "replaced atomically" requirement in place (useful
// when callers hold a *Topology reference they want to keep valid across
// reconfiguration rather than re-fetching a new pointer each time).
func (t *Topology) Swap(other *Topology) {
	t.ptr.Store(other.ptr.Load())
}
