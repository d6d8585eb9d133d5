package cluster

// EndpointID identifies a ServerEndpoint in the owning multiplexer's
// arena. The cluster package never holds endpoint pointers directly — per
// the "cyclic graphs" design note, the SlotMap and topology store only
// ids, and the multiplexer/endpoint layer resolves them. This keeps
// internal/cluster free of any dependency on internal/endpoint.
type EndpointID int64

// Role mirrors spec.md §3's ServerEndpoint.role.
type Role int

const (
	RoleUnknown Role = iota
	RolePrimary
	RoleReplica
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleReplica:
		return "replica"
	default:
		return "unknown"
	}
}

// NodeInfo is one cluster node's role/address/slot-ownership, as surfaced
// by CLUSTER NODES or CLUSTER SLOTS.
type NodeInfo struct {
	ID       EndpointID
	Addr     string
	Role     Role
	MasterID EndpointID // for a replica: the id of its primary; zero otherwise
	Slots    [][2]int   // owned ranges, only meaningful when Role == RolePrimary
}

// Connectivity lets Selection ask whether an endpoint is currently usable
// without importing internal/endpoint (which would create a cycle: the
// endpoint package does not need to know about slot routing, but slot
// routing needs to know which endpoints are live).
type Connectivity interface {
	Connected(id EndpointID) bool
}
