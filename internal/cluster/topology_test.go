package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildTopologyAssignsPrimariesAndReplicas(t *testing.T) {
	nodes := []NodeInfo{
		{ID: 1, Role: RolePrimary, Slots: [][2]int{{0, 100}}},
		{ID: 2, Role: RolePrimary, Slots: [][2]int{{101, 16383}}},
		{ID: 3, Role: RoleReplica, MasterID: 1},
		{ID: 4, Role: RoleReplica, MasterID: 1},
	}
	topo := BuildTopology(nodes)

	require.Equal(t, EndpointID(1), topo.PrimaryOf(0))
	require.Equal(t, EndpointID(1), topo.PrimaryOf(100))
	require.Equal(t, EndpointID(2), topo.PrimaryOf(101))
	require.Equal(t, EndpointID(2), topo.PrimaryOf(16383))
	require.ElementsMatch(t, []EndpointID{3, 4}, topo.ReplicasOf(1))
	require.Empty(t, topo.ReplicasOf(2))
}

func TestTopologyUnownedSlotIsZero(t *testing.T) {
	topo := NewTopology()
	require.Equal(t, EndpointID(0), topo.PrimaryOf(5000))
}

func TestApplyMovedIsCopyOnWrite(t *testing.T) {
	orig := BuildTopology([]NodeInfo{
		{ID: 1, Role: RolePrimary, Slots: [][2]int{{0, 16383}}},
	})
	moved := orig.ApplyMoved(42, 2)

	require.Equal(t, EndpointID(1), orig.PrimaryOf(42), "original topology must be untouched")
	require.Equal(t, EndpointID(2), moved.PrimaryOf(42))
	require.Equal(t, EndpointID(1), moved.PrimaryOf(43), "unrelated slots unaffected")
}

func TestTopologySwapReplacesContentsInPlace(t *testing.T) {
	t1 := BuildTopology([]NodeInfo{{ID: 1, Role: RolePrimary, Slots: [][2]int{{0, 16383}}}})
	t2 := BuildTopology([]NodeInfo{{ID: 9, Role: RolePrimary, Slots: [][2]int{{0, 16383}}}})

	t1.Swap(t2)
	require.Equal(t, EndpointID(9), t1.PrimaryOf(0))
}
