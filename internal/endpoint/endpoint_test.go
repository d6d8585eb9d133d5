package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/boomballa/redismux/internal/cluster"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/stretchr/testify/require"
)

func TestServerEndpointConnectCachesRoleAndFeatures(t *testing.T) {
	dialer := &pipeDialer{}
	ep := New(cluster.EndpointID(1), "fake:6379", dialer, resp.Protocol2, Config{Deployment: DeploymentStandalone},
		bridge.Config{BacklogLimit: 16, ConnectTimeout: time.Second}, nil, false, nil, nil)

	connectErr := make(chan error, 1)
	go func() { connectErr <- ep.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return dialer.server != nil }, 2*time.Second, time.Millisecond)
	fakeServer(t, dialer.server, standaloneReply)

	select {
	case err := <-connectErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect")
	}
	require.True(t, ep.Connected())
	require.Equal(t, cluster.RolePrimary, ep.Role())
	require.Equal(t, "noeviction", ep.Features().MaxMemoryPolicy)
}
