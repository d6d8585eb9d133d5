package rconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConnectionStringEndpointsAndOptions(t *testing.T) {
	opts, err := ParseConnectionString("10.0.0.1:6380, 10.0.0.2, user=alice, password=secret, ssl=true, resp3=true")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:6380", "10.0.0.2:6379"}, opts.Endpoints)
	require.Equal(t, "alice", opts.User)
	require.Equal(t, "secret", opts.Password)
	require.True(t, opts.SSL)
	require.True(t, opts.RESP3)
}

func TestParseConnectionStringDedupsEndpoints(t *testing.T) {
	opts, err := ParseConnectionString("10.0.0.1:6379,10.0.0.1:6379,10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:6379"}, opts.Endpoints)
}

func TestParseConnectionStringTimeouts(t *testing.T) {
	opts, err := ParseConnectionString("h1,syncTimeout=1500,asyncTimeout=2000,connectTimeout=3000,keepAlive=30")
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, opts.SyncTimeout)
	require.Equal(t, 2000*time.Millisecond, opts.AsyncTimeout)
	require.Equal(t, 3000*time.Millisecond, opts.ConnectTimeout)
	require.Equal(t, 30*time.Second, opts.KeepAlive)
}

func TestParseConnectionStringUnknownKeyIsPreservedNotRejected(t *testing.T) {
	opts, err := ParseConnectionString("h1,futureOption=42")
	require.NoError(t, err)
	require.Equal(t, "42", opts.Unknown["futureOption"])
}

func TestParseConnectionStringIPv6Endpoint(t *testing.T) {
	opts, err := ParseConnectionString("[::1]:6379")
	require.NoError(t, err)
	require.Equal(t, []string{"[::1]:6379"}, opts.Endpoints)
}

func TestParseConnectionStringIPv6EndpointDefaultPort(t *testing.T) {
	opts, err := ParseConnectionString("[::1]")
	require.NoError(t, err)
	require.Equal(t, []string{"[::1]:6379"}, opts.Endpoints)
}

func TestParseConnectionStringInvalidPortIsRejected(t *testing.T) {
	_, err := ParseConnectionString("host:notaport")
	require.Error(t, err)
}

func TestParseConnectionStringInvalidBoolIsRejected(t *testing.T) {
	_, err := ParseConnectionString("h1,ssl=maybe")
	require.Error(t, err)
}

func TestOptionsValidateRequiresAtLeastOneEndpoint(t *testing.T) {
	opts, err := ParseConnectionString("user=alice")
	require.NoError(t, err)
	opts.ApplyDefaults()
	require.Error(t, opts.Validate())
}

func TestOptionsValidateRejectsUnknownProxy(t *testing.T) {
	opts, err := ParseConnectionString("h1,proxy=squid")
	require.NoError(t, err)
	opts.ApplyDefaults()
	require.Error(t, opts.Validate())
}

func TestOptionsValidateAcceptsKnownProxy(t *testing.T) {
	opts, err := ParseConnectionString("h1,proxy=twemproxy")
	require.NoError(t, err)
	opts.ApplyDefaults()
	require.NoError(t, opts.Validate())
}

func TestOptionsApplyDefaultsFillsTimeouts(t *testing.T) {
	opts, err := ParseConnectionString("h1")
	require.NoError(t, err)
	opts.ApplyDefaults()
	require.Equal(t, 5*time.Second, opts.SyncTimeout)
	require.Equal(t, 5*time.Second, opts.AsyncTimeout)
	require.Equal(t, 5*time.Second, opts.ConnectTimeout)
	require.Equal(t, time.Second, opts.KeepAlive)
}
