package rconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileParsesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redismux.yaml")
	doc := `
endpoints:
  - 10.0.0.1:6379
  - 10.0.0.2:6379
user: alice
password: secret
ssl: true
resp3: true
syncTimeoutMs: 2000
keepAliveSeconds: 15
serviceName: mymaster
proxy: envoyproxy
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	opts, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, opts.Endpoints)
	require.Equal(t, "alice", opts.User)
	require.True(t, opts.SSL)
	require.True(t, opts.RESP3)
	require.Equal(t, 2*time.Second, opts.SyncTimeout)
	require.Equal(t, 15*time.Second, opts.KeepAlive)
	require.Equal(t, ProxyEnvoyproxy, opts.Proxy)
}

func TestLoadFileMissingEndpointsFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redismux.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user: alice\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileMissingFileReturnsConfigurationError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
