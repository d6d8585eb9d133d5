// Package endpoint implements ServerEndpoint and the connection handshake
// of spec.md §4.4: HELLO/AUTH/CLIENT SETNAME/CLIENT ID, the standalone/
// cluster/sentinel probe, the tie-breaker, and the tracer that admits user
// commands. Grounded on internal/redisx/client.go's Dial AUTH/PING
// sequence (generalized into the full ordered handshake) and
// faizanhussain2310-GoRedis's SentinelClient for the SENTINEL probe shape.
package endpoint

// Features is the immutable capability record produced by the handshake
// probe (§4.4 "cached and exposed via an immutable Features record").
type Features struct {
	Version             string
	HasSCAN             bool
	HasCluster          bool
	HasSubscribeSharded bool
	SupportsRESP3       bool
	MaxDatabases        int
	MaxMemoryPolicy     string
}
