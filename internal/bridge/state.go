// Package bridge implements the single-writer-per-connection Bridge of
// spec.md §4.3: one bridge per (endpoint, role), serializing writes over a
// PhysicalConnection, matching replies to in-flight commands in FIFO
// order, and driving reconnect through a small state machine. Grounded on
// etsangsplk-redispipe/redisconn/conn.go's shard/futures-queue idea
// (generalized from N shards to one queue per bridge) and
// pascaldekloe-redis/client.go's callback-channel-in-pipeline-order reply
// matching.
package bridge

// State is the bridge's connection lifecycle state (§4.3).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectedEstablishing
	StateConnectedEstablished
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedEstablishing:
		return "connected_establishing"
	case StateConnectedEstablished:
		return "connected_established"
	default:
		return "unknown"
	}
}

// Role distinguishes a RESP2 deployment's two bridges per endpoint; a
// RESP3 deployment uses a single RoleInteractive bridge for both commands
// and push messages (§4.3).
type Role int

const (
	RoleInteractive Role = iota
	RoleSubscription
)

func (r Role) String() string {
	if r == RoleSubscription {
		return "subscription"
	}
	return "interactive"
}

// WriteResult is TryWrite's outcome (§4.3).
type WriteResult int

const (
	Written WriteResult = iota
	Queued
)

// OverflowPolicy governs what happens when the backlog is full (§4.3).
type OverflowPolicy int

const (
	OverflowFail OverflowPolicy = iota
	OverflowBlock
)
