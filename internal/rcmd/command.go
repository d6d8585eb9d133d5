// Package rcmd defines the Command data model shared by internal/bridge,
// internal/cluster, internal/endpoint, internal/txn, and multiplex: the
// unit of work a caller submits and the one-shot future its reply arrives
// on. See spec.md §3 "Command".
package rcmd

import (
	"time"

	"github.com/boomballa/redismux/internal/resp"
)

// UnsetDB is the sentinel Command.DB/ExecuteOptions.DB value meaning
// "no explicit database requested" (spec.md §3: "i16; -1 = not set").
const UnsetDB int16 = -1

// Flag is a bitset of per-command routing/behavior modifiers.
type Flag uint16

const (
	FireAndForget Flag = 1 << iota
	NoRedirect
	DemandPrimary
	DemandReplica
	PreferPrimary
	PreferReplica
	InternalCall
	HighPriority
	HighIntegrity
)

// Has reports whether all bits of x are set in f.
func (f Flag) Has(x Flag) bool { return f&x == x }

// Outcome is what a Command's Sink is fulfilled with: either a parsed
// Reply or an error, never both.
type Outcome struct {
	Reply resp.Reply
	Err   error
}

// Command is an issued unit of work, constructed by the caller, enqueued
// on a bridge, and freed once Sink is fulfilled (spec.md §3).
type Command struct {
	// Name is the command_id token (argv[0]'s logical identity, e.g. "GET",
	// "CLUSTER NODES" for the composite internal probes).
	Name string

	// Argv is the ordered sequence of wire arguments, argv[0] == Name's
	// bytes by convention (set by the caller via New).
	Argv [][]byte

	// DB is the target database index; UnsetDB (-1) means "not set", in
	// which case the bridge leaves whatever database is already selected
	// on the connection untouched.
	DB int16

	Flags Flag

	// HashSlot is the precomputed cluster hash slot, or -1 when the
	// command is not keyed.
	HashSlot int16

	Deadline time.Time

	// Sink is the one-shot reply channel; buffered with capacity 1 so
	// fulfillment never blocks the fulfiller.
	Sink chan Outcome

	RetryCount uint8

	// IntegrityToken is set when HighIntegrity is requested; the bridge
	// compares it against a trailing ECHO reply before fulfilling Sink.
	IntegrityToken *uint32
}

// New builds a Command ready to enqueue. argv must have at least one
// element (the command name).
func New(argv [][]byte, flags Flag, db int16, deadline time.Time) *Command {
	var name string
	if len(argv) > 0 {
		name = string(argv[0])
	}
	return &Command{
		Name:     name,
		Argv:     argv,
		DB:       db,
		Flags:    flags,
		HashSlot: -1,
		Deadline: deadline,
		Sink:     make(chan Outcome, 1),
	}
}

// Fulfill delivers reply as the command's outcome. It must be called at
// most once; a second call would block forever on the buffered channel, so
// callers guard with the bridge's in-flight bookkeeping rather than
// calling Fulfill twice.
func (c *Command) Fulfill(reply resp.Reply) {
	c.Sink <- Outcome{Reply: reply}
}

// Fail delivers err as the command's outcome.
func (c *Command) Fail(err error) {
	c.Sink <- Outcome{Err: err}
}

// Encode renders the command as its RESP wire form.
func (c *Command) Encode() []byte {
	return resp.EncodeCommand(c.Argv)
}
