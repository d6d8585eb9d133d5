// Package txn implements the Transaction assembler of spec.md §4.8:
// WATCH-guarded preconditions, a MULTI…EXEC block issued while the owning
// bridge's single-writer mutex is held for the whole sequence (each frame
// is written and its reply awaited before the next, so the block is not
// one contiguous write), and per-command reply distribution from the
// EXEC array (or Aborted on a tripped WATCH). New component — no pack
// example implements Redis transactions — grounded on reusing
// internal/bridge's existing single-writer mutex (via Bridge.RunExclusive)
// rather than inventing a separate locking scheme.
package txn

import (
	"context"
	"time"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
)

// Condition is a WATCH precondition (§4.8 step 2): Key is WATCHed, then
// ReadArgv is issued as a direct read and Check decides whether the
// precondition holds.
type Condition struct {
	Key      string
	ReadArgv [][]byte
	Check    func(resp.Reply) bool
}

// Transaction is a builder that captures an ordered sequence of
// conditions and commands (§4.8).
type Transaction struct {
	Conditions []Condition
	Commands   []*rcmd.Command
}

// Execute runs the whole WATCH…MULTI…EXEC sequence on br as one
// exclusive-write block: the single-writer mutex is held for the entire
// block, and its frames are written one at a time, each reply read
// before the next frame goes out. supportsExecAbort should
// reflect the endpoint's discovered server version (Redis ≥ 2.6.5); when
// false, a rejected queue is DISCARDed explicitly instead of relying on
// the server's automatic abort.
//
// On return every Commands[i].Sink has already been fulfilled or failed;
// Execute's own error is non-nil only for a connection-level failure that
// prevented the sequence from running at all (Commands' sinks are failed
// with the same error in that case).
func Execute(ctx context.Context, br *bridge.Bridge, supportsExecAbort bool, txn Transaction) error {
	err := br.RunExclusive(ctx, func(write func(*rcmd.Command) (resp.Reply, error)) error {
		return runSequence(write, supportsExecAbort, txn)
	})
	if err != nil {
		failAll(txn.Commands, err)
		return err
	}
	return nil
}

func runSequence(write func(*rcmd.Command) (resp.Reply, error), supportsExecAbort bool, txn Transaction) error {
	for _, cond := range txn.Conditions {
		if _, err := write(internalCmd("WATCH", []byte(cond.Key))); err != nil {
			return err
		}
		reply, err := write(rcmd.New(append([][]byte{}, cond.ReadArgv...), rcmd.InternalCall, -1, noDeadline))
		if err != nil {
			return err
		}
		if cond.Check != nil && !cond.Check(reply) {
			write(internalCmd("UNWATCH"))
			failAll(txn.Commands, abortedErr())
			return nil
		}
	}

	if _, err := write(internalCmd("MULTI")); err != nil {
		return err
	}

	rejected := false
	for _, cmd := range txn.Commands {
		reply, err := write(rcmd.New(append([][]byte{}, cmd.Argv...), rcmd.InternalCall, -1, noDeadline))
		if err != nil {
			return err
		}
		if reply.Kind != resp.KindSimpleString || reply.String() != "QUEUED" {
			rejected = true
		}
	}

	if rejected && !supportsExecAbort {
		write(internalCmd("DISCARD"))
		failAll(txn.Commands, rejectedErr())
		return nil
	}

	execReply, err := write(internalCmd("EXEC"))
	if err != nil {
		return err
	}

	if execReply.Kind == resp.KindArray && execReply.IsNil {
		failAll(txn.Commands, abortedErr())
		return nil
	}
	if execReply.Kind != resp.KindArray {
		failAll(txn.Commands, rerr.New(rerr.ProtocolError, "EXEC reply was not an array", nil))
		return nil
	}

	for i, cmd := range txn.Commands {
		if i >= len(execReply.Elems) {
			cmd.Fail(rerr.New(rerr.ProtocolError, "EXEC array shorter than queued commands", nil))
			continue
		}
		r := execReply.Elems[i]
		if r.IsError() {
			cmd.Fail(rerr.New(rerr.ServerError, r.String(), nil))
			continue
		}
		cmd.Fulfill(r)
	}
	return nil
}

func failAll(cmds []*rcmd.Command, err error) {
	for _, cmd := range cmds {
		cmd.Fail(err)
	}
}

func abortedErr() error {
	return rerr.New(rerr.ServerError, "transaction aborted: WATCHed key changed", nil)
}

func rejectedErr() error {
	return rerr.New(rerr.ServerError, "transaction rejected: a queued command was refused", nil)
}

// internalCmd builds an InternalCall-flagged command for the
// WATCH/MULTI/UNWATCH/DISCARD/EXEC control frames, which the caller reads
// the reply of directly rather than through the public Command API.
func internalCmd(name string, extra ...[]byte) *rcmd.Command {
	argv := append([][]byte{[]byte(name)}, extra...)
	return rcmd.New(argv, rcmd.InternalCall, -1, noDeadline)
}

var noDeadline time.Time
