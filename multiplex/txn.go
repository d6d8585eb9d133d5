package multiplex

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/internal/rerr"
	"github.com/boomballa/redismux/internal/resp"
	"github.com/boomballa/redismux/internal/txn"
)

// TxnCondition is a WATCH precondition (§4.8): Key is WATCHed, ReadArgv is
// issued as a direct read, and Check decides whether the precondition
// still holds before the queued commands are allowed to EXEC.
type TxnCondition = txn.Condition

// Transact runs a WATCH…MULTI…EXEC sequence against the single endpoint
// that owns keys (§4.8). In a cluster deployment every entry of keys must
// hash to the same slot, same as Execute's cross-slot rule, and Transact
// rejects the call up front otherwise; the keys of conditions and
// commands are not checked against that slot. On success it returns one
// reply per entry in commands, in order; a tripped WATCH or a rejected
// queue entry surfaces as an error with a nil reply slice.
func (m *Multiplexer) Transact(ctx context.Context, keys [][]byte, conditions []TxnCondition, commands [][][]byte) ([]resp.Reply, error) {
	if m.closing.Load() {
		return nil, rerr.New(rerr.MultiplexerClosed, "multiplexer is closing or closed", nil)
	}
	slot, err := m.slotFor(keys, 0)
	if err != nil {
		return nil, err
	}

	id, err := m.selector.Choose(slot, rcmd.DemandPrimary, m.roundRobinCandidates())
	if err != nil {
		return nil, err
	}
	ep, ok := m.endpointByID(id)
	if !ok {
		return nil, rerr.New(rerr.NoServerAvailable, "selected endpoint no longer exists", nil)
	}

	cmds := make([]*rcmd.Command, len(commands))
	for i, argv := range commands {
		cmds[i] = rcmd.New(argv, rcmd.InternalCall, -1, time.Time{})
	}
	t := txn.Transaction{Conditions: conditions, Commands: cmds}

	if err := txn.Execute(ctx, ep.Interactive, supportsExecAbort(ep.Features().Version), t); err != nil {
		return nil, err
	}

	out := make([]resp.Reply, len(cmds))
	for i, cmd := range cmds {
		select {
		case outcome := <-cmd.Sink:
			if outcome.Err != nil {
				return nil, outcome.Err
			}
			out[i] = outcome.Reply
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// supportsExecAbort reports whether a server version implements the
// automatic EXEC-aborts-on-queue-error behavior introduced in Redis
// 2.6.5 (§4.8); an empty/unparsed version is assumed capable rather than
// falling back to explicit DISCARD on every transaction.
func supportsExecAbort(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return true
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return true
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return true
	}
	if major != 2 {
		return major > 2
	}
	if minor != 6 {
		return minor > 6
	}
	if len(parts) < 3 {
		return false
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return false
	}
	return patch >= 5
}
