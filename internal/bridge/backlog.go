package bridge

import (
	"sync"

	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/pierrec/lz4/v4"
)

// backlogEntry is one queued command. Once the backlog grows past the
// configured spill threshold, new entries carry an LZ4-compressed copy of
// their wire frame instead of re-encoding from Argv at drain time — the
// same compression library the teacher uses for RDB blob payloads,
// repurposed here for long backlogs of large commands (see DESIGN.md).
type backlogEntry struct {
	cmd    *rcmd.Command
	frame  []byte // compressed wire frame; nil unless spilled
	rawLen int    // decompressed length, valid only when frame != nil
}

// Backlog is the bounded FIFO of commands waiting for the write mutex or a
// live connection (§4.3 "Backlog drainer").
type Backlog struct {
	mu             sync.Mutex
	entries        []backlogEntry
	limit          int
	policy         OverflowPolicy
	spillThreshold int
	overflowCount  uint64
}

// NewBacklog builds an empty backlog. limit <= 0 means unbounded.
// spillThreshold <= 0 disables compression spill.
func NewBacklog(limit int, policy OverflowPolicy, spillThreshold int) *Backlog {
	return &Backlog{limit: limit, policy: policy, spillThreshold: spillThreshold}
}

// Push appends cmd to the tail. It returns false only under
// OverflowFail when the backlog is already at limit — the caller is
// responsible for failing cmd with BacklogOverflow in that case.
func (b *Backlog) Push(cmd *rcmd.Command) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && len(b.entries) >= b.limit {
		if b.policy == OverflowFail {
			b.overflowCount++
			return false
		}
		// OverflowBlock: Push never blocks and no caller waits for
		// capacity; the entry is accepted past limit.
	}

	e := backlogEntry{cmd: cmd}
	if b.spillThreshold > 0 && len(b.entries) >= b.spillThreshold {
		if compressed, rawLen, ok := compressFrame(cmd.Encode()); ok {
			e.frame, e.rawLen = compressed, rawLen
			// The frame is recoverable from e.frame via wireFrame(); drop the
			// raw argv so a long backlog of large commands only retains the
			// compressed copy in memory.
			cmd.Argv = nil
		}
	}
	b.entries = append(b.entries, e)
	return true
}

// Peek returns the head entry without removing it.
func (b *Backlog) Peek() (backlogEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return backlogEntry{}, false
	}
	return b.entries[0], true
}

// Pop removes the head entry.
func (b *Backlog) Pop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return
	}
	b.entries = b.entries[1:]
}

// Len reports the current backlog depth.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// OverflowCount reports how many Push calls were rejected for capacity.
func (b *Backlog) OverflowCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowCount
}

// DrainAll removes and returns every entry, used by Bridge.Close when
// failing the whole backlog.
func (b *Backlog) DrainAll() []backlogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// wireFrame returns the entry's wire bytes, decompressing first if spilled.
func (e backlogEntry) wireFrame() ([]byte, error) {
	if e.frame == nil {
		return e.cmd.Encode(), nil
	}
	raw := make([]byte, e.rawLen)
	n, err := lz4.UncompressBlock(e.frame, raw)
	if err != nil {
		return nil, err
	}
	return raw[:n], nil
}

func compressFrame(raw []byte) (compressed []byte, rawLen int, ok bool) {
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, buf)
	if err != nil || n <= 0 || n >= len(raw) {
		return nil, 0, false
	}
	return buf[:n], len(raw), true
}
