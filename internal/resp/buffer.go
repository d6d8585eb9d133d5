package resp

// Buffer is the codec's internal read-side accumulator: bytes read off the
// transport are appended here, and DecodeNext drains as many complete
// frames as are available. It tracks a read pointer and a write pointer;
// compaction (discarding already-consumed bytes) only happens after a
// successful decode, matching §4.1's restartable-parser design — partial
// frames are simply re-scanned from their own start on the next append
// rather than resumed from saved parser state.
type Buffer struct {
	data  []byte
	read  int
	proto Protocol
}

// NewBuffer constructs an empty decode buffer for the given protocol
// version. SetProtocol may be called later when HELLO negotiates RESP3.
func NewBuffer(proto Protocol) *Buffer {
	return &Buffer{proto: proto}
}

// SetProtocol switches the tag set the buffer will accept, used once the
// handshake's HELLO reply confirms RESP3.
func (b *Buffer) SetProtocol(proto Protocol) { b.proto = proto }

// Append adds newly read bytes to the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// DecodeNext attempts to decode one frame from the unconsumed portion of
// the buffer. It returns (reply, true, nil) on success, (Reply{}, false,
// nil) when more bytes are needed, or a non-nil error on a malformed
// frame. On success the consumed bytes are retired immediately.
func (b *Buffer) DecodeNext() (Reply, bool, error) {
	unread := b.data[b.read:]
	if len(unread) == 0 {
		return Reply{}, false, nil
	}
	reply, consumed, err := Decode(unread, b.proto)
	if err == ErrIncomplete {
		return Reply{}, false, nil
	}
	if err != nil {
		return Reply{}, false, err
	}
	b.read += consumed
	b.compact()
	return reply, true, nil
}

// compact discards consumed bytes once the unread tail becomes a small
// fraction of the backing array, so a long-lived connection's buffer does
// not grow unboundedly from retained-but-dead prefix bytes.
func (b *Buffer) compact() {
	if b.read == 0 {
		return
	}
	if b.read < len(b.data)/2 && len(b.data) < 64*1024 {
		return
	}
	remaining := len(b.data) - b.read
	copy(b.data, b.data[b.read:])
	b.data = b.data[:remaining]
	b.read = 0
}

// Len reports the number of unconsumed, unparsed bytes held by the buffer.
func (b *Buffer) Len() int { return len(b.data) - b.read }
