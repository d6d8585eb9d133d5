package subscribe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeHandlerFirstConsumerNeedsWire(t *testing.T) {
	r := NewRegistry()
	needsWire, _ := r.SubscribeHandler("news", Exact, func(channel, payload []byte) {})
	require.True(t, needsWire)
}

func TestSubscribeSecondConsumerAfterAttachSkipsWire(t *testing.T) {
	r := NewRegistry()
	needsWire, _ := r.SubscribeHandler("news", Exact, func(channel, payload []byte) {})
	require.True(t, needsWire)
	r.MarkAttached("news", Exact)

	needsWire2, _ := r.SubscribeHandler("news", Exact, func(channel, payload []byte) {})
	require.False(t, needsWire2)
}

func TestDeliverFansOutToHandlersAndQueues(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	var got []string
	_, _ = r.SubscribeHandler("news", Exact, func(channel, payload []byte) {
		mu.Lock()
		got = append(got, string(payload))
		mu.Unlock()
	})
	q, _, _ := r.SubscribeQueue("news", Exact, 4)
	r.MarkAttached("news", Exact)

	r.Deliver("news", Exact, []byte("hello"))

	mu.Lock()
	require.Equal(t, []string{"hello"}, got)
	mu.Unlock()

	select {
	case msg := <-q.C():
		require.Equal(t, "hello", string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("queue never received message")
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	r := NewRegistry()
	q, _, _ := r.SubscribeQueue("chan", Exact, 1)
	r.MarkAttached("chan", Exact)

	r.Deliver("chan", Exact, []byte("first"))
	r.Deliver("chan", Exact, []byte("second"))

	msg := <-q.C()
	require.Equal(t, "second", string(msg.Payload))
	require.Equal(t, uint64(1), r.OverflowCount())
}

func TestCancelHandlerReportsEmptyEntry(t *testing.T) {
	r := NewRegistry()
	_, cancel := r.SubscribeHandler("news", Exact, func(channel, payload []byte) {})
	empty := cancel()
	require.True(t, empty)
}

func TestCancelQueueClosesChannel(t *testing.T) {
	r := NewRegistry()
	q, _, cancel := r.SubscribeQueue("news", Exact, 2)
	cancel()
	_, ok := <-q.C()
	require.False(t, ok)
}

func TestActiveChannelsListsAllEntries(t *testing.T) {
	r := NewRegistry()
	r.SubscribeHandler("a", Exact, func(channel, payload []byte) {})
	r.SubscribeHandler("b", Pattern, func(channel, payload []byte) {})

	active := r.ActiveChannels()
	require.Len(t, active, 2)
}

func TestResetAttachmentForcesResubscribe(t *testing.T) {
	r := NewRegistry()
	r.SubscribeHandler("news", Exact, func(channel, payload []byte) {})
	r.MarkAttached("news", Exact)

	r.ResetAttachment()

	needsWire, _ := r.SubscribeHandler("news", Exact, func(channel, payload []byte) {})
	require.True(t, needsWire)
}

func TestDeliverToUnknownChannelIsNoop(t *testing.T) {
	r := NewRegistry()
	require.NotPanics(t, func() { r.Deliver("ghost", Exact, []byte("x")) })
}
