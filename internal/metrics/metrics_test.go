package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	var counters bridge.Counters
	counters.SentAwaitingResponse.Store(3)
	counters.CompletedSync.Store(42)

	e := New("redismux", func() []Snapshot {
		return []Snapshot{{
			Endpoint: "10.0.0.1:6379",
			Role:     "interactive",
			State:    "ConnectedEstablished",
			Counters: &counters,
		}}
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "redismux_bridge_sent_awaiting_response")
	require.Contains(t, body, `endpoint="10.0.0.1:6379"`)
	require.Contains(t, body, `redismux_bridge_completed_sync_total{endpoint="10.0.0.1:6379",role="interactive"} 42`)
}

func TestCollectEmitsNothingForNoBridges(t *testing.T) {
	e := New("redismux", func() []Snapshot { return nil })
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}
