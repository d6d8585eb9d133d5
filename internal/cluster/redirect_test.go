package cluster

import (
	"testing"

	"github.com/boomballa/redismux/internal/resp"
	"github.com/stretchr/testify/require"
)

func TestParseRedirectMoved(t *testing.T) {
	r, ok := ParseRedirect(resp.Err("MOVED 3999 127.0.0.1:6381"))
	require.True(t, ok)
	require.Equal(t, RedirectMoved, r.Kind)
	require.EqualValues(t, 3999, r.Slot)
	require.Equal(t, "127.0.0.1:6381", r.Addr)
}

func TestParseRedirectAsk(t *testing.T) {
	r, ok := ParseRedirect(resp.Err("ASK 3999 127.0.0.1:6381"))
	require.True(t, ok)
	require.Equal(t, RedirectAsk, r.Kind)
	require.EqualValues(t, 3999, r.Slot)
}

func TestParseRedirectRejectsOtherErrors(t *testing.T) {
	_, ok := ParseRedirect(resp.Err("WRONGTYPE Operation against a key holding the wrong kind of value"))
	require.False(t, ok)
}

func TestParseRedirectRejectsNonErrorReply(t *testing.T) {
	_, ok := ParseRedirect(resp.SimpleString("OK"))
	require.False(t, ok)
}

func TestParseRedirectRejectsMalformedSlot(t *testing.T) {
	_, ok := ParseRedirect(resp.Err("MOVED notaslot 127.0.0.1:6381"))
	require.False(t, ok)
}
