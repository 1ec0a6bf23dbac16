package conn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagi-server/pagi/internal/conn"
)

func TestPhaseHolder_StoreLoadRoundTrip(t *testing.T) {
	var h conn.PhaseHolder
	assert.Equal(t, conn.PhaseIdle, h.Load())
	h.Store(conn.PhaseWebSocketOpen)
	assert.Equal(t, conn.PhaseWebSocketOpen, h.Load())
}

func TestPhaseHolder_Terminal(t *testing.T) {
	var h conn.PhaseHolder
	h.Store(conn.PhaseDispatching)
	assert.False(t, h.Terminal())
	h.Store(conn.PhaseClosing)
	assert.True(t, h.Terminal())
	h.Store(conn.PhaseClosed)
	assert.True(t, h.Terminal())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", conn.PhaseIdle.String())
	assert.Equal(t, "websocket_open", conn.PhaseWebSocketOpen.String())
	assert.Equal(t, "unknown", conn.Phase(99).String())
}
