package bridge

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagi-server/pagi/internal/httpcodec"
)

func TestInspectHeaders_ParsesConnectionTokensAndWSKey(t *testing.T) {
	insp := inspectHeaders([]httpcodec.Header{
		{Name: "connection", Value: "Upgrade, Keep-Alive"},
		{Name: "upgrade", Value: "WebSocket"},
		{Name: "sec-websocket-key", Value: "abc123=="},
	})
	assert.True(t, insp.hasConnectionToken("upgrade"))
	assert.True(t, insp.hasConnectionToken("keep-alive"))
	assert.Equal(t, "websocket", insp.upgrade)
	assert.Equal(t, "abc123==", insp.wsKey)
	assert.False(t, insp.wantsClose)
}

func TestInspectHeaders_DetectsClose(t *testing.T) {
	insp := inspectHeaders([]httpcodec.Header{{Name: "connection", Value: "close"}})
	assert.True(t, insp.wantsClose)
}

func TestIsWebSocketUpgrade_RequiresAllSignals(t *testing.T) {
	req := &httpcodec.Request{Method: "GET"}
	insp := headerInspection{upgrade: "websocket", connectionTokens: []string{"upgrade"}, wsKey: "key"}
	assert.True(t, isWebSocketUpgrade(req, insp))

	assert.False(t, isWebSocketUpgrade(&httpcodec.Request{Method: "POST"}, insp))
	assert.False(t, isWebSocketUpgrade(req, headerInspection{upgrade: "websocket", wsKey: "key"}))
	assert.False(t, isWebSocketUpgrade(req, headerInspection{connectionTokens: []string{"upgrade"}, wsKey: "key"}))
	assert.False(t, isWebSocketUpgrade(req, headerInspection{upgrade: "websocket", connectionTokens: []string{"upgrade"}}))
}

func TestClientWantsKeepAlive_HTTP10RequiresExplicitHeader(t *testing.T) {
	req10 := &httpcodec.Request{Version: "1.0"}
	assert.False(t, clientWantsKeepAlive(req10, headerInspection{}))
	assert.True(t, clientWantsKeepAlive(req10, headerInspection{connectionTokens: []string{"keep-alive"}}))
}

func TestClientWantsKeepAlive_HTTP11DefaultsToKeepAliveUnlessCloseRequested(t *testing.T) {
	req11 := &httpcodec.Request{Version: "1.1"}
	assert.True(t, clientWantsKeepAlive(req11, headerInspection{}))
	assert.False(t, clientWantsKeepAlive(req11, headerInspection{wantsClose: true}))
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func TestEndpointOf_SplitsHostAndPort(t *testing.T) {
	ep := endpointOf(fakeAddr("192.0.2.1:8443"))
	assert.Equal(t, "192.0.2.1", ep.Host)
	assert.Equal(t, 8443, ep.Port)
}

func TestEndpointOf_FallsBackOnUnparseableAddr(t *testing.T) {
	ep := endpointOf(fakeAddr("not-a-host-port"))
	assert.Equal(t, "not-a-host-port", ep.Host)
	assert.Equal(t, 0, ep.Port)
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "42", itoa(42))
	assert.Equal(t, "-7", itoa(-7))
}

var _ net.Addr = fakeAddr("")
