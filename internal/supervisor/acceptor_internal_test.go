package supervisor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagi-server/pagi/internal/bridge"
	"github.com/pagi-server/pagi/internal/conn"
	"github.com/pagi-server/pagi/pkg/pagi"
)

func blockingUntilCtxDone(ctx context.Context, scope *pagi.Scope, receive pagi.Receive, send pagi.Send) error {
	<-ctx.Done()
	return nil
}

func TestAcceptor_RunRegistersAndUnregistersConnections(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, 128)
	require.NoError(t, err)
	defer l.Close()

	handler := &bridge.Handler{App: blockingUntilCtxDone, Scheme: "http"}
	a := &Acceptor{Listener: l, Handler: handler, Limits: conn.Limits{IdleTimeout: time.Second}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx)

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return a.activeCount() == 1 }, time.Second, 10*time.Millisecond)

	l.Close()
	c.Close()
	require.Eventually(t, func() bool { return a.activeCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAcceptor_DrainForceClosesAfterTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	a := &Acceptor{}
	c := conn.NewConnection(server, conn.Limits{})
	c.Phase.Store(conn.PhaseWebSocketOpen) // simulate a long-lived, non-idle connection
	a.register(c)

	assert.Equal(t, 1, a.activeCount())

	done := make(chan struct{})
	go func() {
		a.Drain(20 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return within timeout")
	}

	_, err := server.Write([]byte("x"))
	assert.Error(t, err, "connection should have been force-closed after the drain timeout")
}

func TestAcceptor_DrainClosesIdleConnectionsImmediately(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	a := &Acceptor{}
	c := conn.NewConnection(server, conn.Limits{})
	c.Phase.Store(conn.PhaseIdle)
	a.register(c)

	a.Drain(0)

	_, err := server.Write([]byte("x"))
	assert.Error(t, err, "idle connection should have been closed")
}
