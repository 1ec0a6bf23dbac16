package conn_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagi-server/pagi/internal/conn"
)

func testLimits() conn.Limits {
	return conn.Limits{
		MaxRequestLineSize: 2048,
		MaxHeaderSize:      4096,
		MaxBodySize:        1 << 20,
		MaxReceiveQueue:    100,
		MaxWSFrameSize:     1 << 16,
		IdleTimeout:        time.Second,
	}
}

func TestNewConnection_InitializesIdlePhase(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.NewConnection(server, testLimits())
	assert.Equal(t, conn.PhaseIdle, c.Phase.Load())
	assert.NotEmpty(t, c.ID)
}

func TestConnection_ReadHead_CompleteInOneWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.NewConnection(server, testLimits())

	go func() {
		client.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	req, err := c.ReadHead()
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/ping", req.Path)
}

func TestConnection_ReadHead_GrowsPeekAcrossSlowWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.NewConnection(server, testLimits())

	head := "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n"
	go func() {
		for i := 0; i < len(head); i++ {
			client.Write([]byte{head[i]})
			time.Sleep(time.Millisecond)
		}
	}()

	req, err := c.ReadHead()
	require.NoError(t, err)
	assert.Equal(t, "/slow", req.Path)
}

func TestConnection_ReadHead_ErrorWhenPeerClosesEarly(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := conn.NewConnection(server, testLimits())

	go func() {
		client.Write([]byte("GET /incompl"))
		client.Close()
	}()

	_, err := c.ReadHead()
	assert.Error(t, err)
}
