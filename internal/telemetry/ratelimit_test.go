package telemetry_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagi-server/pagi/internal/telemetry"
)

type fakeNetAddr string

func (a fakeNetAddr) Network() string { return "tcp" }
func (a fakeNetAddr) String() string  { return string(a) }

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := telemetry.NewRateLimiter(1, 3)
	addr := fakeNetAddr("203.0.113.5:5555")

	assert.True(t, rl.Allow(addr))
	assert.True(t, rl.Allow(addr))
	assert.True(t, rl.Allow(addr))
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	rl := telemetry.NewRateLimiter(0.001, 1)
	addr := fakeNetAddr("203.0.113.6:5555")

	assert.True(t, rl.Allow(addr))
	assert.False(t, rl.Allow(addr))
}

func TestRateLimiter_TracksDistinctIPsIndependently(t *testing.T) {
	rl := telemetry.NewRateLimiter(0.001, 1)
	a := fakeNetAddr("203.0.113.7:1111")
	b := fakeNetAddr("203.0.113.8:2222")

	assert.True(t, rl.Allow(a))
	assert.True(t, rl.Allow(b))
	assert.False(t, rl.Allow(a))
}

func TestRateLimiter_FallsBackToFullAddrWhenNoPort(t *testing.T) {
	rl := telemetry.NewRateLimiter(1, 2)
	addr := fakeNetAddr("not-a-host-port")
	assert.True(t, rl.Allow(addr))
}

var _ net.Addr = fakeNetAddr("")
