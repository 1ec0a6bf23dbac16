package conn

import (
	"net"
	"time"
)

// IdleTimer implements the connection idle timeout using read deadlines. Arm
// sets the deadline timeout from now; the keep-alive loop calls it once before
// each request head, and individual reads do not push the deadline back. It is
// disarmed once the connection leaves HTTP request/response phases
// (WebSocket/SSE disarm it so the application can run its own heartbeats).
type IdleTimer struct {
	conn    net.Conn
	timeout time.Duration
	armed   bool
}

func NewIdleTimer(c net.Conn, timeout time.Duration) *IdleTimer {
	return &IdleTimer{conn: c, timeout: timeout}
}

// Arm sets (or refreshes) the read deadline timeout from now.
func (t *IdleTimer) Arm() error {
	t.armed = true
	if t.timeout <= 0 {
		return nil
	}
	return t.conn.SetReadDeadline(time.Now().Add(t.timeout))
}

// Disarm clears the read deadline so long-lived WebSocket/SSE streams are
// not cut off by the HTTP idle window.
func (t *IdleTimer) Disarm() error {
	t.armed = false
	return t.conn.SetReadDeadline(time.Time{})
}

func (t *IdleTimer) Armed() bool { return t.armed }
