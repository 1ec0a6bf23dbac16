package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pagi-server/pagi/internal/bridge"
	"github.com/pagi-server/pagi/internal/conn"
)

// Acceptor drives spec §4.6's single-process accept loop plus the
// active-connections index it needs for graceful drain.
type Acceptor struct {
	Listener    *net.TCPListener
	Handler     *bridge.Handler
	Limits      conn.Limits
	TLSConfig   *tls.Config
	RateLimiter interface{ Allow(net.Addr) bool }
	Logger      *slog.Logger

	mu     sync.Mutex
	active map[string]*conn.Connection
}

func (a *Acceptor) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Run accepts connections until the listener is closed (the signal this
// supervisor uses to mean "stop accepting"), handing each off to its own
// goroutine. It returns nil when the listener closes, any other error
// otherwise.
func (a *Acceptor) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.active == nil {
		a.active = make(map[string]*conn.Connection)
	}
	a.mu.Unlock()

	for {
		raw, err := a.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if a.RateLimiter != nil && !a.RateLimiter.Allow(raw.RemoteAddr()) {
			raw.Close()
			continue
		}

		go a.serve(ctx, raw)
	}
}

func (a *Acceptor) serve(ctx context.Context, raw net.Conn) {
	var tlsState *tls.ConnectionState
	if a.TLSConfig != nil {
		tlsConn := tls.Server(raw, a.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			a.logger().Warn("tls handshake failed", "error", err, "remote", raw.RemoteAddr())
			raw.Close()
			return
		}
		state := tlsConn.ConnectionState()
		tlsState = &state
		raw = tlsConn
	}

	c := conn.NewConnection(raw, a.Limits)
	if tlsState != nil {
		c.TLSEnabled = true
		c.TLSState = tlsState
	}

	a.register(c)
	defer a.unregister(c.ID)

	a.Handler.Serve(ctx, c)
}

func (a *Acceptor) register(c *conn.Connection) {
	a.mu.Lock()
	a.active[c.ID] = c
	a.mu.Unlock()
}

func (a *Acceptor) unregister(id string) {
	a.mu.Lock()
	delete(a.active, id)
	a.mu.Unlock()
}

func (a *Acceptor) snapshot() []*conn.Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*conn.Connection, 0, len(a.active))
	for _, c := range a.active {
		out = append(out, c)
	}
	return out
}

func (a *Acceptor) activeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Drain implements spec §4.6's shutting_down sequence: close connections
// that are currently idle immediately, then poll the active-connections
// index until it empties or timeout elapses, then force-close whatever
// remains.
func (a *Acceptor) Drain(timeout time.Duration) {
	for _, c := range a.snapshot() {
		if c.Phase.Load() == conn.PhaseIdle {
			c.Raw.Close()
		}
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for a.activeCount() > 0 && time.Now().Before(deadline) {
		<-ticker.C
	}

	for _, c := range a.snapshot() {
		c.Raw.Close()
	}
}
