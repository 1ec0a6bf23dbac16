// Package telemetry supplies the default access-log writer and the
// acceptor-level per-source rate limiter referenced by spec §6.3/§6.4.
// The core itself only depends on a callback (bridge.AccessLogEntry); the
// wire format here is the bundled default, not a core concern (spec §1
// lists "access-log formatting" as deliberately out of scope for the core).
package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/pagi-server/pagi/internal/bridge"
)

// AccessLogger writes one line per completed HTTP request.
type AccessLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewAccessLogger opens the access log per spec §6.3's `--access-log
// PATH|-` flag: "-" means stdout, any other value is a file path opened
// for append.
func NewAccessLogger(target string) (*AccessLogger, error) {
	if target == "-" {
		return &AccessLogger{w: os.Stdout}, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening access log %q: %w", target, err)
	}
	return &AccessLogger{w: f}, nil
}

// Write implements the bridge.Handler.AccessLog hook: a single
// space-delimited line with method, path, status, response size, and
// duration — the minimum fields spec §6.4 requires.
func (a *AccessLogger) Write(e bridge.AccessLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.w, "%s %s %d %d %s %s\n",
		e.Method, e.Path, e.Status, e.Size, e.Duration, e.ConnID)
}

// SlogAccessLogger adapts the same hook onto structured logging, for
// deployments that prefer JSON access records over the plain line format.
type SlogAccessLogger struct {
	Logger *slog.Logger
}

func (s SlogAccessLogger) Write(e bridge.AccessLogEntry) {
	s.Logger.Info("http access",
		"method", e.Method,
		"path", e.Path,
		"status", e.Status,
		"bytes", e.Size,
		"duration_ms", e.Duration.Milliseconds(),
		"conn_id", e.ConnID,
	)
}
