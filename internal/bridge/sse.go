package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagi-server/pagi/internal/conn"
	"github.com/pagi-server/pagi/internal/httpcodec"
	"github.com/pagi-server/pagi/internal/sse"
	"github.com/pagi-server/pagi/pkg/pagi"
)

// enterSSE handles the application's first send event being sse.start: it
// writes the SSE response head (spec §4.3) and flips the connection into
// the sse_open terminal phase (spec §4.4's state diagram).
func (e *httpExchange) enterSSE(ctx context.Context, evt pagi.Event) error {
	e.sseEntered = true
	if e.scope != nil {
		e.scope.Type = pagi.ScopeSSE
	}

	status := evt.Status
	if status == 0 {
		status = 200
	}
	e.status = status

	if err := httpcodec.WriteStatusLine(e.conn.Writer, status); err != nil {
		return err
	}
	hasServer := false
	for _, hp := range evt.Headers {
		if strings.ToLower(hp.Name) == "server" {
			hasServer = true
		}
	}
	for _, kv := range sse.Headers() {
		if err := httpcodec.WriteHeader(e.conn.Writer, strings.ToLower(kv[0]), kv[1]); err != nil {
			return err
		}
	}
	for _, hp := range evt.Headers {
		if err := httpcodec.WriteHeader(e.conn.Writer, hp.Name, hp.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrContractViolation, err)
		}
	}
	if !hasServer && e.serverName != "" {
		httpcodec.WriteHeader(e.conn.Writer, "server", e.serverName)
	}
	if _, err := e.conn.Writer.WriteString("\r\n"); err != nil {
		return err
	}
	if err := e.conn.Writer.Flush(); err != nil {
		return err
	}

	e.conn.Idle.Disarm()
	e.conn.Phase.Store(conn.PhaseSSEOpen)

	se := newSSEExchange(e.conn)
	e.sseState = se
	return nil
}

// sseExchange drives send/receive for a connection that has entered the
// sse_open phase: spec §4.5's SSE scope contract.
type sseExchange struct {
	conn         *conn.Connection
	disconnectCh chan struct{}
}

func newSSEExchange(c *conn.Connection) *sseExchange {
	se := &sseExchange{conn: c, disconnectCh: make(chan struct{})}
	go se.watchDisconnect()
	return se
}

// watchDisconnect detects the peer closing the stream. SSE is one-way in
// practice, so any byte the client does send is simply discarded.
func (se *sseExchange) watchDisconnect() {
	for {
		if _, err := se.conn.Reader.Peek(1); err != nil {
			close(se.disconnectCh)
			return
		}
		if _, err := se.conn.Reader.Discard(1); err != nil {
			close(se.disconnectCh)
			return
		}
	}
}

func (se *sseExchange) receive(ctx context.Context) (pagi.Event, error) {
	select {
	case <-se.disconnectCh:
		return pagi.Event{Type: pagi.EventSSEDisconnect}, nil
	case <-ctx.Done():
		return pagi.Event{Type: pagi.EventSSEDisconnect}, nil
	}
}

func (se *sseExchange) send(ctx context.Context, evt pagi.Event) error {
	switch evt.Type {
	case pagi.EventSSESend:
		err := sse.WriteEvent(se.conn.Writer, sse.Event{
			Event: evt.SSEEvent,
			ID:    evt.SSEID,
			Retry: evt.SSERetry,
			Data:  evt.SSEData,
		})
		if err != nil {
			return err
		}
		return se.conn.Writer.Flush()
	case pagi.EventFullFlush:
		return se.conn.Writer.Flush()
	default:
		return fmt.Errorf("%w: unexpected event %s on sse scope", ErrContractViolation, evt.Type)
	}
}
