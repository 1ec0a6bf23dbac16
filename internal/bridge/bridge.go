// Package bridge implements the application bridge of spec §4.5 together
// with the connection state machine it drives (spec §4.4): building scopes,
// implementing receive/send per scope type, enforcing send-event ordering,
// and running the HTTP keep-alive loop with WebSocket/SSE upgrade dispatch.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pagi-server/pagi/internal/conn"
	"github.com/pagi-server/pagi/internal/httpcodec"
	"github.com/pagi-server/pagi/pkg/pagi"
)

// AccessLogEntry is one completed HTTP request record for spec §6.4.
type AccessLogEntry struct {
	Method   string
	Path     string
	Status   int
	Size     int64 // bytes passed through Send, not wire bytes — see spec §9
	Duration time.Duration
	ConnID   string
}

// Handler drives every connection handed to it by the acceptor (spec §4.6)
// through the HTTP/WebSocket/SSE state machine, dispatching each exchange
// to App.
type Handler struct {
	App        pagi.App
	Logger     *slog.Logger
	State      pagi.State
	Version    string
	ServerName string
	AccessLog  func(AccessLogEntry)
	Scheme     string // "http" or "https"
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Serve drives one connection's full lifecycle: the HTTP keep-alive loop,
// upgrade dispatch to WebSocket, and the application's choice to enter SSE.
// It returns once the connection is closed (spec §4.4's `closed` terminal
// state for every path).
func (h *Handler) Serve(ctx context.Context, c *conn.Connection) {
	defer func() {
		c.Phase.Store(conn.PhaseClosed)
		c.Writer.Flush()
		c.Raw.Close()
	}()

	for {
		c.Phase.Store(conn.PhaseIdle)
		if err := c.Idle.Arm(); err != nil {
			return
		}

		c.Phase.Store(conn.PhaseReadingHeaders)
		req, err := c.ReadHead()
		if err != nil {
			var perr *httpcodec.ParseError
			if errors.As(err, &perr) {
				writeErrorResponse(c, perr.Status)
			}
			return
		}

		c.Phase.Store(conn.PhaseDispatching)
		insp := inspectHeaders(req.Headers)

		if isWebSocketUpgrade(req, insp) {
			h.handleWebSocket(ctx, c, req, insp)
			return
		}

		keepAlive, enteredSSE := h.handleExchange(ctx, c, req, insp)
		if enteredSSE {
			return
		}
		if !keepAlive {
			return
		}
	}
}

// headerInspection is the "single-pass header inspection" cache of spec
// §4.4: connection/upgrade/sec-websocket-key/accept extracted once per
// request and reused for upgrade detection and keep-alive; accept is
// recorded but not consulted by the bridge.
type headerInspection struct {
	connectionTokens []string
	upgrade          string
	wsKey            string
	accept           string
	wantsClose       bool
}

func inspectHeaders(headers []httpcodec.Header) headerInspection {
	var insp headerInspection
	for _, hd := range headers {
		switch hd.Name {
		case "connection":
			for _, tok := range strings.Split(hd.Value, ",") {
				tok = strings.ToLower(strings.TrimSpace(tok))
				insp.connectionTokens = append(insp.connectionTokens, tok)
				if tok == "close" {
					insp.wantsClose = true
				}
			}
		case "upgrade":
			insp.upgrade = strings.ToLower(hd.Value)
		case "sec-websocket-key":
			insp.wsKey = hd.Value
		case "accept":
			insp.accept = hd.Value
		}
	}
	return insp
}

func (i headerInspection) hasConnectionToken(tok string) bool {
	for _, t := range i.connectionTokens {
		if t == tok {
			return true
		}
	}
	return false
}

// isWebSocketUpgrade implements spec §4.4's upgrade detection rule.
func isWebSocketUpgrade(req *httpcodec.Request, insp headerInspection) bool {
	return req.Method == "GET" &&
		strings.Contains(insp.upgrade, "websocket") &&
		insp.hasConnectionToken("upgrade") &&
		insp.wsKey != ""
}

func clientWantsKeepAlive(req *httpcodec.Request, insp headerInspection) bool {
	if req.Version == "1.0" {
		return insp.hasConnectionToken("keep-alive")
	}
	return !insp.wantsClose
}

func endpointOf(addr net.Addr) pagi.Endpoint {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return pagi.Endpoint{Host: addr.String()}
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			port = 0
			break
		}
		port = port*10 + int(c-'0')
	}
	return pagi.Endpoint{Host: host, Port: port}
}

func writeErrorResponse(c *conn.Connection, status int) {
	httpcodec.WriteStatusLine(c.Writer, status)
	body := []byte(httpcodec.ReasonPhrase(status))
	httpcodec.WriteHeader(c.Writer, "content-type", "text/plain; charset=utf-8")
	httpcodec.WriteHeader(c.Writer, "content-length", itoa(len(body)))
	httpcodec.WriteHeader(c.Writer, "connection", "close")
	c.Writer.Write([]byte("\r\n"))
	c.Writer.Write(body)
	c.Writer.Flush()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
