package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pagi-server/pagi/internal/conn"
	"github.com/pagi-server/pagi/internal/httpcodec"
	"github.com/pagi-server/pagi/internal/tlsinfo"
	"github.com/pagi-server/pagi/pkg/pagi"
)

// ErrContractViolation marks a send() call that broke the event-ordering
// contract of spec §4.5 (start twice, body before start, body after final,
// send before accept, ...). The bridge treats this as a fatal application
// error per spec §4.4/§7.
var ErrContractViolation = errors.New("bridge: application violated the send contract")

// handleExchange dispatches one HTTP request to the application. It
// returns whether the connection should continue in keep-alive, and
// whether the exchange instead transitioned into the SSE terminal state
// (in which case Serve must not loop: sse_open only ever ends in closing).
func (h *Handler) handleExchange(ctx context.Context, c *conn.Connection, req *httpcodec.Request, insp headerInspection) (keepAlive bool, enteredSSE bool) {
	start := time.Now()

	body := newBodyReaderFor(c, req)
	exchange := &httpExchange{
		conn:       c,
		req:        req,
		insp:       insp,
		body:       body,
		handler:    h,
		headSent:   false,
		serverName: h.ServerName,
	}

	scope := h.buildHTTPScope(c, req)
	exchange.scope = scope

	err := h.App(ctx, scope, exchange.receive, exchange.send)

	if exchange.sseEntered {
		c.Writer.Flush()
		h.recordAccessLog(req, exchange, start)
		return false, true
	}

	if err != nil || !exchange.started {
		if !exchange.started {
			writeErrorResponse(c, 500)
			exchange.status = 500
		}
		h.logger().Error("application error during HTTP dispatch", "error", err, "conn_id", c.ID)
		h.recordAccessLog(req, exchange, start)
		return false, false
	}

	if !exchange.responseComplete {
		// app returned without completing the response sequence: fatal.
		if exchange.responseStarted() {
			c.Raw.Close()
		}
		h.recordAccessLog(req, exchange, start)
		return false, false
	}

	c.Writer.Flush()
	discardBody(body)
	h.recordAccessLog(req, exchange, start)

	if !exchange.keepAliveDecision {
		return false, false
	}
	return true, false
}

func (h *Handler) recordAccessLog(req *httpcodec.Request, ex *httpExchange, start time.Time) {
	if h.AccessLog == nil {
		return
	}
	h.AccessLog(AccessLogEntry{
		Method:   req.Method,
		Path:     req.Path,
		Status:   ex.status,
		Size:     ex.bodyBytesSent,
		Duration: time.Since(start),
		ConnID:   ex.conn.ID,
	})
}

func (h *Handler) buildHTTPScope(c *conn.Connection, req *httpcodec.Request) *pagi.Scope {
	headers := make([]pagi.HeaderPair, 0, len(req.Headers))
	for _, hd := range req.Headers {
		headers = append(headers, pagi.HeaderPair{Name: hd.Name, Value: hd.Value})
	}
	ext := map[string]pagi.Extension{}
	if c.TLSEnabled {
		ext["tls"] = tlsinfo.From(c.TLSState)
	}
	return &pagi.Scope{
		Type:        pagi.ScopeHTTP,
		Scheme:      h.Scheme,
		Method:      req.Method,
		Path:        req.Path,
		RawPath:     req.Target,
		QueryString: req.RawQuery,
		Headers:     headers,
		HTTPVersion: req.Version,
		Client:      endpointOf(c.Raw.RemoteAddr()),
		Server:      endpointOf(c.Raw.LocalAddr()),
		PAGI:        pagi.PAGIMeta{Version: h.Version},
		State:       h.State,
		Extensions:  ext,
	}
}

func newBodyReaderFor(c *conn.Connection, req *httpcodec.Request) bodyReader {
	if req.Chunked {
		return newChunkedBodyReader(c.Reader, c.Limits.MaxBodySize)
	}
	if req.ContentLength > 0 {
		return newIdentityBodyReader(c.Reader, req.ContentLength)
	}
	return &noBody{}
}

// httpExchange holds the per-request send/receive state machine (spec
// §4.5), and is reset fresh by handleExchange every request — the design
// note of spec §9 prefers this to a closure allocated per call.
type httpExchange struct {
	conn *conn.Connection
	req  *httpcodec.Request
	insp headerInspection
	body bodyReader

	handler    *Handler
	serverName string

	started           bool
	bodyComplete      bool
	responseComplete  bool
	wantsTrailers     bool
	policy            httpcodec.BodyPolicy
	keepAliveDecision bool
	status            int
	bodyBytesSent     int64
	identityRemaining int64
	headSent          bool

	sseEntered bool
	sseState   *sseExchange
	scope      *pagi.Scope

	bodyExhausted bool
}

func (e *httpExchange) responseStarted() bool { return e.started }

// receive implements spec §4.5's HTTP receive contract.
func (e *httpExchange) receive(ctx context.Context) (pagi.Event, error) {
	if e.sseEntered {
		return e.sseState.receive(ctx)
	}
	if e.bodyExhausted {
		return pagi.Event{Type: pagi.EventHTTPDisconnect}, nil
	}
	chunk, more, err := e.body.next()
	if err != nil {
		e.bodyExhausted = true
		return pagi.Event{Type: pagi.EventHTTPDisconnect}, nil
	}
	if !more {
		e.bodyExhausted = true
	}
	return pagi.Event{Type: pagi.EventHTTPRequest, Body: chunk, More: more}, nil
}

// send implements spec §4.5's HTTP send contract, plus the app's ability to
// pivot into SSE via sse.start on the very first event.
func (e *httpExchange) send(ctx context.Context, evt pagi.Event) error {
	if !e.started && evt.Type == pagi.EventSSEStart {
		return e.enterSSE(ctx, evt)
	}
	if e.sseEntered {
		return e.sseState.send(ctx, evt)
	}

	switch evt.Type {
	case pagi.EventHTTPResponseStart:
		if e.started {
			return fmt.Errorf("%w: http.response.start sent twice", ErrContractViolation)
		}
		return e.writeResponseStart(evt)

	case pagi.EventHTTPResponseBody:
		if !e.started {
			return fmt.Errorf("%w: body before start", ErrContractViolation)
		}
		if e.responseComplete {
			return fmt.Errorf("%w: body after final", ErrContractViolation)
		}
		return e.writeResponseBody(evt)

	case pagi.EventHTTPResponseTrailers:
		if !e.started || !e.bodyComplete || !e.wantsTrailers || e.policy != httpcodec.BodyChunked || e.responseComplete {
			return fmt.Errorf("%w: trailers not expected here", ErrContractViolation)
		}
		return e.writeTrailers(evt)

	case pagi.EventFullFlush:
		return e.conn.Writer.Flush()

	default:
		return fmt.Errorf("%w: unexpected event %s on http scope", ErrContractViolation, evt.Type)
	}
}

func (e *httpExchange) writeResponseStart(evt pagi.Event) error {
	e.started = true
	e.status = evt.Status
	e.wantsTrailers = evt.Trailers

	var contentLength int64 = -1
	headers := make([]httpcodec.Header, 0, len(evt.Headers))
	for _, hp := range evt.Headers {
		headers = append(headers, httpcodec.Header{Name: hp.Name, Value: hp.Value})
		if hp.Name == "content-length" {
			var n int64
			fmt.Sscanf(hp.Value, "%d", &n)
			contentLength = n
		}
	}

	head := httpcodec.ResponseHead{
		Status:          evt.Status,
		Headers:         headers,
		ContentLength:   contentLength,
		WantsTrailers:   evt.Trailers,
		IsHead:          e.req.Method == "HEAD",
		IsHTTP10:        e.req.Version == "1.0",
		ClientKeepAlive: clientWantsKeepAlive(e.req, e.insp),
	}
	e.policy = httpcodec.DecideBodyPolicy(head)
	e.keepAliveDecision = httpcodec.KeepAlive(head, e.policy)
	e.identityRemaining = contentLength

	if err := httpcodec.WriteStatusLine(e.conn.Writer, evt.Status); err != nil {
		return err
	}
	hasServer := httpcodec.HasHeader(headers, "server")
	for _, hd := range headers {
		if err := httpcodec.WriteHeader(e.conn.Writer, hd.Name, hd.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrContractViolation, err)
		}
	}
	if !hasServer && e.serverName != "" {
		httpcodec.WriteHeader(e.conn.Writer, "server", e.serverName)
	}
	if e.policy == httpcodec.BodyChunked && !httpcodec.HasHeader(headers, "transfer-encoding") {
		httpcodec.WriteHeader(e.conn.Writer, "transfer-encoding", "chunked")
	}
	if e.keepAliveDecision {
		if e.req.Version == "1.0" {
			httpcodec.WriteHeader(e.conn.Writer, "connection", "keep-alive")
		}
	} else {
		httpcodec.WriteHeader(e.conn.Writer, "connection", "close")
	}
	_, err := e.conn.Writer.WriteString("\r\n")
	return err
}

func (e *httpExchange) writeResponseBody(evt pagi.Event) error {
	if e.policy == httpcodec.BodySuppressed {
		// HEAD / no-body status: application body bytes are dropped on the
		// wire but still counted for the access log (spec §9).
		e.bodyBytesSent += int64(len(evt.Body))
		if !evt.More {
			e.finalizeNonChunked()
		}
		return nil
	}

	e.bodyBytesSent += int64(len(evt.Body))

	switch e.policy {
	case httpcodec.BodyIdentity, httpcodec.BodyRawUntilClose:
		if len(evt.Body) > 0 {
			if _, err := e.conn.Writer.Write(evt.Body); err != nil {
				return err
			}
		}
		if e.policy == httpcodec.BodyIdentity {
			e.identityRemaining -= int64(len(evt.Body))
		}
		if !evt.More {
			e.finalizeNonChunked()
		}
	case httpcodec.BodyChunked:
		if err := httpcodec.WriteChunk(e.conn.Writer, evt.Body); err != nil {
			return err
		}
		if !evt.More {
			e.bodyComplete = true
			if !e.wantsTrailers {
				if err := httpcodec.WriteFinalChunk(e.conn.Writer, nil); err != nil {
					return err
				}
				e.responseComplete = true
			}
		}
	}
	return nil
}

func (e *httpExchange) finalizeNonChunked() {
	e.bodyComplete = true
	if e.policy == httpcodec.BodyIdentity && e.identityRemaining > 0 {
		// Short body: spec §4.1 says close without keep-alive.
		e.keepAliveDecision = false
	}
	e.responseComplete = true
}

func (e *httpExchange) writeTrailers(evt pagi.Event) error {
	trailers := make([]httpcodec.Header, 0, len(evt.Headers))
	for _, hp := range evt.Headers {
		trailers = append(trailers, httpcodec.Header{Name: hp.Name, Value: hp.Value})
	}
	if err := httpcodec.WriteFinalChunk(e.conn.Writer, trailers); err != nil {
		return fmt.Errorf("%w: %v", ErrContractViolation, err)
	}
	e.responseComplete = true
	return nil
}
