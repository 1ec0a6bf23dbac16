package bridge

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pagi-server/pagi/internal/conn"
	"github.com/pagi-server/pagi/internal/httpcodec"
	"github.com/pagi-server/pagi/internal/tlsinfo"
	"github.com/pagi-server/pagi/internal/validate"
	"github.com/pagi-server/pagi/internal/wscodec"
	"github.com/pagi-server/pagi/pkg/pagi"
)

const websocketMagicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func computeAcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(websocketMagicGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// handleWebSocket drives the entire websocket_open lifecycle of spec §4.4:
// the handshake, then the accept/receive/send loop, ending only in closing.
func (h *Handler) handleWebSocket(ctx context.Context, c *conn.Connection, req *httpcodec.Request, insp headerInspection) {
	var subprotocols []string
	for _, hd := range req.Headers {
		if hd.Name == "sec-websocket-protocol" {
			for _, p := range strings.Split(hd.Value, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					subprotocols = append(subprotocols, p)
				}
			}
		}
	}

	headers := make([]pagi.HeaderPair, 0, len(req.Headers))
	for _, hd := range req.Headers {
		headers = append(headers, pagi.HeaderPair{Name: hd.Name, Value: hd.Value})
	}
	scheme := "ws"
	if h.Scheme == "https" {
		scheme = "wss"
	}
	ext := map[string]pagi.Extension{}
	if c.TLSEnabled {
		ext["tls"] = tlsinfo.From(c.TLSState)
	}
	scope := &pagi.Scope{
		Type:         pagi.ScopeWebSocket,
		Scheme:       scheme,
		Path:         req.Path,
		RawPath:      req.Target,
		QueryString:  req.RawQuery,
		Headers:      headers,
		Subprotocols: subprotocols,
		Client:       endpointOf(c.Raw.RemoteAddr()),
		Server:       endpointOf(c.Raw.LocalAddr()),
		PAGI:         pagi.PAGIMeta{Version: h.Version},
		State:        h.State,
		Extensions:   ext,
	}

	ws := &wsExchange{
		conn:     c,
		acceptKey: computeAcceptKey(insp.wsKey),
		maxFrame: c.Limits.MaxWSFrameSize,
		queue:    conn.NewReceiveQueue[pagi.Event](c.Limits.MaxReceiveQueue),
	}

	if err := h.App(ctx, scope, ws.receive, ws.send); err != nil {
		h.logger().Error("application error on websocket scope", "error", err, "conn_id", c.ID)
	}
}

// wsExchange implements spec §4.5's WebSocket scope contract.
type wsExchange struct {
	conn      *conn.Connection
	acceptKey string
	maxFrame  int64

	queue       *conn.ReceiveQueue[pagi.Event]
	sentConnect bool
	accepted    bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	assembler *wscodec.Assembler
}

func (ws *wsExchange) receive(ctx context.Context) (pagi.Event, error) {
	if !ws.sentConnect {
		ws.sentConnect = true
		return pagi.Event{Type: pagi.EventWebSocketConnect}, nil
	}
	return ws.queue.Pop(ctx)
}

func (ws *wsExchange) send(ctx context.Context, evt pagi.Event) error {
	if !ws.accepted {
		switch evt.Type {
		case pagi.EventWebSocketAccept:
			return ws.writeHandshakeAccept(evt)
		case pagi.EventWebSocketClose:
			ws.writeHandshakeReject(evt)
			return nil
		default:
			ws.conn.Raw.Close()
			return fmt.Errorf("%w: send before accept on websocket scope", ErrContractViolation)
		}
	}

	switch evt.Type {
	case pagi.EventWebSocketSend:
		return ws.writeMessage(evt)
	case pagi.EventWebSocketClose:
		code := evt.Code
		if code == 0 {
			code = wscodec.CloseNormal
		}
		ws.sendClose(code, evt.Reason)
		return nil
	case pagi.EventFullFlush:
		ws.writeMu.Lock()
		defer ws.writeMu.Unlock()
		return ws.conn.Writer.Flush()
	default:
		return fmt.Errorf("%w: unexpected event %s on websocket scope", ErrContractViolation, evt.Type)
	}
}

func (ws *wsExchange) writeHandshakeAccept(evt pagi.Event) error {
	if err := httpcodec.WriteStatusLine(ws.conn.Writer, 101); err != nil {
		return err
	}
	httpcodec.WriteHeader(ws.conn.Writer, "upgrade", "websocket")
	httpcodec.WriteHeader(ws.conn.Writer, "connection", "Upgrade")
	httpcodec.WriteHeader(ws.conn.Writer, "sec-websocket-accept", ws.acceptKey)
	if evt.Subprotocol != "" {
		if err := validate.Subprotocol(evt.Subprotocol); err != nil {
			return fmt.Errorf("%w: %v", ErrContractViolation, err)
		}
		httpcodec.WriteHeader(ws.conn.Writer, "sec-websocket-protocol", evt.Subprotocol)
	}
	for _, hp := range evt.Headers {
		if err := httpcodec.WriteHeader(ws.conn.Writer, hp.Name, hp.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrContractViolation, err)
		}
	}
	if _, err := ws.conn.Writer.WriteString("\r\n"); err != nil {
		return err
	}
	if err := ws.conn.Writer.Flush(); err != nil {
		return err
	}

	ws.accepted = true
	ws.conn.Idle.Disarm()
	ws.conn.Phase.Store(conn.PhaseWebSocketOpen)
	ws.assembler = wscodec.NewAssembler(ws.maxFrame)
	go ws.readPump()
	return nil
}

func (ws *wsExchange) writeHandshakeReject(evt pagi.Event) {
	status := 403
	httpcodec.WriteStatusLine(ws.conn.Writer, status)
	reason := evt.Reason
	if reason == "" {
		reason = "WebSocket connection rejected"
	}
	httpcodec.WriteHeader(ws.conn.Writer, "content-type", "text/plain; charset=utf-8")
	httpcodec.WriteHeader(ws.conn.Writer, "content-length", itoa(len(reason)))
	httpcodec.WriteHeader(ws.conn.Writer, "connection", "close")
	ws.conn.Writer.WriteString("\r\n")
	ws.conn.Writer.WriteString(reason)
	ws.conn.Writer.Flush()
}

func (ws *wsExchange) writeMessage(evt pagi.Event) error {
	if evt.Text != nil {
		return ws.writeFrameLocked(wscodec.OpcodeText, true, []byte(*evt.Text))
	}
	return ws.writeFrameLocked(wscodec.OpcodeBinary, true, evt.Bytes)
}

func (ws *wsExchange) writeFrameLocked(opcode wscodec.Opcode, fin bool, payload []byte) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := wscodec.WriteFrame(ws.conn.Writer, opcode, fin, payload); err != nil {
		return err
	}
	return ws.conn.Writer.Flush()
}

// sendClose writes a close frame exactly once; later calls are no-ops,
// since either side (app or peer) may initiate the close sequence first.
func (ws *wsExchange) sendClose(code int, reason string) {
	ws.closeOnce.Do(func() {
		ws.writeFrameLocked(wscodec.OpcodeClose, true, wscodec.EncodeCloseFrame(code, reason))
	})
}

func (ws *wsExchange) pushDisconnect(code int) {
	ws.queue.Push(pagi.Event{Type: pagi.EventWebSocketDisconnect, Code: code})
}

// readPump is the single goroutine reading frames off the wire for this
// connection; it owns the Assembler and enqueues completed messages,
// applying the bounded receive-queue backpressure policy of spec §3/§4.5.
func (ws *wsExchange) readPump() {
	for {
		frame, err := wscodec.ReadFrame(ws.conn.Reader, ws.maxFrame)
		if err != nil {
			code := closeCodeForFrameError(err)
			ws.sendClose(code, "")
			ws.pushDisconnect(code)
			ws.conn.Raw.Close()
			return
		}

		msg, ctrl, perr := ws.assembler.Feed(frame)
		if perr != nil {
			var pe *wscodec.ProtocolError
			if errors.As(perr, &pe) {
				ws.sendClose(pe.Code, pe.Reason)
				ws.pushDisconnect(pe.Code)
			} else {
				ws.sendClose(wscodec.CloseProtocolError, "")
				ws.pushDisconnect(wscodec.CloseProtocolError)
			}
			ws.conn.Raw.Close()
			return
		}

		if ctrl != nil {
			switch ctrl.Opcode {
			case wscodec.OpcodePing:
				ws.writeFrameLocked(wscodec.OpcodePong, true, ctrl.Payload)
			case wscodec.OpcodePong:
				// no action required
			case wscodec.OpcodeClose:
				code, _, _ := wscodec.DecodeClosePayload(ctrl.Payload)
				if code == 0 {
					code = wscodec.CloseNormal
				}
				ws.sendClose(code, "")
				ws.pushDisconnect(code)
				ws.conn.Raw.Close()
				return
			}
			continue
		}

		if msg != nil {
			evt := pagi.Event{Type: pagi.EventWebSocketReceive}
			if msg.Opcode == wscodec.OpcodeText {
				s := string(msg.Data)
				evt.Text = &s
			} else {
				evt.Bytes = msg.Data
			}
			if err := ws.queue.Push(evt); err != nil {
				ws.sendClose(wscodec.ClosePolicyViolation, "Message queue overflow")
				ws.pushDisconnect(wscodec.ClosePolicyViolation)
				ws.conn.Raw.Close()
				return
			}
		}
	}
}

func closeCodeForFrameError(err error) int {
	switch {
	case errors.Is(err, wscodec.ErrFrameTooLarge):
		return wscodec.CloseMessageTooBig
	case errors.Is(err, wscodec.ErrReservedBitsSet),
		errors.Is(err, wscodec.ErrReservedOpcode),
		errors.Is(err, wscodec.ErrControlFragmented),
		errors.Is(err, wscodec.ErrNotMasked):
		return wscodec.CloseProtocolError
	default:
		return wscodec.CloseNormal
	}
}
