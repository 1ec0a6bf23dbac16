// Package conn holds the low-level per-connection primitives of spec §4.4:
// connection phases, the idle timer, and the bounded WebSocket receive
// queue. The driving state machine itself (the keep-alive loop and upgrade
// dispatch) lives in package bridge, which composes these primitives.
package conn

import "sync/atomic"

// Phase is one state of the per-connection lifecycle named in spec §3/§4.4.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseReadingHeaders
	PhaseReadingBody
	PhaseDispatching
	PhaseWritingResponse
	PhaseWebSocketOpen
	PhaseSSEOpen
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReadingHeaders:
		return "reading_headers"
	case PhaseReadingBody:
		return "reading_body"
	case PhaseDispatching:
		return "dispatching"
	case PhaseWritingResponse:
		return "writing_response"
	case PhaseWebSocketOpen:
		return "websocket_open"
	case PhaseSSEOpen:
		return "sse_open"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PhaseHolder is an atomically-updated Phase, safe to read from the
// supervisor's active-connections sweep while the connection's own
// goroutine drives transitions.
type PhaseHolder struct {
	v atomic.Int32
}

func (h *PhaseHolder) Load() Phase     { return Phase(h.v.Load()) }
func (h *PhaseHolder) Store(p Phase)   { h.v.Store(int32(p)) }
func (h *PhaseHolder) Terminal() bool  { p := h.Load(); return p == PhaseClosing || p == PhaseClosed }
