// Package pagi defines the application interface every PAGI::Server
// application programs against: a Scope describing one exchange, a Receive
// primitive that yields the next inbound Event, and a Send primitive that
// accepts the next outbound Event.
package pagi

import "context"

// ScopeType distinguishes the four exchange kinds the core dispatches.
type ScopeType string

const (
	ScopeHTTP      ScopeType = "http"
	ScopeWebSocket ScopeType = "websocket"
	ScopeSSE       ScopeType = "sse"
	ScopeLifespan  ScopeType = "lifespan"
)

// HeaderPair preserves header order and repeated names, the way the wire
// protocol and the spec's `[[name,value],...]` event fields require.
type HeaderPair struct {
	Name  string
	Value string
}

// Endpoint is a host/port pair for either side of a connection.
type Endpoint struct {
	Host string
	Port int
}

// PAGIMeta carries server identity plus the loop handle applications use for
// timers and async file I/O (here, a context.Context). Only the lifespan
// scope sets Loop, to the context lifespan.Start is given; http, websocket
// and sse scopes leave it nil.
type PAGIMeta struct {
	Version string
	Loop    context.Context
}

// Extension is an opaque descriptor advertised under scope.Extensions. The
// core currently advertises only "tls" (a TLSInfo value), on TLS connections.
// FullFlushExtension is declared and the fullflush send event is accepted,
// but no "fullflush" key is put in scope.Extensions.
// New extensions are added by extending this variant; applications that don't
// recognize a key simply ignore it.
type Extension any

// TLSInfo is the "tls" extension descriptor: metadata only, never the full
// peer certificate, so the connection doesn't keep it resident for its life.
type TLSInfo struct {
	CipherSuite         string
	NegotiatedProtocol  string
	Version             string
	PeerCertFingerprint string // hex SHA-256 of the peer leaf certificate, empty if absent
}

// FullFlushExtension marks that the transport supports an application-
// requested buffer flush (the "fullflush" signal event in §4.5).
type FullFlushExtension struct{}

// State is the process-wide, opaque-to-the-core lifespan state object,
// published read-only to every subsequent request scope.
type State = map[string]any

// Scope is the tagged record passed to the application exactly once per
// logical exchange. Not every field applies to every Type; see spec §6.1.
type Scope struct {
	Type ScopeType

	// http / websocket / sse
	Scheme       string
	Method       string // http only
	Path         string // decoded
	RawPath      string
	QueryString  []byte
	Headers      []HeaderPair // lower-cased names, original values
	HTTPVersion  string       // "1.0" or "1.1", http only
	Subprotocols []string     // websocket only
	Client       Endpoint
	Server       Endpoint

	PAGI       PAGIMeta
	State      State
	Extensions map[string]Extension
}

// Receive yields the next inbound Event for this scope's exchange. It
// suspends until an event is available; see spec §5 "Suspension points".
type Receive func(ctx context.Context) (Event, error)

// Send accepts the next outbound Event for this scope's exchange. It
// suspends until the event (or the bytes it implies) has been handed off to
// the transport, so that a caller awaiting Send observes true ordering.
type Send func(ctx context.Context, evt Event) error

// App is the application interface the core dispatches every scope to.
// Applications that do not implement lifespan must return ErrUnsupportedScope
// (see package lifespan) the first time they see a ScopeLifespan scope.
type App func(ctx context.Context, scope *Scope, receive Receive, send Send) error
