package pagi

// EventType enumerates the exhaustive event catalogue of spec §6.1. Events
// are plain immutable records; producers never mutate one after enqueueing.
type EventType string

const (
	// server -> app, via Receive
	EventHTTPRequest        EventType = "http.request"
	EventHTTPDisconnect     EventType = "http.disconnect"
	EventWebSocketConnect   EventType = "websocket.connect"
	EventWebSocketReceive   EventType = "websocket.receive"
	EventWebSocketDisconnect EventType = "websocket.disconnect"
	EventSSEDisconnect      EventType = "sse.disconnect"
	EventLifespanStartup    EventType = "lifespan.startup"
	EventLifespanShutdown   EventType = "lifespan.shutdown"

	// app -> server, via Send
	EventHTTPResponseStart    EventType = "http.response.start"
	EventHTTPResponseBody     EventType = "http.response.body"
	EventHTTPResponseTrailers EventType = "http.response.trailers"
	EventWebSocketAccept      EventType = "websocket.accept"
	EventWebSocketSend        EventType = "websocket.send"
	EventWebSocketClose       EventType = "websocket.close"
	EventSSEStart             EventType = "sse.start"
	EventSSESend              EventType = "sse.send"
	EventFullFlush            EventType = "fullflush"
	EventLifespanStartupOK    EventType = "lifespan.startup.complete"
	EventLifespanStartupFail  EventType = "lifespan.startup.failed"
	EventLifespanShutdownOK   EventType = "lifespan.shutdown.complete"
	EventLifespanShutdownFail EventType = "lifespan.shutdown.failed"
)

// Event is the tagged record exchanged via Receive/Send. Exactly one of the
// typed payload fields is populated, selected by Type.
type Event struct {
	Type EventType

	// http.request
	Body []byte
	More bool

	// websocket.receive / websocket.send
	Text  *string
	Bytes []byte

	// websocket.disconnect / websocket.close
	Code   int
	Reason string

	// http.response.start
	Status   int
	Headers  []HeaderPair
	Trailers bool // requests trailers (start) / carries trailers (trailers event uses Headers)

	// websocket.accept
	Subprotocol string

	// sse.start / sse.send
	SSEEvent string
	SSEID    string
	SSERetry int
	SSEData  any // string or a structured value, JSON-encoded by the serializer

	// lifespan.startup.failed / lifespan.shutdown.failed
	Message string
}
