package conn

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/pagi-server/pagi/internal/httpcodec"
)

// Limits bounds one connection's behavior per spec §3/§6.3.
type Limits struct {
	MaxRequestLineSize int
	MaxHeaderSize      int
	MaxBodySize        int64
	MaxReceiveQueue    int
	MaxWSFrameSize     int64
	IdleTimeout        time.Duration
}

func (l Limits) httpLimits() httpcodec.Limits {
	return httpcodec.Limits{
		MaxRequestLineSize: l.MaxRequestLineSize,
		MaxHeaderSize:      l.MaxHeaderSize,
		MaxBodySize:        l.MaxBodySize,
	}
}

// Connection is one accepted TCP/TLS stream plus the buffering, identity,
// and phase tracking described in spec §3.
type Connection struct {
	ID     string
	Raw    net.Conn
	Reader *bufio.Reader
	Writer *bufio.Writer
	Idle   *IdleTimer
	Phase  PhaseHolder
	Limits Limits

	TLSEnabled bool
	TLSState   *tls.ConnectionState
}

// NewConnection wraps an accepted net.Conn. If c implements TLS (a
// *tls.Conn), the caller should populate TLSState after the handshake
// completes.
func NewConnection(c net.Conn, limits Limits) *Connection {
	conn := &Connection{
		ID:     uuid.NewString(),
		Raw:    c,
		Reader: bufio.NewReaderSize(c, readBufferSize(limits)),
		Writer: bufio.NewWriterSize(c, 4096),
		Limits: limits,
	}
	conn.Idle = NewIdleTimer(c, limits.IdleTimeout)
	conn.Phase.Store(PhaseIdle)
	return conn
}

func readBufferSize(l Limits) int {
	size := l.MaxRequestLineSize + l.MaxHeaderSize + 4096
	if size < 8192 {
		size = 8192
	}
	return size
}

// ReadHead blocks (subject to the idle deadline) until one full HTTP
// request head is buffered, then parses and consumes it. It implements the
// growing-peek strategy needed because the head's length isn't known up
// front: spec §4.1's parser contract is need_more_bytes / complete / error.
func (c *Connection) ReadHead() (*httpcodec.Request, error) {
	limits := c.Limits.httpLimits()
	need := 1
	maxSize := limits.MaxRequestLineSize + limits.MaxHeaderSize + 8

	for {
		// Peek everything already buffered (at least need bytes), so a short
		// head is parsed without waiting for a fuller buffer.
		size := c.Reader.Buffered()
		if size < need {
			size = need
		}
		peeked, peekErr := c.Reader.Peek(size)
		if len(peeked) > 0 {
			req, consumed, err := httpcodec.ParseHead(peeked, limits)
			switch {
			case err == nil:
				if _, derr := c.Reader.Discard(consumed); derr != nil {
					return nil, derr
				}
				return req, nil
			case errors.Is(err, httpcodec.ErrNeedMoreBytes):
				if peekErr != nil {
					// Underlying read failed/EOFed before a full head arrived.
					return nil, peekErr
				}
				if len(peeked) >= maxSize {
					// ParseHead itself enforces the size limits; reaching here
					// would mean the limits disagree with readBufferSize.
					return nil, &httpcodec.ParseError{Status: 431, Reason: "Request Header Fields Too Large"}
				}
				need = len(peeked) + 1
				continue
			default:
				c.Reader.Discard(consumed)
				return nil, err
			}
		}
		if peekErr != nil {
			return nil, peekErr
		}
	}
}
