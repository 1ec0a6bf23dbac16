package httpcodec

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pagi-server/pagi/internal/validate"
)

// reasonPhrases covers the common codes named across the spec; unknown
// codes fall back to "Status <code>" per §4.1.
var reasonPhrases = map[int]string{
	100: "Continue", 101: "Switching Protocols",
	200: "OK", 201: "Created", 202: "Accepted", 204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 408: "Request Timeout", 409: "Conflict",
	411: "Length Required", 413: "Payload Too Large", 414: "URI Too Long",
	415: "Unsupported Media Type", 426: "Upgrade Required",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error", 501: "Not Implemented", 502: "Bad Gateway",
	503: "Service Unavailable", 504: "Gateway Timeout",
}

func ReasonPhrase(status int) string {
	if p, ok := reasonPhrases[status]; ok {
		return p
	}
	return fmt.Sprintf("Status %d", status)
}

// BodyPolicy is the outcome of the framing decision tree in spec §4.1.
type BodyPolicy int

const (
	BodySuppressed BodyPolicy = iota // HEAD, or 1xx/204/304
	BodyIdentity                     // Content-Length framing
	BodyChunked                      // chunked framing
	BodyRawUntilClose                // HTTP/1.0, no Content-Length
)

// ResponseHead describes everything needed to choose framing and write the
// status line + headers for one response.
type ResponseHead struct {
	Status          int
	Headers         []Header
	ContentLength   int64 // -1 if not supplied by the application
	WantsTrailers   bool
	IsHead          bool
	IsHTTP10        bool
	ClientKeepAlive bool // client sent Connection: keep-alive (1.0) / did not send close (1.1)
	ServerClose     bool // policy decided to close regardless
}

// DecideBodyPolicy implements spec §4.1's framing decision tree, in order.
func DecideBodyPolicy(h ResponseHead) BodyPolicy {
	if h.IsHead {
		return BodySuppressed
	}
	switch h.Status {
	case 204, 304:
		return BodySuppressed
	}
	if h.Status >= 100 && h.Status < 200 {
		return BodySuppressed
	}
	if h.ContentLength >= 0 {
		return BodyIdentity
	}
	if h.WantsTrailers || !h.IsHTTP10 {
		return BodyChunked
	}
	return BodyRawUntilClose
}

// KeepAlive implements the "Connection header policy on response" table of
// spec §4.1.
func KeepAlive(h ResponseHead, policy BodyPolicy) bool {
	if h.ServerClose {
		return false
	}
	if h.IsHTTP10 {
		hasDefiniteLength := policy == BodyIdentity || h.IsHead
		return h.ClientKeepAlive && hasDefiniteLength
	}
	if !h.ClientKeepAlive {
		return false
	}
	// HTTP/1.1: any of identity, chunked, or HEAD-suppressed bodies has
	// well-defined framing; BodyRawUntilClose never happens for 1.1.
	return true
}

// WriteStatusLine writes "HTTP/1.1 <code> <reason>\r\n".
func WriteStatusLine(w io.Writer, status int) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, ReasonPhrase(status))
	return err
}

// WriteHeader validates and emits one "name: value\r\n" line. Per spec
// §4.1/§7, a validation failure must never reach the wire; callers treat the
// returned error as an application contract violation.
func WriteHeader(w io.Writer, name, value string) error {
	if err := validate.HeaderName(name); err != nil {
		return err
	}
	if err := validate.HeaderValue(value); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s: %s\r\n", name, value)
	return err
}

// WriteChunk writes one chunked-encoding data chunk: "<hex-size>\r\n<bytes>\r\n".
func WriteChunk(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "%s\r\n", strconv.FormatInt(int64(len(data)), 16)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// WriteFinalChunk writes the terminating "0\r\n", optional trailers, then
// the closing "\r\n".
func WriteFinalChunk(w io.Writer, trailers []Header) error {
	if _, err := io.WriteString(w, "0\r\n"); err != nil {
		return err
	}
	for _, t := range trailers {
		if err := WriteHeader(w, t.Name, t.Value); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// HasHeader reports whether headers contains name case-insensitively.
func HasHeader(headers []Header, name string) bool {
	lname := []byte(name)
	for i := range lname {
		if lname[i] >= 'A' && lname[i] <= 'Z' {
			lname[i] += 'a' - 'A'
		}
	}
	for _, h := range headers {
		if h.Name == string(lname) {
			return true
		}
	}
	return false
}
