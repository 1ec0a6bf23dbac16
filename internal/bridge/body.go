package bridge

import (
	"io"

	"github.com/pagi-server/pagi/internal/httpcodec"
)

// bodyReader streams a decoded request body one chunk at a time, so the
// codec "reads only when asked" (spec §4.5 backpressure policy).
type bodyReader interface {
	// next returns the next decoded chunk, whether more remain, and any
	// decode error (already shaped as an *httpcodec.ParseError where
	// applicable).
	next() (chunk []byte, more bool, err error)
}

type noBody struct{ done bool }

func (b *noBody) next() ([]byte, bool, error) {
	b.done = true
	return nil, false, nil
}

type identityBodyReader struct {
	r         io.Reader
	remaining int64
	buf       []byte
}

func newIdentityBodyReader(r io.Reader, length int64) *identityBodyReader {
	return &identityBodyReader{r: r, remaining: length, buf: make([]byte, 65536)}
}

func (b *identityBodyReader) next() ([]byte, bool, error) {
	if b.remaining <= 0 {
		return nil, false, nil
	}
	want := int64(len(b.buf))
	if b.remaining < want {
		want = b.remaining
	}
	n, err := b.r.Read(b.buf[:want])
	if n > 0 {
		b.remaining -= int64(n)
	}
	if err != nil && n == 0 {
		return nil, false, err
	}
	data := make([]byte, n)
	copy(data, b.buf[:n])
	return data, b.remaining > 0, nil
}

type chunkedBodyReader struct {
	r       io.Reader
	decoder *httpcodec.ChunkDecoder
	pending []byte
	readBuf []byte
}

func newChunkedBodyReader(r io.Reader, maxBodySize int64) *chunkedBodyReader {
	return &chunkedBodyReader{
		r:       r,
		decoder: httpcodec.NewChunkDecoder(maxBodySize),
		readBuf: make([]byte, 65536),
	}
}

func (b *chunkedBodyReader) next() ([]byte, bool, error) {
	for {
		if len(b.pending) > 0 || b.decoder.Done() {
			decoded, consumed, err := b.decoder.Feed(b.pending)
			b.pending = b.pending[consumed:]
			if err != nil {
				return nil, false, err
			}
			if len(decoded) > 0 {
				return decoded, !b.decoder.Done(), nil
			}
			if b.decoder.Done() {
				return nil, false, nil
			}
		}
		n, err := b.r.Read(b.readBuf)
		if n > 0 {
			b.pending = append(b.pending, b.readBuf[:n]...)
			continue
		}
		if err != nil {
			return nil, false, err
		}
	}
}

// discardBody drains whatever remains of the body without handing it to the
// application, per spec §4.4 "If the application sends its response before
// consuming the body, the remainder is discarded".
func discardBody(b bodyReader) {
	for {
		_, more, err := b.next()
		if err != nil || !more {
			return
		}
	}
}
