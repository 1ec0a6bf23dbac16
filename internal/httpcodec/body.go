package httpcodec

import (
	"bytes"
	"strconv"
	"strings"
)

// chunkState is the chunked-transfer-coding decoder's internal phase.
type chunkState int

const (
	chunkReadingSize chunkState = iota
	chunkReadingData
	chunkReadingDataCRLF
	chunkReadingTrailers
	chunkDone
)

// ChunkDecoder incrementally decodes a chunked request body per spec §4.1.
// Feed is called with newly-arrived bytes; it returns decoded payload bytes,
// how many input bytes it consumed, and an error (a *ParseError, for §4.1's
// "Invalid chunk size" / size-limit rules). Done reports whether the body is
// complete.
type ChunkDecoder struct {
	state       chunkState
	remaining   int64 // bytes left in the current chunk's data
	decodedSize int64
	maxBodySize int64
}

func NewChunkDecoder(maxBodySize int64) *ChunkDecoder {
	return &ChunkDecoder{maxBodySize: maxBodySize}
}

func (d *ChunkDecoder) Done() bool { return d.state == chunkDone }

// Feed consumes as much of buf as it can, returning decoded payload bytes
// and the number of input bytes consumed. Call again with more bytes
// appended when it returns (0 consumed, no error, not done) — that means
// a partial line/chunk is buffered upstream and more data is needed.
func (d *ChunkDecoder) Feed(buf []byte) (decoded []byte, consumed int, err error) {
	for consumed < len(buf) {
		switch d.state {
		case chunkReadingSize:
			idx := bytes.Index(buf[consumed:], []byte("\r\n"))
			if idx < 0 {
				return decoded, consumed, nil
			}
			line := buf[consumed : consumed+idx]
			consumed += idx + 2

			sizeField := line
			if semi := bytes.IndexByte(sizeField, ';'); semi >= 0 {
				sizeField = sizeField[:semi]
			}
			sizeField = bytes.TrimSpace(sizeField)
			if len(sizeField) == 0 {
				return decoded, consumed, newParseError(400, "Invalid chunk size", consumed)
			}
			for _, b := range sizeField {
				if !isHexDigit(b) {
					return decoded, consumed, newParseError(400, "Invalid chunk size", consumed)
				}
			}
			size, perr := strconv.ParseInt(strings.ToLower(string(sizeField)), 16, 64)
			if perr != nil {
				return decoded, consumed, newParseError(400, "Invalid chunk size", consumed)
			}
			if size == 0 {
				d.state = chunkReadingTrailers
				continue
			}
			d.remaining = size
			d.state = chunkReadingData

		case chunkReadingData:
			avail := int64(len(buf) - consumed)
			take := d.remaining
			if avail < take {
				take = avail
			}
			if take > 0 {
				d.decodedSize += take
				if d.maxBodySize > 0 && d.decodedSize > d.maxBodySize {
					return decoded, consumed, newParseError(413, "Payload Too Large", consumed)
				}
				decoded = append(decoded, buf[consumed:consumed+int(take)]...)
				consumed += int(take)
				d.remaining -= take
			}
			if d.remaining > 0 {
				return decoded, consumed, nil
			}
			d.state = chunkReadingDataCRLF

		case chunkReadingDataCRLF:
			if len(buf)-consumed < 2 {
				return decoded, consumed, nil
			}
			if buf[consumed] != '\r' || buf[consumed+1] != '\n' {
				return decoded, consumed, newParseError(400, "Invalid chunk size", consumed)
			}
			consumed += 2
			d.state = chunkReadingSize

		case chunkReadingTrailers:
			idx := bytes.Index(buf[consumed:], []byte("\r\n\r\n"))
			if idx < 0 {
				// tolerate the no-trailer fast path: "0\r\n\r\n"
				if bytes.HasPrefix(buf[consumed:], []byte("\r\n")) {
					consumed += 2
					d.state = chunkDone
					return decoded, consumed, nil
				}
				return decoded, consumed, nil
			}
			_, perr := parseHeaderBlock(buf[consumed:consumed+idx+2], consumed+idx+4)
			if perr != nil {
				return decoded, consumed, perr
			}
			consumed += idx + 4
			d.state = chunkDone
			return decoded, consumed, nil

		case chunkDone:
			return decoded, consumed, nil
		}
	}
	return decoded, consumed, nil
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
