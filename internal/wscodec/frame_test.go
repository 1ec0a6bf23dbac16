package wscodec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagi-server/pagi/internal/wscodec"
)

func maskedClientFrame(opcode wscodec.Opcode, fin bool, payload []byte) []byte {
	var buf bytes.Buffer
	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	buf.WriteByte(b0)

	mask := [4]byte{0x11, 0x22, 0x33, 0x44}
	l := len(payload)
	switch {
	case l <= 125:
		buf.WriteByte(byte(l) | 0x80)
	case l <= 0xFFFF:
		buf.WriteByte(126 | 0x80)
		buf.WriteByte(byte(l >> 8))
		buf.WriteByte(byte(l))
	default:
		t := make([]byte, 8)
		for i := 7; i >= 0; i-- {
			t[i] = byte(l)
			l >>= 8
		}
		buf.WriteByte(127 | 0x80)
		buf.Write(t)
	}
	buf.Write(mask[:])
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}
	buf.Write(masked)
	return buf.Bytes()
}

func TestReadFrame_UnmasksClientPayload(t *testing.T) {
	raw := maskedClientFrame(wscodec.OpcodeText, true, []byte("hello"))
	f, err := wscodec.ReadFrame(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	assert.Equal(t, wscodec.OpcodeText, f.Opcode)
	assert.True(t, f.FIN)
	assert.Equal(t, []byte("hello"), f.Payload)
}

func TestReadFrame_RejectsUnmaskedClientFrame(t *testing.T) {
	raw := []byte{0x81, 0x02, 'h', 'i'} // FIN+text, no mask bit
	_, err := wscodec.ReadFrame(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, wscodec.ErrNotMasked)
}

func TestReadFrame_RejectsReservedBits(t *testing.T) {
	raw := maskedClientFrame(wscodec.OpcodeText, true, nil)
	raw[0] |= 0x40 // set RSV1
	_, err := wscodec.ReadFrame(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, wscodec.ErrReservedBitsSet)
}

func TestReadFrame_RejectsFragmentedControlFrame(t *testing.T) {
	raw := maskedClientFrame(wscodec.OpcodePing, false, nil)
	_, err := wscodec.ReadFrame(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, wscodec.ErrControlFragmented)
}

func TestReadFrame_RejectsOversizedControlFrame(t *testing.T) {
	raw := maskedClientFrame(wscodec.OpcodePing, true, make([]byte, 126))
	_, err := wscodec.ReadFrame(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, wscodec.ErrControlFragmented)
}

func TestReadFrame_EnforcesMaxPayload(t *testing.T) {
	raw := maskedClientFrame(wscodec.OpcodeBinary, true, make([]byte, 100))
	_, err := wscodec.ReadFrame(bytes.NewReader(raw), 50)
	assert.ErrorIs(t, err, wscodec.ErrFrameTooLarge)
}

func TestWriteFrame_WritesUnmaskedServerFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wscodec.WriteFrame(&buf, wscodec.OpcodeBinary, true, []byte("payload")))
	assert.Equal(t, byte(0x82), buf.Bytes()[0])
	assert.False(t, buf.Bytes()[1]&0x80 != 0, "server frames must not be masked")
}

func TestEncodeDecodeCloseFrame(t *testing.T) {
	payload := wscodec.EncodeCloseFrame(wscodec.CloseNormal, "bye")
	code, reason, err := wscodec.DecodeClosePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, wscodec.CloseNormal, code)
	assert.Equal(t, "bye", reason)
}

func TestDecodeClosePayload_Empty(t *testing.T) {
	code, reason, err := wscodec.DecodeClosePayload(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Empty(t, reason)
}

func TestDecodeClosePayload_Truncated(t *testing.T) {
	_, _, err := wscodec.DecodeClosePayload([]byte{0x01})
	assert.Error(t, err)
}
