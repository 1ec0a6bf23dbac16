package sse_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagi-server/pagi/internal/sse"
)

func TestWriteEvent_MinimalDataOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteEvent(&buf, sse.Event{Data: "hi"}))
	assert.Equal(t, "data: hi\n\n", buf.String())
}

func TestWriteEvent_AllFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteEvent(&buf, sse.Event{Event: "tick", ID: "42", Retry: 3000, Data: "n=1"}))
	assert.Equal(t, "event: tick\nid: 42\nretry: 3000\ndata: n=1\n\n", buf.String())
}

func TestWriteEvent_MultiLineDataSplitsIntoMultipleDataFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteEvent(&buf, sse.Event{Data: "line1\nline2\nline3"}))
	assert.Equal(t, "data: line1\ndata: line2\ndata: line3\n\n", buf.String())
}

func TestWriteEvent_StructuredDataIsJSONEncoded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteEvent(&buf, sse.Event{Data: map[string]int{"n": 1}}))
	assert.Equal(t, "data: {\"n\":1}\n\n", buf.String())
}

func TestWriteEvent_TrailingNewlineInDataDropsSpuriousEmptyField(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteEvent(&buf, sse.Event{Data: "line1\n"}))
	assert.Equal(t, "data: line1\n\n", buf.String())
}

func TestWriteEvent_ZeroRetryOmitted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteEvent(&buf, sse.Event{Data: "x", Retry: 0}))
	assert.NotContains(t, buf.String(), "retry:")
}

func TestWriteComment_Heartbeat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteComment(&buf, "keep-alive"))
	assert.Equal(t, ": keep-alive\n\n", buf.String())
}

func TestHeaders_ContainsRequiredFields(t *testing.T) {
	headers := sse.Headers()
	found := map[string]string{}
	for _, h := range headers {
		found[h[0]] = h[1]
	}
	assert.Equal(t, "text/event-stream; charset=utf-8", found["Content-Type"])
	assert.Equal(t, "no-cache", found["Cache-Control"])
	assert.Equal(t, "keep-alive", found["Connection"])
}
