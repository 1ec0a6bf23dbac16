// Package sse implements the Server-Sent Events serializer of spec §4.3:
// event/id/retry/data field formatting, multi-line data splitting, and
// heartbeat comments.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Event mirrors the application-level `{event?, id?, retry?, data}` record
// of spec §4.3/§6.1.
type Event struct {
	Event string
	ID    string
	Retry int // 0 means absent
	Data  any // string or a structured value, JSON-encoded if not a string
}

// Headers returns the fixed SSE response headers spec §4.3 requires.
func Headers() [][2]string {
	return [][2]string{
		{"Content-Type", "text/event-stream; charset=utf-8"},
		{"Cache-Control", "no-cache"},
		{"Connection", "keep-alive"},
	}
}

// WriteEvent serializes one Event and terminates it with a blank line.
func WriteEvent(w io.Writer, e Event) error {
	if e.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Event); err != nil {
			return err
		}
	}
	if e.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", e.ID); err != nil {
			return err
		}
	}
	if e.Retry != 0 {
		if _, err := fmt.Fprintf(w, "retry: %s\n", strconv.Itoa(e.Retry)); err != nil {
			return err
		}
	}

	dataStr, err := stringifyData(e.Data)
	if err != nil {
		return err
	}
	// A trailing newline in Data must not produce a spurious empty
	// data field; the blank line that ends the event already separates it.
	dataStr = strings.TrimSuffix(dataStr, "\n")
	for _, line := range strings.Split(dataStr, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err = io.WriteString(w, "\n")
	return err
}

// WriteComment emits an SSE comment line, used for heartbeats
// (": keep-alive\n\n").
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

func stringifyData(data any) (string, error) {
	if s, ok := data.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("sse: failed to encode structured data: %w", err)
	}
	return string(b), nil
}
