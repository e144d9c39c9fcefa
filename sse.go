package mcp

import (
	"io"
	"iter"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// DefaultMaxEventSize bounds the size of a single SSE frame. Tool results can be large, so the
// default is well above go-sse's own 64KB.
const DefaultMaxEventSize = 16 << 20

// Frame is one SSE event read from the stream.
type Frame struct {
	// Type is the value of the frame's event field, empty if the frame had none.
	Type string
	// Data holds the frame's data lines joined with "\n".
	Data string
}

// ReadFrames parses an SSE stream and yields its frames in arrival order. Frames are delimited by
// a blank line, bytes may arrive split at arbitrary points, and lines that are neither fields
// nor comments are ignored. Frames with an empty payload are skipped. Iteration stops after the
// first read error, which is yielded; a clean end of stream yields no error.
//
// A maxEventSize of zero or less uses go-sse's default limit.
func ReadFrames(r io.Reader, maxEventSize int) iter.Seq2[Frame, error] {
	var config *sse.ReadConfig
	if maxEventSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: maxEventSize,
		}
	}

	return func(yield func(Frame, error) bool) {
		for ev, err := range sse.Read(r, config) {
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if ev.Data == "" {
				continue
			}
			if !yield(Frame{Type: strings.TrimSpace(ev.Type), Data: ev.Data}, nil) {
				return
			}
		}
	}
}

// endpointFrom extracts the session endpoint from an endpoint-typed frame. Frames of another
// type are accepted too when their payload is the word "endpoint" followed by a separator and
// the endpoint, as some servers announce it that way.
func endpointFrom(f Frame) (string, bool) {
	if f.Type == sseEventEndpoint {
		endpoint := strings.TrimSpace(f.Data)
		return endpoint, endpoint != ""
	}

	rest, ok := strings.CutPrefix(strings.TrimSpace(f.Data), sseEventEndpoint)
	if !ok || rest == "" || !strings.ContainsRune(":= \t", rune(rest[0])) {
		return "", false
	}
	endpoint := strings.TrimSpace(strings.TrimLeft(rest, ":= \t"))
	return endpoint, endpoint != ""
}
