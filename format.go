package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/panics"
)

// DefaultMaxResultLines is the number of lines of a single result kept for display.
const DefaultMaxResultLines = 200

// Chunk is text split into lines and bounded to a maximum line count.
type Chunk struct {
	// Lines holds at most the configured maximum number of lines.
	Lines []string
	// Total is the line count before truncation.
	Total int
	// Truncated is set when lines were dropped.
	Truncated bool
}

// formatter pretty-prints JSON payloads on a worker goroutine so that a large payload cannot
// stall the goroutine reading the stream.
type formatter struct {
	maxLines int
	logger   *slog.Logger

	// indent produces the pretty form; a panic or error falls back to the compact form.
	indent func(raw []byte) (string, error)
}

// Notice returns a human readable truncation notice, or "" if nothing was dropped.
func (c Chunk) Notice() string {
	if !c.Truncated {
		return ""
	}
	return fmt.Sprintf("… truncated: showing %d of %d lines", len(c.Lines), c.Total)
}

// ChunkLines splits text on line boundaries and keeps at most maxLines lines. A maxLines of
// zero or less keeps everything.
func ChunkLines(text string, maxLines int) Chunk {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := strings.Split(text, "\n")

	c := Chunk{Lines: lines, Total: len(lines)}
	if maxLines > 0 && len(lines) > maxLines {
		c.Lines = lines[:maxLines:maxLines]
		c.Truncated = true
	}
	return c
}

func newFormatter(maxLines int, logger *slog.Logger) formatter {
	return formatter{
		maxLines: maxLines,
		logger:   logger,
		indent:   indentJSON,
	}
}

// formatJSON pretty-prints raw and chunks the result. raw must not be modified afterwards.
func (f formatter) formatJSON(ctx context.Context, raw []byte) Chunk {
	return ChunkLines(f.pretty(ctx, raw), f.maxLines)
}

func (f formatter) formatText(text string) Chunk {
	return ChunkLines(text, f.maxLines)
}

func (f formatter) pretty(ctx context.Context, raw []byte) string {
	results := make(chan string, 1)

	go func() {
		var out string
		var err error

		var pc panics.Catcher
		pc.Try(func() {
			out, err = f.indent(raw)
		})
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		if err != nil {
			f.logger.Warn("failed to pretty-print result, using compact form", slog.String("err", err.Error()))
			out = compactJSON(raw)
		}
		results <- out
	}()

	select {
	case out := <-results:
		return out
	case <-ctx.Done():
		return compactJSON(raw)
	}
}

func indentJSON(raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("failed to indent JSON: %w", err)
	}
	return buf.String(), nil
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
