package toolfmt

import (
	"fmt"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Filter returns the tools whose name matches the glob pattern, such as "file_*" or
// "{read,write}_*". An empty pattern matches every tool.
func Filter(tools []mcp.ToolInfo, pattern string) ([]mcp.ToolInfo, error) {
	if pattern == "" {
		return tools, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid tool pattern %q: %w", pattern, err)
	}

	var matched []mcp.ToolInfo
	for _, tool := range tools {
		if g.Match(tool.Name) {
			matched = append(matched, tool)
		}
	}
	return matched, nil
}

// Diff compares two tool listings by their Compact rendering and returns the changed lines,
// prefixed with "- " for removed tools and "+ " for added ones. Unchanged tools are omitted.
func Diff(before, after []mcp.ToolInfo) []string {
	var enc lineEncoder
	a, b := enc.encode(before), enc.encode(after)

	var out []string
	for _, d := range diffmatchpatch.New().DiffMainRunes(a, b, false) {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		default:
			continue
		}
		for _, r := range d.Text {
			out = append(out, prefix+enc.lines[r-1])
		}
	}
	return out
}

// lineEncoder maps each distinct Compact line to one rune, so the diff runs over whole lines.
type lineEncoder struct {
	lines []string
	index map[string]rune
}

func (e *lineEncoder) encode(tools []mcp.ToolInfo) []rune {
	if e.index == nil {
		e.index = make(map[string]rune)
	}
	runes := make([]rune, len(tools))
	for i, tool := range tools {
		line := Compact(tool)
		r, ok := e.index[line]
		if !ok {
			e.lines = append(e.lines, line)
			r = rune(len(e.lines))
			e.index[line] = r
		}
		runes[i] = r
	}
	return runes
}
