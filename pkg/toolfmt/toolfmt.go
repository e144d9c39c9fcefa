// Package toolfmt renders tool descriptions for terminals and converts positional command-line
// arguments into the JSON arguments a tool expects.
package toolfmt

import (
	"encoding/json"
	"fmt"
	"strings"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
)

const (
	// DescriptionWidth is the column parameter descriptions are wrapped at.
	DescriptionWidth = 72
	// DescriptionIndent is the indentation of wrapped parameter descriptions.
	DescriptionIndent = 4

	bannerWidth = 80
)

// Compact returns a one-line summary such as "search: (query: string, [limit]: integer)".
// Optional parameters are bracketed; parameters are listed by name.
func Compact(tool mcp.ToolInfo) string {
	s, ok := parseSchema(tool.InputSchema)
	if !ok || len(s.Properties) == 0 {
		return tool.Name + ": ()"
	}

	names := s.sortedNames()
	parts := make([]string, len(names))
	for i, name := range names {
		typ := s.Properties[name].typeName("any")
		if s.isRequired(name) {
			parts[i] = fmt.Sprintf("%s: %s", name, typ)
		} else {
			parts[i] = fmt.Sprintf("[%s]: %s", name, typ)
		}
	}
	return fmt.Sprintf("%s: (%s)", tool.Name, strings.Join(parts, ", "))
}

// Detailed returns a multi-line description of tool: its description, every parameter with
// type, requirement, description and constraints, and a usage line.
func Detailed(tool mcp.ToolInfo) []string {
	banner := strings.Repeat("═", bannerWidth)

	lines := []string{
		banner,
		"Tool: " + tool.Name,
		banner,
		"",
		"Description:",
		"  " + tool.Description,
		"",
	}
	lines = append(lines, parameterLines(tool)...)
	lines = append(lines,
		"",
		"Usage:",
		"  "+UsageHint(tool.Name, tool.InputSchema),
		"",
		banner,
	)
	return lines
}

func parameterLines(tool mcp.ToolInfo) []string {
	lines := []string{"Parameters:"}

	s, ok := parseSchema(tool.InputSchema)
	if !ok || len(s.Properties) == 0 {
		return append(lines, "  (no parameters)")
	}

	for _, name := range s.sortedNames() {
		prop := s.Properties[name]
		requirement := "optional"
		if s.isRequired(name) {
			requirement = "required"
		}
		description := prop.Description
		if description == "" {
			description = "(no description)"
		}

		lines = append(lines, "", fmt.Sprintf("  • %s (%s, %s)", name, prop.typeName("any"), requirement))
		lines = append(lines, Wrap(description, DescriptionWidth, DescriptionIndent)...)

		var values []string
		for _, v := range prop.Enum {
			if str, ok := v.(string); ok {
				values = append(values, "'"+str+"'")
			}
		}
		if len(values) > 0 {
			lines = append(lines, "    Allowed values: "+strings.Join(values, ", "))
		}
		if len(prop.Default) > 0 {
			lines = append(lines, "    Default: "+string(prop.Default))
		}
		if n, ok := integer(prop.Minimum); ok {
			lines = append(lines, fmt.Sprintf("    Minimum: %d", n))
		}
		if n, ok := integer(prop.Maximum); ok {
			lines = append(lines, fmt.Sprintf("    Maximum: %d", n))
		}
	}

	return lines
}

// UsageHint returns the argument synopsis of a tool, such as "search <query:string>
// [limit:integer]". Required parameters come first in schema order, optional ones follow by name.
func UsageHint(name string, schema json.RawMessage) string {
	s, ok := parseSchema(schema)
	if !ok || len(s.Properties) == 0 {
		return name
	}
	return name + " " + usageFrom(s.params())
}

// Wrap splits text into lines of at most width columns, each prefixed with indent spaces.
// Words longer than the available width are kept whole on their own line.
func Wrap(text string, width, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	available := max(width-indent, 1)

	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(text) {
		switch {
		case current.Len() == 0:
			current.WriteString(word)
		case current.Len()+1+len(word) <= available:
			current.WriteByte(' ')
			current.WriteString(word)
		default:
			lines = append(lines, prefix+current.String())
			current.Reset()
			current.WriteString(word)
		}
	}
	if current.Len() > 0 {
		lines = append(lines, prefix+current.String())
	}
	return lines
}

func integer(n *json.Number) (int64, bool) {
	if n == nil {
		return 0, false
	}
	v, err := n.Int64()
	return v, err == nil
}
