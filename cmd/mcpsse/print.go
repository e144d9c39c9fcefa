package main

import (
	"fmt"
	"io"
	"strings"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
	"github.com/MegaGrindStone/go-mcp-sse/pkg/logger"
	"github.com/charmbracelet/lipgloss"
)

var (
	green  = lipgloss.Color("#52B788")
	red    = lipgloss.Color("#EF476F")
	yellow = lipgloss.Color("#FFD166")
	feint  = lipgloss.Color("#888888")

	boldStyle    = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(green)
	noticeStyle  = lipgloss.NewStyle().Foreground(yellow)
	feintStyle   = lipgloss.NewStyle().Foreground(feint)
)

// printer writes command output, styled only when w is a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) printer {
	return printer{w: w, styled: logger.IsTerminal(w)}
}

func (p printer) line(style lipgloss.Style, text string) {
	if p.styled {
		text = style.Render(text)
	}
	fmt.Fprintln(p.w, text)
}

func (p printer) plain(text string) {
	fmt.Fprintln(p.w, text)
}

// event prints every event kind except ToolsListed, which callers render themselves.
func (p printer) event(ev mcp.Event) {
	switch ev.Kind {
	case mcp.EventConnected:
		p.line(successStyle, "● "+ev.Text)
	case mcp.EventDisconnected:
		p.line(feintStyle, "○ Disconnected")
	case mcp.EventError:
		p.line(errorStyle, "error: "+ev.Text)
	case mcp.EventDebug:
		p.line(feintStyle, "debug: "+ev.Text)
	case mcp.EventMessage:
		if strings.HasPrefix(ev.Text, "… truncated") {
			p.line(noticeStyle, ev.Text)
			return
		}
		p.plain(ev.Text)
	}
}

// diff prints the lines of a tool list diff, removals red and additions green.
func (p printer) diff(lines []string) {
	for _, l := range lines {
		if strings.HasPrefix(l, "- ") {
			p.line(errorStyle, l)
		} else {
			p.line(successStyle, l)
		}
	}
}
