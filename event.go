package mcp

import (
	"fmt"
	"strings"
)

// EventKind enumerates the kinds of Event a Client publishes.
type EventKind int

// Event kinds.
const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
	EventError
	EventDebug
	EventToolsListed
)

// ToolsChangedMessage is the text of the Message event published when the server announces
// that its tool list changed.
const ToolsChangedMessage = "Server tool list changed, list tools again to refresh"

// Event is a notification published on the client's event channel. It only carries owned values,
// never references into client state.
type Event struct {
	Kind EventKind
	// Text is set for Connected, Message, Error and Debug events.
	Text string
	// Tools is set for ToolsListed events.
	Tools []ToolInfo
}

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventDebug:
		return "debug"
	case EventToolsListed:
		return "tools_listed"
	default:
		return "unknown"
	}
}

func (e Event) String() string {
	switch e.Kind {
	case EventDisconnected:
		return "disconnected"
	case EventToolsListed:
		names := make([]string, len(e.Tools))
		for i, t := range e.Tools {
			names[i] = t.Name
		}
		return fmt.Sprintf("tools_listed: %s", strings.Join(names, ", "))
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Text)
	}
}

func connectedEvent(text string) Event { return Event{Kind: EventConnected, Text: text} }

func messageEvent(text string) Event { return Event{Kind: EventMessage, Text: text} }

func errorEvent(text string) Event { return Event{Kind: EventError, Text: text} }

func debugEvent(text string) Event { return Event{Kind: EventDebug, Text: text} }

func toolsListedEvent(tools []ToolInfo) Event { return Event{Kind: EventToolsListed, Tools: tools} }
