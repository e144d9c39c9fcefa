package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/valyala/fastjson"
)

// classifier turns decoded JSON-RPC objects from the stream into public events.
type classifier struct {
	pending *pendingTable
	format  formatter
	emit    func(Event)
	logger  *slog.Logger

	// onTools is called with every successfully parsed tool list.
	onTools func([]ToolInfo)
}

// classify interprets v as a response, a notification or an unrecognized payload. Values that
// are not objects, or objects matching no known shape, are dropped.
func (c *classifier) classify(ctx context.Context, v *fastjson.Value) {
	if v.Type() != fastjson.TypeObject {
		c.logger.Debug("dropping non-object payload", slog.String("type", v.Type().String()))
		return
	}

	hasID := v.Exists("id") && v.Get("id").Type() != fastjson.TypeNull
	method := string(v.GetStringBytes("method"))

	switch {
	case hasID && method != "":
		// Server-initiated requests such as ping or sampling are not supported by this client.
		c.emit(debugEvent(fmt.Sprintf("Ignoring server request %s", method)))
	case hasID:
		c.classifyResponse(ctx, v)
	case method != "":
		c.classifyNotification(v, method)
	default:
		c.logger.Debug("dropping unrecognized payload")
	}
}

func (c *classifier) classifyResponse(ctx context.Context, v *fastjson.Value) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(v.MarshalTo(nil), &msg); err != nil {
		c.logger.Warn("failed to decode response", slog.String("err", err.Error()))
	} else if msg.ID != nil {
		c.pending.resolve(*msg.ID, msg)
	}

	if result := v.Get("result"); result != nil {
		c.classifyResult(ctx, result)
		return
	}

	if errv := v.Get("error"); errv != nil {
		c.emit(errorEvent(fmt.Sprintf("RPC error %d: %s", errv.GetInt("code"), errv.GetStringBytes("message"))))
		c.emitChunk(c.format.formatJSON(ctx, errv.MarshalTo(nil)))
		return
	}

	c.logger.Debug("dropping response without result or error")
}

func (c *classifier) classifyResult(ctx context.Context, result *fastjson.Value) {
	if tools := result.GetArray("tools"); tools != nil {
		if parsed := parseTools(tools); len(parsed) > 0 {
			if c.onTools != nil {
				c.onTools(parsed)
			}
			c.emit(toolsListedEvent(parsed))
			return
		}
	}

	if content := result.GetArray("content"); content != nil {
		if result.GetBool("isError") {
			c.emit(errorEvent("Tool reported an error"))
		}
		for _, item := range content {
			c.classifyContent(ctx, item)
		}
		return
	}

	c.emitChunk(c.format.formatJSON(ctx, result.MarshalTo(nil)))
}

func (c *classifier) classifyContent(ctx context.Context, item *fastjson.Value) {
	text := item.Get("text")
	if text == nil || text.Type() != fastjson.TypeString {
		typ := string(item.GetStringBytes("type"))
		if typ == "" {
			typ = "unknown"
		}
		c.emit(messageEvent(fmt.Sprintf("[%s content omitted]", typ)))
		return
	}

	// Copy out of the parser's memory, the formatter may outlive the next parse.
	raw := string(text.GetStringBytes())
	if fastjson.Validate(raw) == nil {
		c.emitChunk(c.format.formatJSON(ctx, []byte(raw)))
		return
	}
	c.emitChunk(c.format.formatText(raw))
}

func (c *classifier) classifyNotification(v *fastjson.Value, method string) {
	switch method {
	case methodNotificationsToolsListChanged:
		c.emit(messageEvent(ToolsChangedMessage))
	case methodNotificationsMessage:
		params := v.Get("params")
		if params == nil {
			c.emit(messageEvent("Notification: " + method))
			return
		}
		var p logMessageParams
		if err := json.Unmarshal(params.MarshalTo(nil), &p); err != nil {
			c.logger.Warn("failed to decode log message", slog.String("err", err.Error()))
			c.emit(messageEvent("Notification: " + method))
			return
		}
		if p.Level == "" {
			p.Level = "info"
		}
		c.emit(messageEvent(fmt.Sprintf("[%s] %s", p.Level, notificationData(p.Data))))
	default:
		c.emit(messageEvent("Notification: " + method))
	}
}

func notificationData(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

// emitChunk emits every line of c as a Message event, followed by the truncation notice if any.
func (c *classifier) emitChunk(chunk Chunk) {
	for _, line := range chunk.Lines {
		c.emit(messageEvent(line))
	}
	if notice := chunk.Notice(); notice != "" {
		c.emit(messageEvent(notice))
	}
}

// parseTools converts the elements of a tools/list result. Elements missing a name, a
// description or an input schema are skipped.
func parseTools(elems []*fastjson.Value) []ToolInfo {
	tools := make([]ToolInfo, 0, len(elems))
	for _, el := range elems {
		name := el.Get("name")
		desc := el.Get("description")
		schema := el.Get("inputSchema")
		if name == nil || desc == nil || schema == nil {
			continue
		}
		if name.Type() != fastjson.TypeString || desc.Type() != fastjson.TypeString {
			continue
		}
		tools = append(tools, ToolInfo{
			Name:        string(name.GetStringBytes()),
			Description: string(desc.GetStringBytes()),
			InputSchema: json.RawMessage(schema.MarshalTo(nil)),
		})
	}
	return tools
}
