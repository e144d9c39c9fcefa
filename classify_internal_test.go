package mcp

import (
	"context"
	"testing"

	"github.com/valyala/fastjson"
)

type classifyRecorder struct {
	events []Event
	tools  [][]ToolInfo
}

func newTestClassifier(rec *classifyRecorder, pending *pendingTable) *classifier {
	return &classifier{
		pending: pending,
		format:  newFormatter(DefaultMaxResultLines, discardLogger()),
		emit:    func(ev Event) { rec.events = append(rec.events, ev) },
		logger:  discardLogger(),
		onTools: func(tools []ToolInfo) { rec.tools = append(rec.tools, tools) },
	}
}

func classifyJSON(t *testing.T, c *classifier, payload string) {
	t.Helper()

	var p fastjson.Parser
	v, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("invalid test payload: %v", err)
	}
	c.classify(context.Background(), v)
}

func texts(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind.String() + ": " + ev.Text
	}
	return out
}

func TestClassifyToolsSkipsMalformedEntries(t *testing.T) {
	rec := &classifyRecorder{}
	pending := newPendingTable(nil)
	reply := pending.register(3)
	c := newTestClassifier(rec, pending)

	classifyJSON(t, c, `{"jsonrpc":"2.0","id":3,"result":{"tools":[
		{"name":"echo","description":"Echoes","inputSchema":{"type":"object"}},
		{"name":"nodesc","inputSchema":{"type":"object"}},
		{"description":"no name","inputSchema":{}},
		{"name":"noschema","description":"missing schema"},
		"not an object"
	]}}`)

	if len(rec.events) != 1 || rec.events[0].Kind != EventToolsListed {
		t.Fatalf("expected a single tools listed event, got %v", texts(rec.events))
	}
	tools := rec.events[0].Tools
	if len(tools) != 1 || tools[0].Name != "echo" || tools[0].Description != "Echoes" ||
		string(tools[0].InputSchema) != `{"type":"object"}` {
		t.Errorf("unexpected tools %+v", tools)
	}
	if len(rec.tools) != 1 {
		t.Errorf("expected the tool hook to run once, got %d", len(rec.tools))
	}

	select {
	case msg := <-reply:
		if msg.ID == nil || *msg.ID != 3 {
			t.Errorf("unexpected correlated reply %+v", msg)
		}
	default:
		t.Error("expected the pending entry to be resolved")
	}
}

func TestClassifyToolsWithoutValidEntriesFallsThrough(t *testing.T) {
	rec := &classifyRecorder{}
	c := newTestClassifier(rec, newPendingTable(nil))

	classifyJSON(t, c, `{"jsonrpc":"2.0","id":4,"result":{"tools":[{"name":"x"}]}}`)

	if len(rec.tools) != 0 {
		t.Error("expected no tools")
	}
	if len(rec.events) == 0 || rec.events[0].Kind != EventMessage || rec.events[0].Text != "{" {
		t.Errorf("expected the result to be printed, got %v", texts(rec.events))
	}
}

func TestClassifyContent(t *testing.T) {
	rec := &classifyRecorder{}
	c := newTestClassifier(rec, newPendingTable(nil))

	classifyJSON(t, c, `{"jsonrpc":"2.0","id":5,"result":{"content":[
		{"type":"text","text":"plain\nlines"},
		{"type":"text","text":"{\"k\":[1]}"},
		{"type":"image","data":"AAAA","mimeType":"image/png"}
	]}}`)

	want := []string{
		"message: plain",
		"message: lines",
		"message: {",
		`message:   "k": [`,
		"message:     1",
		"message:   ]",
		"message: }",
		"message: [image content omitted]",
	}
	got := texts(rec.events)
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestClassifyToolError(t *testing.T) {
	rec := &classifyRecorder{}
	c := newTestClassifier(rec, newPendingTable(nil))

	classifyJSON(t, c, `{"jsonrpc":"2.0","id":6,"result":{"isError":true,"content":[{"type":"text","text":"boom"}]}}`)

	got := texts(rec.events)
	if len(got) != 2 || got[0] != "error: Tool reported an error" || got[1] != "message: boom" {
		t.Errorf("unexpected events %q", got)
	}
}

func TestClassifyRPCError(t *testing.T) {
	rec := &classifyRecorder{}
	pending := newPendingTable(nil)
	reply := pending.register(7)
	c := newTestClassifier(rec, pending)

	classifyJSON(t, c, `{"jsonrpc":"2.0","id":"7","error":{"code":-32601,"message":"method not found"}}`)

	if len(rec.events) < 2 {
		t.Fatalf("expected an error and its body, got %v", texts(rec.events))
	}
	if rec.events[0].Kind != EventError || rec.events[0].Text != "RPC error -32601: method not found" {
		t.Errorf("unexpected first event %v", rec.events[0])
	}
	for _, ev := range rec.events[1:] {
		if ev.Kind != EventMessage {
			t.Errorf("expected body lines as messages, got %v", ev)
		}
	}

	select {
	case msg := <-reply:
		if msg.Error == nil || msg.Error.Code != -32601 {
			t.Errorf("unexpected correlated reply %+v", msg)
		}
	default:
		t.Error("expected the string id to resolve the pending entry")
	}
}

func TestClassifyNotifications(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "tools list changed",
			payload: `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`,
			want:    "message: Server tool list changed, list tools again to refresh",
		},
		{
			name:    "log message string",
			payload: `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"error","data":"bad"}}`,
			want:    "message: [error] bad",
		},
		{
			name:    "log message object",
			payload: `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":{"a":1}}}`,
			want:    `message: [info] {"a":1}`,
		},
		{
			name:    "other",
			payload: `{"jsonrpc":"2.0","method":"notifications/resources/updated","params":{"uri":"x"}}`,
			want:    "message: Notification: notifications/resources/updated",
		},
		{
			name:    "server request",
			payload: `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			want:    "debug: Ignoring server request ping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &classifyRecorder{}
			c := newTestClassifier(rec, newPendingTable(nil))

			classifyJSON(t, c, tt.payload)

			got := texts(rec.events)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClassifyDropsUnrecognizedPayloads(t *testing.T) {
	for _, payload := range []string{`{}`, `{"jsonrpc":"2.0"}`, `[1,2]`, `"text"`, `{"id":null}`, `{"id":9}`} {
		rec := &classifyRecorder{}
		c := newTestClassifier(rec, newPendingTable(nil))

		classifyJSON(t, c, payload)

		if len(rec.events) != 0 {
			t.Errorf("%s: expected no events, got %v", payload, texts(rec.events))
		}
	}
}

func TestEndpointFrom(t *testing.T) {
	tests := []struct {
		frame Frame
		want  string
		ok    bool
	}{
		{frame: Frame{Type: "endpoint", Data: "/messages?sessionID=1"}, want: "/messages?sessionID=1", ok: true},
		{frame: Frame{Type: "endpoint", Data: "  "}, ok: false},
		{frame: Frame{Data: "endpoint: /m"}, want: "/m", ok: true},
		{frame: Frame{Type: "message", Data: "endpoint=/m"}, want: "/m", ok: true},
		{frame: Frame{Type: "message", Data: `{"jsonrpc":"2.0"}`}, ok: false},
		{frame: Frame{Data: "endpoint"}, ok: false},
		{frame: Frame{Data: "endpoint\t/m"}, want: "/m", ok: true},
		{frame: Frame{Type: "message", Data: "endpoints are being rotated"}, ok: false},
		{frame: Frame{Data: "endpoint_v2: /m"}, ok: false},
	}

	for _, tt := range tests {
		got, ok := endpointFrom(tt.frame)
		if ok != tt.ok || got != tt.want {
			t.Errorf("endpointFrom(%+v) = %q, %v; want %q, %v", tt.frame, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsResponseTo(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{payload: `{"id":1,"result":{}}`, want: true},
		{payload: `{"id":"1","result":{}}`, want: true},
		{payload: `{"id":2,"result":{}}`, want: false},
		{payload: `{"id":1,"method":"ping"}`, want: false},
		{payload: `{"method":"notifications/message"}`, want: false},
		{payload: `[1]`, want: false},
	}

	for _, tt := range tests {
		var p fastjson.Parser
		v, err := p.Parse(tt.payload)
		if err != nil {
			t.Fatalf("invalid payload %s: %v", tt.payload, err)
		}
		if got := isResponseTo(v, 1); got != tt.want {
			t.Errorf("isResponseTo(%s) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}
