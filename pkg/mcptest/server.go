// Package mcptest provides an in-process MCP server speaking the HTTP+SSE transport, for testing
// clients end to end.
//
// The server announces a session endpoint on every stream, answers initialize, tools/list and
// tools/call over that stream, and records every message it receives so tests can assert on the
// order of client requests.
package mcptest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	mcp "github.com/MegaGrindStone/go-mcp-sse"
	"github.com/google/uuid"
	"github.com/qri-io/jsonschema"
	"github.com/tmaxmax/go-sse"
)

// Server is a scripted MCP server backed by an httptest.Server. Instances should be created
// using NewServer and shut down using Close.
type Server struct {
	httpServer    *httptest.Server
	info          mcp.Info
	endpointStyle EndpointStyle
	noEndpoint    bool
	logger        *slog.Logger

	tools    []Tool
	handlers map[string]Handler

	mu       sync.Mutex
	sessions map[string]*session
	received []mcp.JSONRPCMessage

	sessionStarted chan struct{}
	done           chan struct{}
	closeOnce      sync.Once
}

// Tool is a tool served by Server.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON schema of the tool arguments. Arguments are validated against it
	// before Call is invoked.
	Schema string
	// Call produces the text content of the result. A returned error is reported as a result
	// with isError set.
	Call func(args map[string]any) (string, error)

	compiled *jsonschema.Schema
}

// Handler answers a request. A non-nil error is sent as the JSON-RPC error of the response,
// otherwise result is encoded as its result.
type Handler func(params json.RawMessage) (result any, err *mcp.JSONRPCError)

// EndpointStyle selects how the session endpoint is announced.
type EndpointStyle int

// Endpoint styles.
const (
	// EndpointAbsolutePath announces "/message?sessionID=..." in an endpoint frame.
	EndpointAbsolutePath EndpointStyle = iota
	// EndpointRelative announces "message?sessionID=..." in an endpoint frame, resolved
	// against the stream path.
	EndpointRelative
	// EndpointAbsoluteURL announces the full message URL in an endpoint frame.
	EndpointAbsoluteURL
	// EndpointInPayload announces "endpoint: /message?sessionID=..." as the data of an untyped
	// frame.
	EndpointInPayload
)

// ServerOption configures a Server.
type ServerOption func(*Server)

type session struct {
	id     string
	mu     sync.Mutex
	sess   *sse.Session
	closed bool
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ErrNoSession is returned when pushing to a server without connected sessions.
var ErrNoSession = errors.New("no connected session")

// WithTools replaces the served tools. Tool schemas must be valid JSON schemas.
func WithTools(tools ...Tool) ServerOption {
	return func(s *Server) {
		s.tools = tools
	}
}

// WithHandler overrides the answer to method.
func WithHandler(method string, h Handler) ServerOption {
	return func(s *Server) {
		s.handlers[method] = h
	}
}

// WithEndpointStyle sets how the session endpoint is announced.
func WithEndpointStyle(style EndpointStyle) ServerOption {
	return func(s *Server) {
		s.endpointStyle = style
	}
}

// WithoutEndpoint makes the server close every stream without announcing an endpoint.
func WithoutEndpoint() ServerOption {
	return func(s *Server) {
		s.noEndpoint = true
	}
}

// WithServerInfo sets the info returned by initialize.
func WithServerInfo(info mcp.Info) ServerOption {
	return func(s *Server) {
		s.info = info
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer starts a server. The stream is served at URL(); messages are accepted at
// "/message" and at "/sse/message".
func NewServer(options ...ServerOption) *Server {
	s := &Server{
		info:           mcp.Info{Name: "mcptest", Version: "1.0.0"},
		logger:         slog.Default(),
		tools:          DefaultTools(),
		handlers:       make(map[string]Handler),
		sessions:       make(map[string]*session),
		sessionStarted: make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	for i := range s.tools {
		if s.tools[i].Schema == "" {
			s.tools[i].Schema = `{"type":"object"}`
		}
		s.tools[i].compiled = jsonschema.Must(s.tools[i].Schema)
	}

	mux := http.NewServeMux()
	mux.Handle("/sse", s.handleSSE())
	mux.Handle("/message", s.handleMessage())
	mux.Handle("/sse/message", s.handleMessage())
	s.httpServer = httptest.NewServer(mux)

	return s
}

// DefaultTools returns the echo and add tools.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:        "echo",
			Description: "Echoes back the input",
			Schema: `{
  "type": "object",
  "properties": {
    "message": { "type": "string" }
  },
  "required": ["message"]
}`,
			Call: func(args map[string]any) (string, error) {
				message, _ := args["message"].(string)
				return message, nil
			},
		},
		{
			Name:        "add",
			Description: "Adds two numbers",
			Schema: `{
  "type": "object",
  "properties": {
    "a": { "type": "number" },
    "b": { "type": "number" }
  },
  "required": ["a", "b"]
}`,
			Call: func(args map[string]any) (string, error) {
				a, _ := args["a"].(float64)
				b, _ := args["b"].(float64)
				return fmt.Sprintf("The sum of %v and %v is %v.", a, b, a+b), nil
			},
		},
	}
}

// URL returns the URL of the event stream.
func (s *Server) URL() string {
	return s.httpServer.URL + "/sse"
}

// BaseURL returns the root URL of the server.
func (s *Server) BaseURL() string {
	return s.httpServer.URL
}

// Close ends every stream and shuts the server down.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.httpServer.Close()
	})
}

// Received returns every message posted to the server, in arrival order.
func (s *Server) Received() []mcp.JSONRPCMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]mcp.JSONRPCMessage, len(s.received))
	copy(msgs, s.received)
	return msgs
}

// Methods returns the method of every message posted to the server, in arrival order.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	methods := make([]string, len(s.received))
	for i, msg := range s.received {
		methods[i] = msg.Method
	}
	return methods
}

// WaitSession blocks until a stream has announced its endpoint, or ctx is done.
func (s *Server) WaitSession(ctx context.Context) error {
	select {
	case <-s.sessionStarted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification to every connected session.
func (s *Server) Notify(method string, params any) error {
	msg := mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.Push("message", string(msgBs))
}

// Push sends a raw frame of the given event type to every connected session.
func (s *Server) Push(eventType, data string) error {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if len(sessions) == 0 {
		return ErrNoSession
	}

	var errs []error
	for _, sess := range sessions {
		if err := sess.send(eventType, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		if s.noEndpoint {
			_ = sess.Flush()
			return
		}

		srvSession := &session{
			id:   uuid.New().String(),
			sess: sess,
		}

		// Register before announcing, the client may post as soon as it reads the endpoint.
		s.mu.Lock()
		s.sessions[srvSession.id] = srvSession
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, srvSession.id)
			s.mu.Unlock()

			srvSession.mu.Lock()
			srvSession.closed = true
			srvSession.mu.Unlock()
		}()

		eventType, data := s.endpointFrame(srvSession.id)
		if err := srvSession.send(eventType, data); err != nil {
			s.logger.Error("failed to write endpoint", "err", err)
			return
		}

		select {
		case s.sessionStarted <- struct{}{}:
		default:
		}

		// Block until the client goes away or the server closes, so the stream is left open.
		select {
		case <-r.Context().Done():
		case <-s.done:
		}
	})
}

func (s *Server) handleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessID := r.URL.Query().Get("sessionID")
		s.mu.Lock()
		sess, ok := s.sessions[sessID]
		s.mu.Unlock()
		if !ok {
			nErr := fmt.Errorf("unknown session %q", sessID)
			s.logger.Warn("unknown session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusNotFound)
			return
		}

		var msg mcp.JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			nErr := fmt.Errorf("failed to decode message: %w", err)
			s.logger.Warn("failed to decode message", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		w.WriteHeader(http.StatusAccepted)

		// Notifications get no reply.
		if msg.ID == nil {
			return
		}

		resp := s.answer(r.Context(), msg)
		respBs, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to marshal response", "err", err)
			return
		}
		if err := sess.send("message", string(respBs)); err != nil {
			s.logger.Warn("failed to send response", slog.String("err", err.Error()))
		}
	})
}

func (s *Server) endpointFrame(sessID string) (eventType, data string) {
	path := "message?sessionID=" + sessID

	switch s.endpointStyle {
	case EndpointRelative:
		return "endpoint", path
	case EndpointAbsoluteURL:
		return "endpoint", s.httpServer.URL + "/" + path
	case EndpointInPayload:
		return "", "endpoint: /" + path
	default:
		return "endpoint", "/" + path
	}
}

func (s *Server) answer(ctx context.Context, msg mcp.JSONRPCMessage) mcp.JSONRPCMessage {
	resp := mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      msg.ID,
	}

	var result any
	var rpcErr *mcp.JSONRPCError

	if h, ok := s.handlers[msg.Method]; ok {
		result, rpcErr = h(msg.Params)
	} else {
		switch msg.Method {
		case mcp.MethodInitialize:
			result = map[string]any{
				"protocolVersion": mcp.ProtocolVersion,
				"capabilities": map[string]any{
					"tools": map[string]any{"listChanged": true},
				},
				"serverInfo": s.info,
			}
		case mcp.MethodToolsList:
			result = map[string]any{"tools": s.toolList()}
		case mcp.MethodToolsCall:
			result, rpcErr = s.callTool(ctx, msg.Params)
		default:
			rpcErr = &mcp.JSONRPCError{
				Code:    -32601,
				Message: fmt.Sprintf("method not found: %s", msg.Method),
			}
		}
	}

	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}

	resultBs, err := json.Marshal(result)
	if err != nil {
		resp.Error = &mcp.JSONRPCError{Code: -32603, Message: err.Error()}
		return resp
	}
	resp.Result = resultBs
	return resp
}

func (s *Server) toolList() []mcp.ToolInfo {
	tools := make([]mcp.ToolInfo, len(s.tools))
	for i, t := range s.tools {
		tools[i] = mcp.ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: json.RawMessage(t.Schema),
		}
	}
	return tools
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *mcp.JSONRPCError) {
	var p callParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &mcp.JSONRPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}

	for _, t := range s.tools {
		if t.Name != p.Name {
			continue
		}

		vs := t.compiled.Validate(ctx, p.Arguments)
		errs := *vs.Errs
		if len(errs) > 0 {
			var errStr []string
			for _, err := range errs {
				errStr = append(errStr, err.Message)
			}
			return nil, &mcp.JSONRPCError{
				Code:    -32602,
				Message: fmt.Sprintf("params validation failed: %s", strings.Join(errStr, ", ")),
			}
		}

		if t.Call == nil {
			return toolResult{Content: []content{}}, nil
		}
		text, err := t.Call(p.Arguments)
		if err != nil {
			return toolResult{Content: []content{{Type: "text", Text: err.Error()}}, IsError: true}, nil
		}
		return toolResult{Content: []content{{Type: "text", Text: text}}}, nil
	}

	return nil, &mcp.JSONRPCError{Code: -32602, Message: fmt.Sprintf("tool not found: %s", p.Name)}
}

func (s *session) send(eventType, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session %s is closed", s.id)
	}

	msg := &sse.Message{}
	if eventType != "" {
		msg.Type = sse.Type(eventType)
	}
	msg.AppendData(data)

	if err := s.sess.Send(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := s.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}
