package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is an MCP client speaking JSON-RPC over Server-Sent Events. It keeps at most one live
// connection attempt, drives the handshake and tool discovery on its own, and reports everything
// it observes as Events.
//
// All request methods are fire-and-forget: they return immediately and their outcome arrives on
// the event channel. Call is the exception, for callers that want to wait for a specific reply.
//
// A Client must be created using NewClient(). It should be closed with Close() when it's no
// longer needed.
type Client struct {
	httpClient       *http.Client
	logger           *slog.Logger
	clock            clockwork.Clock
	registerer       prometheus.Registerer
	info             Info
	eventBuffer      int
	eventSendTimeout time.Duration
	maxResultLines   int
	handshakeDelay   time.Duration
	maxEventSize     int

	events  chan Event
	metrics *metrics
	tasks   *conc.WaitGroup

	// connectMu serializes Connect, Disconnect and Close.
	connectMu sync.Mutex

	mu     sync.Mutex
	conn   *connection
	tools  []ToolInfo
	closed bool
}

var (
	defaultClientEventBuffer      = 1024
	defaultClientEventSendTimeout = 250 * time.Millisecond
	defaultClientHandshakeDelay   = 100 * time.Millisecond

	defaultClientInfo = Info{
		Name:    "go-mcp-sse",
		Version: "0.1.0",
	}
)

// WithHTTPClient sets the HTTP client used for the event stream and for posting requests.
// The client must not set an overall timeout, as the stream stays open indefinitely.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(size int) ClientOption {
	return func(c *Client) {
		c.eventBuffer = size
	}
}

// WithEventSendTimeout sets how long the client waits for room in a full event channel before
// the event is dropped.
func WithEventSendTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.eventSendTimeout = timeout
	}
}

// WithMaxResultLines sets how many lines of a single result are emitted before it's truncated.
func WithMaxResultLines(lines int) ClientOption {
	return func(c *Client) {
		c.maxResultLines = lines
	}
}

// WithHandshakeDelay sets the pause before the initialize request and before the automatic tool
// listing, giving the server time to register the session.
func WithHandshakeDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.handshakeDelay = delay
	}
}

// WithClock sets the clock used for the handshake delays.
func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithMaxEventSize sets the maximum size of a single SSE frame.
func WithMaxEventSize(size int) ClientOption {
	return func(c *Client) {
		c.maxEventSize = size
	}
}

// WithClientInfo sets the implementation info sent in the initialize request.
func WithClientInfo(info Info) ClientOption {
	return func(c *Client) {
		c.info = info
	}
}

// WithMetricsRegisterer registers the client's metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) ClientOption {
	return func(c *Client) {
		c.registerer = reg
	}
}

// NewClient creates a new Model Context Protocol (MCP) client with the specified options.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient:       &http.Client{},
		logger:           slog.Default(),
		clock:            clockwork.NewRealClock(),
		info:             defaultClientInfo,
		eventBuffer:      defaultClientEventBuffer,
		eventSendTimeout: defaultClientEventSendTimeout,
		maxResultLines:   DefaultMaxResultLines,
		handshakeDelay:   defaultClientHandshakeDelay,
		maxEventSize:     DefaultMaxEventSize,
		tasks:            conc.NewWaitGroup(),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.eventBuffer < 1 {
		c.eventBuffer = 1
	}
	c.events = make(chan Event, c.eventBuffer)
	c.metrics = newMetrics(c.registerer)

	return c
}

// Connect starts a connection attempt to the SSE stream at url, displayed as name. It returns
// immediately; progress is reported through events. Any previous attempt is shut down and waited
// for first, so at most one receive loop is ever alive. ctx bounds the lifetime of the attempt.
//
// Failures are not retried; call Connect again to retry.
func (c *Client) Connect(ctx context.Context, url, name string) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	closed, prev := c.closed, c.conn
	c.mu.Unlock()

	if closed {
		c.emit(errorEvent(fmt.Sprintf("Cannot connect to %s: %v", name, ErrClientClosed)))
		return
	}
	if prev != nil {
		prev.stop()
	}

	cn := newConnection(ctx, url, name, connConfig{
		httpClient:     c.httpClient,
		logger:         c.logger,
		metrics:        c.metrics,
		clock:          c.clock,
		handshakeDelay: c.handshakeDelay,
		maxEventSize:   c.maxEventSize,
		maxResultLines: c.maxResultLines,
		clientInfo:     c.info,
		emit:           c.emit,
		onTools:        c.setTools,
	})

	c.mu.Lock()
	c.conn = cn
	c.tools = nil
	c.mu.Unlock()

	cn.start()
}

// ListTools requests the server's tool list. The result arrives as a ToolsListed event.
func (c *Client) ListTools() {
	c.request(MethodToolsList, nil)
}

// CallTool invokes the named tool with arguments, which must be a JSON object. Nil or empty
// arguments are sent as an empty object. The result arrives as Message events.
func (c *Client) CallTool(name string, arguments json.RawMessage) {
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}
	if !json.Valid(arguments) {
		c.emit(errorEvent(fmt.Sprintf("Invalid arguments for tool %s: not valid JSON", name)))
		return
	}

	c.request(MethodToolsCall, callToolParams{
		Name:      name,
		Arguments: arguments,
	})
}

// Call sends a request and waits for its reply. Events derived from the reply are still emitted.
// A JSON-RPC error reply is returned along with the message as a *JSONRPCError.
func (c *Client) Call(ctx context.Context, method string, params any) (JSONRPCMessage, error) {
	c.mu.Lock()
	cn, err := c.liveConnLocked()
	c.mu.Unlock()
	if err != nil {
		return JSONRPCMessage{}, err
	}

	id, reply, err := cn.dispatch.send(ctx, method, params, true)
	if err != nil {
		cn.pending.forget(id)
		return JSONRPCMessage{}, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case msg := <-reply:
		if msg.Error != nil {
			return msg, msg.Error
		}
		return msg, nil
	case <-ctx.Done():
		cn.pending.forget(id)
		return JSONRPCMessage{}, ctx.Err()
	case <-cn.ctx.Done():
		cn.pending.forget(id)
		return JSONRPCMessage{}, ErrNotConnected
	}
}

// Events returns the channel events are published on. The channel is never closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

// TryRecv returns the next event without blocking. It reports false if no event is queued.
func (c *Client) TryRecv() (Event, bool) {
	select {
	case ev := <-c.events:
		return ev, true
	default:
		return Event{}, false
	}
}

// State returns the state of the current connection attempt, or StateIdle if there is none.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return StateIdle
	}
	return c.conn.getState()
}

// Endpoint returns the session endpoint announced on the current connection, if any.
func (c *Client) Endpoint() (string, bool) {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn == nil {
		return "", false
	}
	return cn.session.get()
}

// Tools returns the tools most recently listed on the current connection.
func (c *Client) Tools() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	tools := make([]ToolInfo, len(c.tools))
	copy(tools, c.tools)
	return tools
}

// Disconnect shuts down the current connection attempt and waits for it to finish.
func (c *Client) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn != nil {
		cn.stop()
	}
}

// Close disconnects and waits for in-flight requests. Requests made after Close report
// ErrClientClosed.
func (c *Client) Close() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	c.closed = true
	cn := c.conn
	c.mu.Unlock()

	if cn != nil {
		cn.stop()
	}
	c.tasks.Wait()

	return nil
}

func (c *Client) request(method string, params any) {
	c.mu.Lock()
	cn, err := c.liveConnLocked()
	if err == nil {
		c.tasks.Go(func() {
			if _, _, err := cn.dispatch.send(cn.ctx, method, params, true); err != nil {
				c.logger.Warn("request failed", slog.String("method", method), slog.String("err", err.Error()))
			}
		})
	}
	c.mu.Unlock()

	if err != nil {
		c.emit(errorEvent(fmt.Sprintf("Cannot send %s: %v", method, err)))
	}
}

func (c *Client) liveConnLocked() (*connection, error) {
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn == nil || c.conn.getState() == StateTerminated {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) setTools(tools []ToolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tools = append([]ToolInfo(nil), tools...)
}

// emit publishes ev without blocking protocol processing for long: if the channel stays full
// for the send timeout, ev is dropped.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(c.eventSendTimeout)
	defer timer.Stop()

	select {
	case c.events <- ev:
	case <-timer.C:
		c.metrics.droppedEvents.Inc()
		c.logger.Warn("event channel full, dropping event", slog.String("kind", ev.Kind.String()))
	}
}
