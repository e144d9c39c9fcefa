package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"github.com/valyala/fastjson"
)

// ConnState is the phase of a connection attempt.
type ConnState int32

// Connection states, in lifecycle order.
const (
	StateIdle ConnState = iota
	StateConnecting
	StateAwaitingEndpoint
	StateInitializing
	StateReady
	StateTerminated
)

// connConfig carries the client settings a connection attempt needs.
type connConfig struct {
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *metrics
	clock          clockwork.Clock
	handshakeDelay time.Duration
	maxEventSize   int
	maxResultLines int
	clientInfo     Info

	emit    func(Event)
	onTools func([]ToolInfo)
}

// connection is a single connection attempt: one SSE stream, its session endpoint and its
// correlation table. It is never reused; a new Connect creates a new connection.
type connection struct {
	id   string
	url  string
	name string

	cfg    connConfig
	logger *slog.Logger

	state      atomic.Int32
	session    *sessionState
	pending    *pendingTable
	dispatch   *dispatcher
	classifier *classifier

	// parser is only used by the receive loop.
	parser fastjson.Parser
	initID RequestID

	ctx    context.Context
	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

type frameResult struct {
	frame Frame
	err   error
}

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingEndpoint:
		return "awaiting_endpoint"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func newConnection(ctx context.Context, url, name string, cfg connConfig) *connection {
	id := uuid.New().String()
	logger := cfg.logger.With(
		slog.String("attempt", id),
		slog.String("url", url),
		slog.String("server", name),
	)

	session := &sessionState{}
	pending := newPendingTable(cfg.metrics.pendingRequests)
	dispatch := &dispatcher{
		httpClient: cfg.httpClient,
		baseURL:    url,
		session:    session,
		pending:    pending,
		emit:       cfg.emit,
		logger:     logger,
		metrics:    cfg.metrics,
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &connection{
		id:       id,
		url:      url,
		name:     name,
		cfg:      cfg,
		logger:   logger,
		session:  session,
		pending:  pending,
		dispatch: dispatch,
		classifier: &classifier{
			pending: pending,
			format:  newFormatter(cfg.maxResultLines, logger),
			emit:    cfg.emit,
			logger:  logger,
			onTools: cfg.onTools,
		},
		// The first id of every attempt is reserved for the handshake.
		initID: dispatch.nextID(),
		ctx:    ctx,
		cancel: cancel,
		wg:     conc.NewWaitGroup(),
	}
	c.state.Store(int32(StateIdle))
	return c
}

func (c *connection) start() {
	c.wg.Go(c.run)
}

// stop fires the shutdown signal and waits for every goroutine of the attempt to return.
func (c *connection) stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *connection) getState() ConnState {
	return ConnState(c.state.Load())
}

func (c *connection) setState(s ConnState) {
	prev := ConnState(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("connection state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// goAttempt runs f on a goroutine owned by the attempt, so stop waits for it.
func (c *connection) goAttempt(f func()) {
	c.wg.Go(f)
}

func (c *connection) run() {
	defer c.terminate()

	c.setState(StateConnecting)
	c.logger.Info("connecting to server")

	body, err := c.open()
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("failed to connect", slog.String("err", err.Error()))
			c.cfg.emit(errorEvent(fmt.Sprintf("Failed to connect: %v", err)))
		}
		return
	}
	defer body.Close()

	c.cfg.emit(connectedEvent(fmt.Sprintf("Connected to %s (%s)", c.name, c.url)))
	c.setState(StateAwaitingEndpoint)

	frames := make(chan frameResult)
	c.wg.Go(func() {
		c.readFrames(body, frames)
	})

	for {
		// A pending shutdown wins over frames that are already available.
		select {
		case <-c.ctx.Done():
			c.logger.Info("connection shut down")
			return
		default:
		}

		select {
		case <-c.ctx.Done():
			c.logger.Info("connection shut down")
			return
		case fr, ok := <-frames:
			if !ok {
				c.streamEnded()
				return
			}
			if fr.err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Error("failed to read stream", slog.String("err", fr.err.Error()))
				c.cfg.emit(errorEvent(fmt.Sprintf("Stream error: %v", fr.err)))
				return
			}
			c.handleFrame(fr.frame)
		}
	}
}

func (c *connection) open() (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func (c *connection) readFrames(body io.Reader, frames chan<- frameResult) {
	defer close(frames)

	for f, err := range ReadFrames(body, c.cfg.maxEventSize) {
		select {
		case frames <- frameResult{frame: f, err: err}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *connection) streamEnded() {
	if c.getState() == StateAwaitingEndpoint {
		c.logger.Warn("stream closed before endpoint")
		c.cfg.emit(errorEvent(ErrNoEndpoint.Error()))
		return
	}
	c.logger.Info("server closed the stream")
	c.cfg.emit(debugEvent(ErrStreamClosed.Error()))
}

// terminate moves the attempt to Terminated and emits Disconnected. It runs exactly once, when
// the receive loop returns.
func (c *connection) terminate() {
	c.setState(StateTerminated)
	c.cfg.emit(Event{Kind: EventDisconnected})
	c.cancel()
}

func (c *connection) handleFrame(f Frame) {
	c.cfg.metrics.frames.WithLabelValues(frameLabel(f.Type)).Inc()

	// Untyped announcements are only recognized before the session has an endpoint, later
	// they are ordinary payloads.
	awaiting := c.getState() == StateAwaitingEndpoint
	if f.Type == sseEventEndpoint || awaiting {
		if endpoint, ok := endpointFrom(f); ok {
			if awaiting {
				c.onEndpoint(endpoint)
			} else {
				c.cfg.emit(debugEvent(fmt.Sprintf("Ignoring repeated endpoint announcement: %s", endpoint)))
			}
			return
		}
	}

	v, err := c.parser.Parse(f.Data)
	if err != nil {
		c.cfg.emit(messageEvent(f.Data))
		return
	}

	if c.getState() == StateInitializing && isResponseTo(v, c.initID) {
		c.onInitialized(v)
		return
	}

	c.classifier.classify(c.ctx, v)
}

func (c *connection) onEndpoint(endpoint string) {
	c.session.setEndpoint(endpoint)
	target := ResolveEndpoint(c.url, endpoint)
	c.logger.Info("session endpoint announced", slog.String("endpoint", endpoint))
	c.cfg.emit(debugEvent(fmt.Sprintf("Session endpoint %s, posting to %s", endpoint, target)))

	c.setState(StateInitializing)
	c.goAttempt(c.sendInitialize)
}

func (c *connection) sendInitialize() {
	if !c.sleep(c.cfg.handshakeDelay) {
		return
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.cfg.clientInfo,
	}
	if _, err := c.dispatch.sendWithID(c.ctx, c.initID, MethodInitialize, params, true); err != nil {
		c.logger.Error("failed to send initialize request", slog.String("err", err.Error()))
	}
}

func (c *connection) onInitialized(v *fastjson.Value) {
	// A rejected initialize is reported like any RPC error and the session still proceeds.
	if errv := v.Get("error"); errv != nil {
		c.logger.Error("server rejected initialize request",
			slog.Int("code", errv.GetInt("code")),
			slog.String("message", string(errv.GetStringBytes("message"))),
		)
		c.classifier.classify(c.ctx, v)
		c.setState(StateReady)
		c.goAttempt(c.afterInitialize)
		return
	}

	c.pending.forget(c.initID)

	var result initializeResult
	if res := v.Get("result"); res != nil {
		result = initializeResult{
			ProtocolVersion: string(res.GetStringBytes("protocolVersion")),
			ServerInfo: Info{
				Name:    string(res.GetStringBytes("serverInfo", "name")),
				Version: string(res.GetStringBytes("serverInfo", "version")),
			},
			Instructions: string(res.GetStringBytes("instructions")),
		}
	}

	c.logger.Info("session initialized",
		slog.String("serverName", result.ServerInfo.Name),
		slog.String("serverVersion", result.ServerInfo.Version),
		slog.String("protocolVersion", result.ProtocolVersion),
	)
	c.cfg.emit(messageEvent(fmt.Sprintf("Initialized %s %s (protocol %s)",
		result.ServerInfo.Name, result.ServerInfo.Version, result.ProtocolVersion)))
	if result.Instructions != "" {
		c.cfg.emit(messageEvent(result.Instructions))
	}

	c.setState(StateReady)
	c.goAttempt(c.afterInitialize)
}

func (c *connection) afterInitialize() {
	if err := c.dispatch.notify(c.ctx, methodNotificationsInitialized, nil); err != nil {
		c.logger.Warn("failed to send initialized notification", slog.String("err", err.Error()))
	}

	if !c.sleep(c.cfg.handshakeDelay) {
		return
	}

	if _, _, err := c.dispatch.send(c.ctx, MethodToolsList, nil, true); err != nil {
		c.logger.Error("failed to list tools", slog.String("err", err.Error()))
	}
}

// sleep waits for d on the configured clock. It reports false if the attempt was shut down first.
func (c *connection) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}
	select {
	case <-c.cfg.clock.After(d):
		return true
	case <-c.ctx.Done():
		return false
	}
}

// isResponseTo reports whether v is a response (not a request) carrying id.
func isResponseTo(v *fastjson.Value, id RequestID) bool {
	if v.Type() != fastjson.TypeObject || v.Exists("method") {
		return false
	}
	idv := v.Get("id")
	if idv == nil {
		return false
	}

	switch idv.Type() {
	case fastjson.TypeNumber:
		n, err := idv.Int64()
		return err == nil && RequestID(n) == id
	case fastjson.TypeString:
		return string(idv.GetStringBytes()) == fmt.Sprint(int64(id))
	default:
		return false
	}
}

var (
	// ErrNotConnected is reported when a request is made while no connection attempt is live.
	ErrNotConnected = errors.New("not connected")
	// ErrNoEndpoint is reported when the stream ends before the server announced a session
	// endpoint.
	ErrNoEndpoint = errors.New("stream closed before the server announced a session endpoint")
	// ErrStreamClosed is reported when the server ends the stream after the handshake started.
	ErrStreamClosed = errors.New("server closed the stream")
	// ErrClientClosed is returned by calls made after Close.
	ErrClientClosed = errors.New("client closed")
)
