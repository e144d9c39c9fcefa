package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// pendingTable correlates request ids with single-use reply channels. Entries are added before
// the request is posted and removed when the matching response arrives.
type pendingTable struct {
	mu      sync.Mutex
	entries map[RequestID]chan JSONRPCMessage

	gauge interface{ Set(float64) }
}

// dispatcher posts JSON-RPC messages to the session endpoint of one connection attempt.
type dispatcher struct {
	httpClient *http.Client
	baseURL    string
	session    *sessionState
	pending    *pendingTable
	emit       func(Event)
	logger     *slog.Logger
	metrics    *metrics

	lastID atomic.Int64
}

func newPendingTable(gauge interface{ Set(float64) }) *pendingTable {
	return &pendingTable{
		entries: make(map[RequestID]chan JSONRPCMessage),
		gauge:   gauge,
	}
}

// register inserts a reply channel for id. It returns nil if id already has a live entry.
func (t *pendingTable) register(id RequestID) <-chan JSONRPCMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return nil
	}
	ch := make(chan JSONRPCMessage, 1)
	t.entries[id] = ch
	t.updateGauge()
	return ch
}

// resolve delivers msg to the entry for id and removes it. It reports whether an entry existed.
func (t *pendingTable) resolve(id RequestID, msg JSONRPCMessage) bool {
	t.mu.Lock()
	ch, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.updateGauge()
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	// Buffered with capacity one and only ever written here, so this never blocks.
	ch <- msg
	return true
}

func (t *pendingTable) forget(id RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, id)
	t.updateGauge()
}

func (t *pendingTable) has(id RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[id]
	return ok
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

func (t *pendingTable) updateGauge() {
	if t.gauge != nil {
		t.gauge.Set(float64(len(t.entries)))
	}
}

// nextID allocates the next request id. Ids start at 1 and strictly increase.
func (d *dispatcher) nextID() RequestID {
	return RequestID(d.lastID.Add(1))
}

// send allocates an id and posts a request. See sendWithID.
func (d *dispatcher) send(
	ctx context.Context,
	method string,
	params any,
	expectReply bool,
) (RequestID, <-chan JSONRPCMessage, error) {
	id := d.nextID()
	reply, err := d.sendWithID(ctx, id, method, params, expectReply)
	return id, reply, err
}

// sendWithID posts a request carrying id. When expectReply is set, a correlation entry is
// registered before the post and its reply channel returned. A failed post is reported as an
// Error event and returned; the correlation entry is left in place.
func (d *dispatcher) sendWithID(
	ctx context.Context,
	id RequestID,
	method string,
	params any,
	expectReply bool,
) (<-chan JSONRPCMessage, error) {
	paramsBs, err := marshalParams(params)
	if err != nil {
		d.emit(errorEvent(fmt.Sprintf("Failed to encode %s request: %v", method, err)))
		return nil, err
	}

	var reply <-chan JSONRPCMessage
	if expectReply {
		reply = d.pending.register(id)
		if reply == nil {
			err := fmt.Errorf("request id %d already pending", id)
			d.emit(errorEvent(err.Error()))
			return nil, err
		}
	}

	msgID := id
	err = d.post(ctx, method, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &msgID,
		Method:  method,
		Params:  paramsBs,
	})
	return reply, err
}

// notify posts a notification, which carries no id and gets no reply.
func (d *dispatcher) notify(ctx context.Context, method string, params any) error {
	paramsBs, err := marshalParams(params)
	if err != nil {
		return err
	}

	return d.post(ctx, method, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

func (d *dispatcher) post(ctx context.Context, method string, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		nErr := fmt.Errorf("failed to marshal message: %w", err)
		d.emit(errorEvent(nErr.Error()))
		return nErr
	}

	target := d.target()
	d.metrics.requests.WithLabelValues(method).Inc()

	if err := d.postBody(ctx, target, msgBs); err != nil {
		d.metrics.requestFailures.WithLabelValues(method).Inc()
		d.logger.Warn("failed to post message", slog.String("method", method), slog.String("err", err.Error()))
		// Posts aborted by a shutdown are not worth reporting.
		if ctx.Err() == nil {
			d.emit(errorEvent(fmt.Sprintf("Failed to send %s: %v", method, err)))
		}
		return err
	}

	d.logger.Debug("posted message", slog.String("method", method), slog.String("url", target))
	return nil
}

// target returns the URL requests are posted to. Before the server announced its session
// endpoint, the base URL is used as a best effort.
func (d *dispatcher) target() string {
	endpoint, ok := d.session.get()
	if !ok {
		d.emit(debugEvent(fmt.Sprintf("No session endpoint yet, posting to %s", d.baseURL)))
		return d.baseURL
	}
	return ResolveEndpoint(d.baseURL, endpoint)
}

func (d *dispatcher) postBody(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("params are not valid JSON")
		}
		return p, nil
	}

	bs, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return bs, nil
}
