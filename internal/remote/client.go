// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package remote is the client-side storage backend. Every operation is
// a request over one persistent WebSocket connection; settings written
// while the connection is down are queued locally and replayed when it
// opens again.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pdiddy/marcalink/internal/logging"
	"github.com/pdiddy/marcalink/internal/metrics"
	"github.com/pdiddy/marcalink/internal/protocol"
	"github.com/pdiddy/marcalink/pkg/types"
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn is a message-oriented connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections to a server URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with coder/websocket.
type WebSocketDialer struct {
	// ReadLimit caps inbound message size (default 8 MiB).
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = 8 << 20
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// Client owns the connection and correlates replies to requests.
type Client struct {
	url     string
	cfg     types.ClientConfig
	dialer  Dialer
	logger  *log.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	conn      Conn
	opened    chan struct{} // closed when the current connect attempt opens
	pending   map[string]chan protocol.Reply
	listeners []func(context.Context)
	started   bool

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientMetrics records connection state and request outcomes.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a disconnected client for cfg.URL. Call Start to
// begin connecting.
func NewClient(cfg types.ClientConfig, opts ...ClientOption) *Client {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:     cfg.URL,
		cfg:     cfg,
		dialer:  WebSocketDialer{},
		logger:  logging.Discard(),
		opened:  make(chan struct{}),
		pending: make(map[string]chan protocol.Reply),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnOpen registers fn to run, in its own goroutine, every time the
// connection opens. Register listeners before Start.
func (c *Client) OnOpen(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// spawn runs fn in a tracked goroutine on the client context. It does
// nothing once the client is closed.
func (c *Client) spawn(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

// Start launches the connect loop. Calling it again has no effect.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.run()
}

// Close stops reconnecting, closes the connection, and fails any
// request still waiting.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	c.setState(Disconnected)
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.metrics.ConnectionState(int(s))
}

// WaitOpen blocks until the connection is open, OpenTimeout elapses, or
// ctx ends. Any number of callers may wait; all are released together.
func (c *Client) WaitOpen(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == Open {
		c.mu.Unlock()
		return true
	}
	opened := c.opened
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.OpenTimeout)
	defer timer.Stop()
	select {
	case <-opened:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// run is the connect loop.
func (c *Client) run() {
	defer c.wg.Done()
	backoff := c.cfg.ReconnectMin
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setState(Connecting)
		dialCtx, cancel := context.WithTimeout(c.ctx, c.cfg.OpenTimeout)
		conn, err := c.dialer.Dial(dialCtx, c.url)
		cancel()
		if err != nil {
			c.setState(Disconnected)
			c.logger.Debug("connect failed", "url", c.url, "err", err, "retry_in", backoff)
			if !c.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, c.cfg.ReconnectMax)
			continue
		}
		backoff = c.cfg.ReconnectMin

		c.mu.Lock()
		c.conn = conn
		c.state = Open
		close(c.opened)
		listeners := append([]func(context.Context){}, c.listeners...)
		c.mu.Unlock()
		c.metrics.ConnectionState(int(Open))
		c.logger.Info("connection open", "url", c.url)

		for _, fn := range listeners {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				fn(c.ctx)
			}()
		}

		err = c.readLoop(conn)
		c.drop(conn, err)
		if !c.sleep(backoff) {
			return
		}
	}
}

// drop tears down conn and fails every pending request.
func (c *Client) drop(conn Conn, cause error) {
	c.mu.Lock()
	c.state = Closing
	c.conn = nil
	c.opened = make(chan struct{})
	pending := c.pending
	c.pending = make(map[string]chan protocol.Reply)
	c.mu.Unlock()
	c.metrics.ConnectionState(int(Closing))

	_ = conn.Close()
	for id, ch := range pending {
		ch <- protocol.Reply{
			ID:      id,
			Status:  types.StatusError,
			Message: "connection lost",
			Kind:    types.KindConnection,
		}
	}
	c.setState(Disconnected)
	if c.ctx.Err() == nil {
		c.logger.Warn("connection lost", "err", cause, "failed_requests", len(pending))
	}
}

func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) readLoop(conn Conn) error {
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		var r protocol.Reply
		if err := json.Unmarshal(data, &r); err != nil {
			c.logger.Warn("dropping undecodable message", "err", err)
			continue
		}
		if r.ID == "" {
			c.logger.Debug("server message", "act", r.Act, "status", r.Status, "message", r.Message)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[r.ID]
		delete(c.pending, r.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("dropping reply with no pending request", "id", r.ID, "act", r.Act)
			continue
		}
		ch <- r
	}
}

// Request sends act with payload and waits for its reply. It fails with
// a connection error when the connection does not open in time, drops
// before the reply, or the reply does not arrive within RequestTimeout.
// An error reply is returned as the error it carries.
func (c *Client) Request(ctx context.Context, act string, payload any) (json.RawMessage, error) {
	raw, err := c.request(ctx, act, payload)
	status := "ok"
	if err != nil {
		status = string(types.KindOf(err))
	}
	c.metrics.RemoteRequest(act, status)
	return raw, err
}

func (c *Client) request(ctx context.Context, act string, payload any) (json.RawMessage, error) {
	if !c.WaitOpen(ctx) {
		return nil, types.NewError(types.KindConnection, act, "WebSocket not connected")
	}

	id := uuid.NewString()
	env, err := protocol.NewEnvelope(id, act, payload)
	if err != nil {
		return nil, types.WrapError(types.KindValidation, act, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, types.WrapError(types.KindValidation, act, fmt.Errorf("encoding envelope: %w", err))
	}

	ch := make(chan protocol.Reply, 1)
	c.mu.Lock()
	conn := c.conn
	if c.state != Open || conn == nil {
		c.mu.Unlock()
		return nil, types.NewError(types.KindConnection, act, "WebSocket not connected")
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	c.writeMu.Lock()
	err = conn.Write(ctx, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, types.WrapError(types.KindConnection, act, fmt.Errorf("sending request: %w", err))
	}

	select {
	case r := <-ch:
		if err := r.Err(); err != nil {
			return nil, err
		}
		return r.Payload, nil
	case <-ctx.Done():
		return nil, types.WrapError(types.KindConnection, act, fmt.Errorf("waiting for reply: %w", ctx.Err()))
	}
}
