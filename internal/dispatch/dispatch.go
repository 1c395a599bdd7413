// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dispatch routes inbound request envelopes to handlers and
// produces exactly one reply per message.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/marcalink/internal/logging"
	"github.com/pdiddy/marcalink/internal/metrics"
	"github.com/pdiddy/marcalink/internal/protocol"
	"github.com/pdiddy/marcalink/pkg/types"
)

// Handler serves one action. A nil result with a nil error is answered
// with a "no response" error.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Dispatcher holds the handler table.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records dispatch counts and latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New returns an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler), logger: logging.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle registers h for act, replacing any earlier handler.
func (d *Dispatcher) Handle(act string, h Handler) {
	d.mu.Lock()
	d.handlers[act] = h
	d.mu.Unlock()
}

// Dispatch decodes raw and returns the reply to send. It never fails to
// produce a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) protocol.Reply {
	start := time.Now()
	reply := d.dispatch(ctx, raw)
	d.metrics.ObserveDispatch(reply.Act, string(reply.Status), time.Since(start))
	if reply.Status != types.StatusOK {
		d.logger.Warn("request failed", "act", reply.Act, "id", reply.ID, "kind", reply.Kind, "message", reply.Message)
	} else {
		d.logger.Debug("request served", "act", reply.Act, "id", reply.ID)
	}
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, raw []byte) protocol.Reply {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return protocolError("", protocol.ActError, protocol.MsgInvalidJSON)
	}
	if env.Act == "" {
		return protocolError(env.ID, protocol.ActError, protocol.MsgMissingAct)
	}
	d.mu.RLock()
	h, ok := d.handlers[env.Act]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn("unknown act received", "act", env.Act)
		return protocolError(env.ID, protocol.ActUnknown, protocol.MsgUnknownAct)
	}

	result, err := d.invoke(ctx, h, env.Payload)
	if err != nil {
		return protocol.ErrorReply(env.ID, env.Act, err)
	}
	if result == nil {
		return protocolError(env.ID, env.Act, protocol.MsgNoResponse)
	}
	payload, err := encodeResult(result)
	if err != nil {
		return protocol.ErrorReply(env.ID, env.Act, types.WrapError(types.KindBackend, env.Act, err))
	}
	return protocol.OKReply(env.ID, env.Act, payload)
}

// invoke runs h, converting a panic into a backend error.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "panic", r)
			result, err = nil, types.NewError(types.KindBackend, "", fmt.Sprintf("internal error: %v", r))
		}
	}()
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return h(ctx, payload)
}

func encodeResult(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding reply: %w", err)
	}
	return data, nil
}

func protocolError(id, act, msg string) protocol.Reply {
	return protocol.ErrorReply(id, act, types.NewError(types.KindProtocol, act, msg))
}

// decode unmarshals payload into v, reporting a protocol error on failure.
func decode(act string, payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return types.NewError(types.KindProtocol, act, fmt.Sprintf("invalid %s payload: %v", act, err))
	}
	return nil
}
