package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/deckrelay/internal/action"
	"github.com/mattjoyce/deckrelay/internal/events"
	"github.com/mattjoyce/deckrelay/internal/log"
	"github.com/mattjoyce/deckrelay/internal/metrics"
	"github.com/mattjoyce/deckrelay/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_outbound.go -package=mocks github.com/mattjoyce/deckrelay/internal/action Outbound

// Publisher receives activity notifications. *events.Hub implements it.
type Publisher interface {
	Publish(eventType, subject string, data any)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records dispatch outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher publishes handler failures and lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// Engine routes inbound envelopes to per-context routers for one connection.
// HandleMessage is called only from the connection's receive loop; the mutex
// lets inspection and reset run from other goroutines.
type Engine struct {
	registry  *action.Registry
	out       action.Outbound
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher Publisher

	mu      sync.Mutex
	routers map[ContextKey]*Router
}

// NewEngine creates an Engine whose actions send through out.
func NewEngine(reg *action.Registry, out action.Outbound, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		out:      out,
		logger:   log.WithComponent("dispatch"),
		routers:  make(map[ContextKey]*Router),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage decodes and dispatches one complete text block. Every failure
// is logged here; nothing propagates into the receive loop.
func (e *Engine) HandleMessage(ctx context.Context, block []byte) {
	start := time.Now()

	env, err := protocol.DecodeEnvelope(block)
	if err != nil {
		e.logger.Debug("dropping message", "error", err, "bytes", len(block))
		e.metrics.RecordEnvelope(metrics.ResultDecodeError, 0)
		return
	}

	result := metrics.ResultDispatched
	if err := e.Dispatch(ctx, env); err != nil {
		switch {
		case errors.Is(err, action.ErrRegistryMiss):
			result = metrics.ResultUnknownAction
			e.logger.Error("cannot route envelope for unknown action", "action", env.Action, "context", env.Context, "error", err)
			e.publish(events.TypeUnknownAction, env.Context, map[string]string{"action": env.Action})
		case errors.Is(err, action.ErrPayload):
			result = metrics.ResultPayloadError
			e.logger.Error("failed to decode event payload", "action", env.Action, "event", env.Event, "context", env.Context, "error", err)
		case errors.Is(err, ErrEventIgnored):
			result = metrics.ResultIgnoredEvent
		case errors.Is(err, ErrHandler):
			result = metrics.ResultHandlerError
		default:
			e.logger.Error("dispatch failed", "error", err)
		}
	}
	e.metrics.RecordEnvelope(result, time.Since(start).Seconds())
}

// ErrEventIgnored marks envelopes for events the plugin does not declare.
var ErrEventIgnored = errors.New("event not declared")

// Dispatch routes env to its router and raises the event. Undeclared events
// return ErrEventIgnored without side effects. A failing handler is contained
// before Dispatch returns: the action shows one alert and the failure is
// logged. The returned HandlerError is for the caller's accounting only.
func (e *Engine) Dispatch(ctx context.Context, env *protocol.Envelope) error {
	key := ContextKey{ContextID: env.Context, ActionID: env.Action}

	r, err := e.router(key)
	if err != nil {
		return err
	}

	ev, known := e.registry.Event(env.Event)
	if !known {
		r.logger.Debug("ignoring undeclared event", "event", env.Event)
		return ErrEventIgnored
	}

	b := r.binding(ev)
	r.logger.Debug("raising event", "event", ev.Name)

	err = b.raise(ctx, key, env.Payload)
	if err == nil {
		return nil
	}

	var herr *HandlerError
	if errors.As(err, &herr) {
		e.contain(ctx, r, herr)
	}
	return err
}

// contain reports a handler failure back to the host and the operator.
func (e *Engine) contain(ctx context.Context, r *Router, herr *HandlerError) {
	if a, ok := r.Action.(action.Alerter); ok {
		a.ShowAlert(ctx)
	} else {
		e.out.Send(ctx, protocol.Event{Event: protocol.EventShowAlert, Context: r.Key.ContextID})
	}

	attrs := []any{"event", herr.Event, "context", herr.Key.ContextID, "action", r.Descriptor.ID, "error", herr.Err}
	if herr.Stack != nil {
		attrs = append(attrs, "stack", string(herr.Stack))
	}
	e.logger.Error("action handler failed", attrs...)
	e.publish(events.TypeHandlerError, herr.Key.ContextID, map[string]string{
		"action": r.Descriptor.ID,
		"event":  herr.Event,
		"error":  herr.Err.Error(),
	})
}

// router returns the router for key, creating it on first use.
func (e *Engine) router(key ContextKey) (*Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.routers[key]; ok {
		return r, nil
	}

	desc, err := e.registry.Action(key.ActionID)
	if err != nil {
		return nil, err
	}

	r := newRouter(key, desc, e.out, e.logger)
	e.routers[key] = r
	e.metrics.RecordRouters(len(e.routers))
	r.logger.Info("created context router", "settings", desc.Settings)
	return r, nil
}

// Router returns the live router for key, if any.
func (e *Engine) Router(key ContextKey) (*Router, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routers[key]
	return r, ok
}

// Routers lists the live router keys, ordered for stable output.
func (e *Engine) Routers() []ContextKey {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]ContextKey, 0, len(e.routers))
	for k := range e.routers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ContextID != keys[j].ContextID {
			return keys[i].ContextID < keys[j].ContextID
		}
		return keys[i].ActionID < keys[j].ActionID
	})
	return keys
}

// Reset discards every router. There is no per-router teardown.
func (e *Engine) Reset() {
	e.mu.Lock()
	n := len(e.routers)
	e.routers = make(map[ContextKey]*Router)
	e.mu.Unlock()

	e.metrics.RecordRouters(0)
	if n > 0 {
		e.logger.Info("cleared context routers", "count", n)
		e.publish(events.TypeRoutersCleared, "", map[string]int{"count": n})
	}
}

// ConnectionClosed implements transport.Receiver.
func (e *Engine) ConnectionClosed() {
	e.Reset()
}

func (e *Engine) publish(eventType, subject string, data any) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(eventType, subject, data)
}
