package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/mattjoyce/deckrelay/internal/action"
)

// ErrHandler matches every contained handler failure.
var ErrHandler = errors.New("handler invocation error")

// ContextKey identifies one router: a placed action instance on the host.
type ContextKey struct {
	ContextID string
	ActionID  string
}

// HandlerError reports an action handler that returned an error or panicked.
type HandlerError struct {
	Key   ContextKey
	Event string
	Err   error
	Stack []byte
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s on %s/%s: %v", ErrHandler, e.Event, e.Key.ActionID, e.Key.ContextID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool { return target == ErrHandler }

// Binding is the memoized handler for one event on one router.
type Binding struct {
	Event   action.EventDescriptor
	handler action.Handler
}

// Router holds the routing state for one ContextKey: the action instance and
// its event bindings. It lives until the connection that created it closes.
type Router struct {
	Key        ContextKey
	Descriptor action.Descriptor
	Action     action.Instance

	bindings map[string]*Binding
	logger   *slog.Logger
}

func newRouter(key ContextKey, desc action.Descriptor, out action.Outbound, logger *slog.Logger) *Router {
	inst := desc.New()
	inst.Attach(key.ContextID, out)
	return &Router{
		Key:        key,
		Descriptor: desc,
		Action:     inst,
		bindings:   make(map[string]*Binding),
		logger:     logger.With("context", key.ContextID, "action", desc.ID),
	}
}

// binding returns the cached binding for ev, creating it on first use.
func (r *Router) binding(ev action.EventDescriptor) *Binding {
	if b, ok := r.bindings[ev.Name]; ok {
		return b
	}

	h, ok := r.Descriptor.Bind(ev.Kind, r.Action)
	if !ok {
		r.logger.Debug("action has no handler for event, binding no-op", "event", ev.Name, "settings", r.Descriptor.Settings)
		h = func(context.Context, string, json.RawMessage) error { return nil }
	}

	b := &Binding{Event: ev, handler: h}
	r.bindings[ev.Name] = b
	return b
}

// Bindings reports how many events have been bound on this router.
func (r *Router) Bindings() int {
	return len(r.bindings)
}

// raise decodes payload and invokes the bound handler. Payload errors are
// returned as-is; handler errors and panics are wrapped in HandlerError.
func (b *Binding) raise(ctx context.Context, key ContextKey, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{Key: key, Event: b.Event.Name, Err: fmt.Errorf("panic: %v", p), Stack: debug.Stack()}
		}
	}()

	if herr := b.handler(ctx, key.ContextID, payload); herr != nil {
		if errors.Is(herr, action.ErrPayload) {
			return herr
		}
		return &HandlerError{Key: key, Event: b.Event.Name, Err: herr}
	}
	return nil
}
