package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrRegistryMiss is returned when an identifier has no registered action.
var ErrRegistryMiss = errors.New("registry miss")

// ErrPayload matches payload decoding failures raised by bound handlers.
var ErrPayload = errors.New("payload decode error")

// Handler invokes one capability of one action instance with a raw payload.
type Handler func(ctx context.Context, contextID string, payload json.RawMessage) error

// PayloadError reports a payload that does not fit the resolved payload type.
type PayloadError struct {
	Kind Kind
	Type string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %s into %s: %v", ErrPayload, e.Kind, e.Type, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

func (e *PayloadError) Is(target error) bool { return target == ErrPayload }

// Descriptor describes one registered action kind.
type Descriptor struct {
	// ID is the canonical identifier used for lookups.
	ID string
	// Name is the display name the action was defined with.
	Name string
	// Settings names the settings type, for diagnostics.
	Settings string
	// New creates a fresh action instance.
	New func() Instance
	// Bind resolves the handler for kind on inst. It reports false when inst
	// does not implement the capability for this settings type.
	Bind func(kind Kind, inst Instance) (Handler, bool)
}

// Define builds a descriptor for an action with settings type S.
func Define[S any](name string, factory func() Instance) Descriptor {
	var zero S
	return Descriptor{
		ID:       Canonicalize(name),
		Name:     name,
		Settings: fmt.Sprintf("%T", zero),
		New:      factory,
		Bind:     bindFor[S],
	}
}

// Canonicalize maps an action identifier to its lookup key: the segment after
// the final '.', reduced to ASCII letters, lowercased.
func Canonicalize(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		id = id[i+1:]
	}
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c)
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
		}
	}
	return b.String()
}

// Registry is the immutable action and event table. Build it once at startup.
type Registry struct {
	actions map[string]Descriptor
	events  map[string]EventDescriptor
}

// NewRegistry validates and indexes actions and events.
func NewRegistry(actions []Descriptor, events []EventDescriptor) (*Registry, error) {
	r := &Registry{
		actions: make(map[string]Descriptor, len(actions)),
		events:  make(map[string]EventDescriptor, len(events)),
	}

	for _, d := range actions {
		if d.ID == "" {
			return nil, fmt.Errorf("action %q has an empty canonical identifier", d.Name)
		}
		if d.New == nil || d.Bind == nil {
			return nil, fmt.Errorf("action %q is missing a factory or binder", d.Name)
		}
		if prev, dup := r.actions[d.ID]; dup {
			return nil, fmt.Errorf("actions %q and %q share canonical identifier %q", prev.Name, d.Name, d.ID)
		}
		r.actions[d.ID] = d
	}

	for _, e := range events {
		if e.Name == "" || e.Kind == KindUnknown {
			return nil, fmt.Errorf("invalid event descriptor %+v", e)
		}
		if _, dup := r.events[e.Name]; dup {
			return nil, fmt.Errorf("duplicate event %q", e.Name)
		}
		r.events[e.Name] = e
	}

	return r, nil
}

// Action looks up the descriptor for an action identifier.
func (r *Registry) Action(id string) (Descriptor, error) {
	key := Canonicalize(id)
	d, ok := r.actions[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: action %q (canonical %q)", ErrRegistryMiss, id, key)
	}
	return d, nil
}

// Events returns all receive events ordered by name.
func (r *Registry) Events() []EventDescriptor {
	out := make([]EventDescriptor, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Event reports the descriptor for a receive-event name.
func (r *Registry) Event(name string) (EventDescriptor, bool) {
	e, ok := r.events[name]
	return e, ok
}

// Actions returns all descriptors ordered by canonical id.
func (r *Registry) Actions() []Descriptor {
	out := make([]Descriptor, 0, len(r.actions))
	for _, d := range r.actions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func bindFor[S any](kind Kind, inst Instance) (Handler, bool) {
	switch kind {
	case KindKeyDown:
		if h, ok := inst.(KeyDownHandler[S]); ok {
			return typed(kind, h.OnKeyDown), true
		}
	case KindKeyUp:
		if h, ok := inst.(KeyUpHandler[S]); ok {
			return typed(kind, h.OnKeyUp), true
		}
	case KindWillAppear:
		if h, ok := inst.(WillAppearHandler[S]); ok {
			return typed(kind, h.OnWillAppear), true
		}
	case KindWillDisappear:
		if h, ok := inst.(WillDisappearHandler[S]); ok {
			return typed(kind, h.OnWillDisappear), true
		}
	case KindDidReceiveSettings:
		if h, ok := inst.(DidReceiveSettingsHandler[S]); ok {
			return typed(kind, h.OnDidReceiveSettings), true
		}
	case KindTitleParametersDidChange:
		if h, ok := inst.(TitleParametersHandler[S]); ok {
			return typed(kind, h.OnTitleParametersDidChange), true
		}
	case KindSendToPlugin:
		if h, ok := inst.(SendToPluginHandler); ok {
			return h.OnSendToPlugin, true
		}
	case KindDialDown:
		if h, ok := inst.(DialDownHandler[S]); ok {
			return typed(kind, h.OnDialDown), true
		}
	case KindDialUp:
		if h, ok := inst.(DialUpHandler[S]); ok {
			return typed(kind, h.OnDialUp), true
		}
	case KindDialRotate:
		if h, ok := inst.(DialRotateHandler[S]); ok {
			return typed(kind, h.OnDialRotate), true
		}
	case KindTouchTap:
		if h, ok := inst.(TouchTapHandler[S]); ok {
			return typed(kind, h.OnTouchTap), true
		}
	}
	return nil, false
}

// typed adapts a capability method to a Handler by decoding the payload into P.
func typed[P any](kind Kind, fn func(context.Context, string, P) error) Handler {
	return func(ctx context.Context, contextID string, raw json.RawMessage) error {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return &PayloadError{Kind: kind, Type: fmt.Sprintf("%T", p), Err: err}
		}
		return fn(ctx, contextID, p)
	}
}
