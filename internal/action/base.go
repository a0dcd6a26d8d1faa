package action

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/mattjoyce/deckrelay/internal/log"
	"github.com/mattjoyce/deckrelay/internal/protocol"
)

// Base is embedded by concrete actions. It records the context and connection
// handle attached by the dispatch engine and implements every capability as a
// no-op, so an action only overrides the events it cares about.
type Base[S any] struct {
	contextID string
	out       Outbound
}

// Attach binds the action to its host context and outbound connection.
func (b *Base[S]) Attach(contextID string, out Outbound) {
	b.contextID = contextID
	b.out = out
}

// ContextID returns the host context this action is placed on.
func (b *Base[S]) ContextID() string {
	return b.contextID
}

func (b *Base[S]) send(ctx context.Context, event string, payload any) {
	if b.out == nil {
		log.WithContext(b.contextID).Warn("action not attached to a connection, dropping event", "event", event)
		return
	}
	b.out.Send(ctx, protocol.Event{Event: event, Context: b.contextID, Payload: payload})
}

// SetTitle updates the title shown on the key.
func (b *Base[S]) SetTitle(ctx context.Context, title string, target protocol.Target, state int) {
	b.send(ctx, protocol.EventSetTitle, protocol.TitlePayload{Title: title, Target: target, State: state})
}

// SetImage updates the key image. image is a data URI or SVG string.
func (b *Base[S]) SetImage(ctx context.Context, image string, target protocol.Target, state int) {
	b.send(ctx, protocol.EventSetImage, protocol.ImagePayload{Image: image, Target: target, State: state})
}

// SetImagePNG encodes png as a data URI and sends it as the key image.
func (b *Base[S]) SetImagePNG(ctx context.Context, png []byte, target protocol.Target, state int) {
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	b.SetImage(ctx, uri, target, state)
}

// ShowAlert flashes the alert indicator on the key.
func (b *Base[S]) ShowAlert(ctx context.Context) {
	b.send(ctx, protocol.EventShowAlert, nil)
}

// ShowOK flashes the OK indicator on the key.
func (b *Base[S]) ShowOK(ctx context.Context) {
	b.send(ctx, protocol.EventShowOK, nil)
}

// SetSettings persists settings for this context on the host.
func (b *Base[S]) SetSettings(ctx context.Context, settings S) {
	b.send(ctx, protocol.EventSetSettings, settings)
}

// SetState switches a multi-state action to state.
func (b *Base[S]) SetState(ctx context.Context, state int) {
	b.send(ctx, protocol.EventSetState, protocol.StatePayload{State: state})
}

// SendToPropertyInspector forwards payload to the property inspector.
func (b *Base[S]) SendToPropertyInspector(ctx context.Context, payload any) {
	b.send(ctx, protocol.EventSendToPropertyInspector, payload)
}

func (b *Base[S]) OnKeyDown(context.Context, string, KeyPayload[S]) error { return nil }

func (b *Base[S]) OnKeyUp(context.Context, string, KeyPayload[S]) error { return nil }

func (b *Base[S]) OnWillAppear(context.Context, string, AppearancePayload[S]) error { return nil }

func (b *Base[S]) OnWillDisappear(context.Context, string, AppearancePayload[S]) error { return nil }

func (b *Base[S]) OnDidReceiveSettings(context.Context, string, SettingsPayload[S]) error {
	return nil
}

func (b *Base[S]) OnTitleParametersDidChange(context.Context, string, TitleParametersPayload[S]) error {
	return nil
}

func (b *Base[S]) OnSendToPlugin(context.Context, string, json.RawMessage) error { return nil }

func (b *Base[S]) OnDialDown(context.Context, string, DialPayload[S]) error { return nil }

func (b *Base[S]) OnDialUp(context.Context, string, DialPayload[S]) error { return nil }

func (b *Base[S]) OnDialRotate(context.Context, string, DialRotatePayload[S]) error { return nil }

func (b *Base[S]) OnTouchTap(context.Context, string, TouchTapPayload[S]) error { return nil }
