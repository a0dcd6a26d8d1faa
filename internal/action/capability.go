package action

import (
	"context"
	"encoding/json"

	"github.com/mattjoyce/deckrelay/internal/protocol"
)

// Outbound is the explicit connection handle actions send through.
// Implementations must be safe for concurrent use.
type Outbound interface {
	Send(ctx context.Context, ev protocol.Event)
}

// Instance is a live action bound to one host context.
type Instance interface {
	Attach(contextID string, out Outbound)
}

// Alerter is implemented by actions that can flash an alert on their key.
type Alerter interface {
	ShowAlert(ctx context.Context)
}

type KeyDownHandler[S any] interface {
	OnKeyDown(ctx context.Context, contextID string, p KeyPayload[S]) error
}

type KeyUpHandler[S any] interface {
	OnKeyUp(ctx context.Context, contextID string, p KeyPayload[S]) error
}

type WillAppearHandler[S any] interface {
	OnWillAppear(ctx context.Context, contextID string, p AppearancePayload[S]) error
}

type WillDisappearHandler[S any] interface {
	OnWillDisappear(ctx context.Context, contextID string, p AppearancePayload[S]) error
}

type DidReceiveSettingsHandler[S any] interface {
	OnDidReceiveSettings(ctx context.Context, contextID string, p SettingsPayload[S]) error
}

type TitleParametersHandler[S any] interface {
	OnTitleParametersDidChange(ctx context.Context, contextID string, p TitleParametersPayload[S]) error
}

// SendToPluginHandler receives raw property inspector messages.
type SendToPluginHandler interface {
	OnSendToPlugin(ctx context.Context, contextID string, payload json.RawMessage) error
}

type DialDownHandler[S any] interface {
	OnDialDown(ctx context.Context, contextID string, p DialPayload[S]) error
}

type DialUpHandler[S any] interface {
	OnDialUp(ctx context.Context, contextID string, p DialPayload[S]) error
}

type DialRotateHandler[S any] interface {
	OnDialRotate(ctx context.Context, contextID string, p DialRotatePayload[S]) error
}

type TouchTapHandler[S any] interface {
	OnTouchTap(ctx context.Context, contextID string, p TouchTapPayload[S]) error
}
