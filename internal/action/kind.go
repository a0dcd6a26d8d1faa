package action

// Kind tags a receive-event kind. Routing matches on the tag, never on names.
type Kind int

const (
	KindUnknown Kind = iota
	KindKeyDown
	KindKeyUp
	KindWillAppear
	KindWillDisappear
	KindDidReceiveSettings
	KindTitleParametersDidChange
	KindSendToPlugin
	KindDialDown
	KindDialUp
	KindDialRotate
	KindTouchTap
)

var kindNames = map[Kind]string{
	KindKeyDown:                  "keyDown",
	KindKeyUp:                    "keyUp",
	KindWillAppear:               "willAppear",
	KindWillDisappear:            "willDisappear",
	KindDidReceiveSettings:       "didReceiveSettings",
	KindTitleParametersDidChange: "titleParametersDidChange",
	KindSendToPlugin:             "sendToPlugin",
	KindDialDown:                 "dialDown",
	KindDialUp:                   "dialUp",
	KindDialRotate:               "dialRotate",
	KindTouchTap:                 "touchTap",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// EventDescriptor declares one receive event the plugin understands.
type EventDescriptor struct {
	Name string
	Kind Kind
}

// StandardEvents returns the context-scoped events sent by the host.
func StandardEvents() []EventDescriptor {
	return []EventDescriptor{
		{Name: "keyDown", Kind: KindKeyDown},
		{Name: "keyUp", Kind: KindKeyUp},
		{Name: "willAppear", Kind: KindWillAppear},
		{Name: "willDisappear", Kind: KindWillDisappear},
		{Name: "didReceiveSettings", Kind: KindDidReceiveSettings},
		{Name: "titleParametersDidChange", Kind: KindTitleParametersDidChange},
		{Name: "sendToPlugin", Kind: KindSendToPlugin},
		{Name: "dialDown", Kind: KindDialDown},
		{Name: "dialUp", Kind: KindDialUp},
		{Name: "dialRotate", Kind: KindDialRotate},
		{Name: "touchTap", Kind: KindTouchTap},
	}
}
