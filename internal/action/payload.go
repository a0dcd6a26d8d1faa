package action

// NoSettings is the settings type for actions without settings.
type NoSettings struct{}

// Coordinates locate a key or dial on the device.
type Coordinates struct {
	Column int `json:"column"`
	Row    int `json:"row"`
}

// KeyPayload is delivered with keyDown and keyUp.
type KeyPayload[S any] struct {
	Coordinates      Coordinates `json:"coordinates"`
	State            int         `json:"state"`
	UserDesiredState int         `json:"userDesiredState"`
	IsInMultiAction  bool        `json:"isInMultiAction"`
	Settings         S           `json:"settings"`
}

// AppearancePayload is delivered with willAppear and willDisappear.
type AppearancePayload[S any] struct {
	Controller      string      `json:"controller"`
	Coordinates     Coordinates `json:"coordinates"`
	State           int         `json:"state"`
	IsInMultiAction bool        `json:"isInMultiAction"`
	Settings        S           `json:"settings"`
}

// SettingsPayload is delivered with didReceiveSettings.
type SettingsPayload[S any] struct {
	Coordinates     Coordinates `json:"coordinates"`
	IsInMultiAction bool        `json:"isInMultiAction"`
	Settings        S           `json:"settings"`
}

// TitleParameters describes how the host renders a title.
type TitleParameters struct {
	FontFamily     string `json:"fontFamily"`
	FontSize       int    `json:"fontSize"`
	FontStyle      string `json:"fontStyle"`
	FontUnderline  bool   `json:"fontUnderline"`
	ShowTitle      bool   `json:"showTitle"`
	TitleAlignment string `json:"titleAlignment"`
	TitleColor     string `json:"titleColor"`
}

// TitleParametersPayload is delivered with titleParametersDidChange.
type TitleParametersPayload[S any] struct {
	Coordinates     Coordinates     `json:"coordinates"`
	State           int             `json:"state"`
	Title           string          `json:"title"`
	TitleParameters TitleParameters `json:"titleParameters"`
	Settings        S               `json:"settings"`
}

// DialPayload is delivered with dialDown and dialUp.
type DialPayload[S any] struct {
	Controller  string      `json:"controller"`
	Coordinates Coordinates `json:"coordinates"`
	Settings    S           `json:"settings"`
}

// DialRotatePayload is delivered with dialRotate.
type DialRotatePayload[S any] struct {
	Controller  string      `json:"controller"`
	Coordinates Coordinates `json:"coordinates"`
	Ticks       int         `json:"ticks"`
	Pressed     bool        `json:"pressed"`
	Settings    S           `json:"settings"`
}

// TouchTapPayload is delivered with touchTap.
type TouchTapPayload[S any] struct {
	Controller  string      `json:"controller"`
	Coordinates Coordinates `json:"coordinates"`
	TapPos      [2]int      `json:"tapPos"`
	Hold        bool        `json:"hold"`
	Settings    S           `json:"settings"`
}
