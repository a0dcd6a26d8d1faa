package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		checkFn func(t *testing.T, env *Envelope)
	}{
		{
			name:  "valid envelope",
			input: `{"action":"com.example.counter","event":"keyDown","context":"ctx1","payload":{"state":1}}`,
			checkFn: func(t *testing.T, env *Envelope) {
				if env.Action != "com.example.counter" {
					t.Errorf("action = %q", env.Action)
				}
				if env.Event != "keyDown" {
					t.Errorf("event = %q", env.Event)
				}
				if env.Context != "ctx1" {
					t.Errorf("context = %q", env.Context)
				}
				if string(env.Payload) != `{"state":1}` {
					t.Errorf("payload = %s", env.Payload)
				}
			},
		},
		{
			name:  "extra fields tolerated",
			input: `{"action":"a","event":"e","context":"c","device":"dev1","payload":{}}`,
			checkFn: func(t *testing.T, env *Envelope) {
				if env.Action != "a" {
					t.Errorf("action = %q", env.Action)
				}
			},
		},
		{
			name:  "empty strings are present",
			input: `{"action":"","event":"","context":"","payload":{}}`,
			checkFn: func(t *testing.T, env *Envelope) {
				if env.Action != "" || env.Context != "" {
					t.Errorf("unexpected values: %+v", env)
				}
			},
		},
		{name: "invalid json", input: `{"action":`, wantErr: "invalid JSON"},
		{name: "missing action", input: `{"event":"e","context":"c","payload":{}}`, wantErr: "action"},
		{name: "missing event", input: `{"action":"a","context":"c","payload":{}}`, wantErr: "event"},
		{name: "missing context", input: `{"action":"a","event":"e","payload":{}}`, wantErr: "context"},
		{name: "missing payload", input: `{"action":"a","event":"e","context":"c"}`, wantErr: "payload"},
		{name: "null payload", input: `{"action":"a","event":"e","context":"c","payload":null}`, wantErr: "payload"},
		{name: "array payload", input: `{"action":"a","event":"e","context":"c","payload":[]}`, wantErr: "not an object"},
		{name: "non-string action", input: `{"action":5,"event":"e","context":"c","payload":{}}`, wantErr: "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.input))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !errors.Is(err, ErrDecode) {
					t.Errorf("error should match ErrDecode: %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, env)
			}
		})
	}
}

func TestEncodeRegistration(t *testing.T) {
	data, err := EncodeRegistration("registerPlugin", "uuid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"event":"registerPlugin","uuid":"uuid-1"}` {
		t.Errorf("unexpected registration: %s", data)
	}

	if _, err := EncodeRegistration("", "uuid-1"); err == nil {
		t.Error("expected error for empty register event")
	}
}

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		want    string
		wantErr bool
	}{
		{
			name: "title",
			ev: Event{
				Event:   EventSetTitle,
				Context: "ctx1",
				Payload: TitlePayload{Title: "7", Target: TargetHardware},
			},
			want: `{"event":"setTitle","context":"ctx1","payload":{"title":"7","target":1,"state":0}}`,
		},
		{
			name: "alert has no payload",
			ev:   Event{Event: EventShowAlert, Context: "ctx1"},
			want: `{"event":"showAlert","context":"ctx1"}`,
		},
		{
			name:    "missing name",
			ev:      Event{Context: "ctx1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.ev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !json.Valid(data) {
				t.Fatalf("invalid JSON: %s", data)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}
