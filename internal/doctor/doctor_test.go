package doctor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/deckrelay/internal/action"
	"github.com/mattjoyce/deckrelay/internal/config"
	"github.com/mattjoyce/deckrelay/internal/demo"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Relay.JournalPath = filepath.Join(t.TempDir(), "relay.db")
	return cfg
}

func demoRegistry(t *testing.T) *action.Registry {
	t.Helper()
	reg, err := demo.Registry()
	if err != nil {
		t.Fatalf("demo.Registry: %v", err)
	}
	return reg
}

type otherSettings struct {
	Label string `json:"label"`
}

// mismatched handles keyDown for otherSettings but is registered with
// NoSettings.
type mismatched struct {
	action.Base[otherSettings]
}

func (m *mismatched) OnKeyDown(context.Context, string, action.KeyPayload[otherSettings]) error {
	return nil
}

// silent has a handler but no way to raise an alert.
type silent struct{}

func (silent) Attach(string, action.Outbound) {}

func (silent) OnKeyDown(context.Context, string, action.KeyPayload[action.NoSettings]) error {
	return nil
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), demoRegistry(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingServiceName(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Service.Name = " "
	r := New(cfg, nil).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "service", "service.name")
}

func TestValidate_RelayTimings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Relay.ProbeTimeout = 5 * time.Second
	cfg.Relay.RetryBackoff = time.Second
	r := New(cfg, nil).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "relay", "not shorter than retry_backoff")

	cfg.Relay.RetryBackoff = 0
	r = New(cfg, nil).Validate()
	assertHasError(t, r, "relay", "retry_backoff must be positive")
}

func TestValidate_RelayPortWindow(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Relay.BasePort = 65530
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "relay", "fewer than")
}

func TestValidate_NonLoopbackHosts(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Relay.Host = "0.0.0.0"
	cfg.Transport.Host = "10.0.0.2"
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "relay", "not loopback")
	assertHasWarning(t, r, "transport", "not loopback")
}

func TestValidate_JournalMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Relay.JournalPath = ""
	r := New(cfg, nil).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "journal", "not recorded")
}

func TestValidate_APIListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:9000"
	r := New(cfg, nil).Validate()
	assertHasError(t, r, "api", "loopback")

	cfg.API.Listen = "nonsense"
	r = New(cfg, nil).Validate()
	assertHasError(t, r, "api", "invalid listen address")

	cfg.API.Listen = ""
	r = New(cfg, nil).Validate()
	assertHasError(t, r, "api", "required")
}

func TestValidate_APITokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	r := New(cfg, nil).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "without tokens")

	cfg.API.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"*"}},
		{Token: "b", Scopes: []string{"relay:ro"}},
	}
	r = New(cfg, nil).Validate()
	assertHasWarning(t, r, "api", "wildcard scope")
}

func TestValidate_ActionSettingsMismatch(t *testing.T) {
	t.Parallel()
	reg, err := action.NewRegistry([]action.Descriptor{
		action.Define[action.NoSettings]("Mismatched", func() action.Instance { return &mismatched{} }),
	}, action.StandardEvents())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r := New(validConfig(t), reg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "actions", "binds no events")
}

func TestValidate_ActionWithoutAlert(t *testing.T) {
	t.Parallel()
	reg, err := action.NewRegistry([]action.Descriptor{
		action.Define[action.NoSettings]("Silent", func() action.Instance { return silent{} }),
	}, action.StandardEvents())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r := New(validConfig(t), reg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "actions", "cannot show an alert")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true, Warnings: []Issue{{Category: "journal", Message: "w"}}}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"journal"`) {
		t.Fatalf("unexpected JSON: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message+" "+e.Field, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
