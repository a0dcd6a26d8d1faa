// Package doctor checks a deckrelay configuration and action table for
// problems that load-time validation lets through.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/mattjoyce/deckrelay/internal/action"
	"github.com/mattjoyce/deckrelay/internal/auth"
	"github.com/mattjoyce/deckrelay/internal/config"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// probeWindow is how many ports past base_port a busy machine may need.
const probeWindow = 16

// Doctor validates configuration against the action registry.
type Doctor struct {
	cfg      *config.Config
	registry *action.Registry
}

// New creates a Doctor. registry may be nil to skip action checks.
func New(cfg *config.Config, registry *action.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateRelayConfig(r)
	d.validateJournal(r)
	d.validateTransportConfig(r)
	d.validateAPIConfig(r)
	d.validateActions(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if strings.TrimSpace(d.cfg.Service.Name) == "" {
		d.addError(r, "service", "service.name", "service.name is required")
	}
}

func (d *Doctor) validateRelayConfig(r *Result) {
	rc := d.cfg.Relay
	if rc.ProbeTimeout <= 0 {
		d.addError(r, "relay", "relay.probe_timeout", "probe_timeout must be positive")
	}
	if rc.RetryBackoff <= 0 {
		d.addError(r, "relay", "relay.retry_backoff", "retry_backoff must be positive")
	}
	if rc.ProbeTimeout > 0 && rc.RetryBackoff > 0 && rc.ProbeTimeout >= rc.RetryBackoff {
		d.addWarning(r, "relay", "relay.probe_timeout",
			fmt.Sprintf("probe_timeout %s is not shorter than retry_backoff %s; requesters will spend most retries probing", rc.ProbeTimeout, rc.RetryBackoff))
	}
	if rc.BasePort+probeWindow > 65535 {
		d.addWarning(r, "relay", "relay.base_port",
			fmt.Sprintf("base_port %d leaves fewer than %d ports to escalate through", rc.BasePort, probeWindow))
	}
	if !isLoopback(rc.Host) {
		d.addWarning(r, "relay", "relay.host",
			fmt.Sprintf("relay host %q is not loopback; any peer that reaches it can read launch args", rc.Host))
	}
}

func (d *Doctor) validateJournal(r *Result) {
	path := d.cfg.Relay.JournalPath
	if path == "" {
		d.addWarning(r, "journal", "relay.journal_path", "no journal configured; broker decisions are not recorded")
		return
	}
	if err := storage.CheckJournalPath(path); err != nil {
		d.addError(r, "journal", "relay.journal_path", err.Error())
	}
}

func (d *Doctor) validateTransportConfig(r *Result) {
	tc := d.cfg.Transport
	if tc.ReadChunk < 1 {
		d.addError(r, "transport", "transport.read_chunk", "read_chunk must be positive")
	}
	if tc.HandshakeTimeout <= 0 {
		d.addWarning(r, "transport", "transport.handshake_timeout", "no handshake timeout; a silent host blocks startup")
	}
	if !isLoopback(tc.Host) {
		d.addWarning(r, "transport", "transport.host",
			fmt.Sprintf("transport host %q is not loopback; the host application normally listens on localhost only", tc.Host))
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if !isLoopback(host) {
		d.addError(r, "api", "api.listen", "the inspection API must listen on loopback")
	}
	if len(d.cfg.API.Tokens) == 0 {
		d.addWarning(r, "api", "api.tokens", "API enabled without tokens; any local process can read relay records")
	}
	for i, tok := range d.cfg.API.Tokens {
		for _, scope := range tok.Scopes {
			if scope == auth.ScopeAll && len(d.cfg.API.Tokens) > 1 {
				d.addWarning(r, "api", fmt.Sprintf("api.tokens[%d].scopes", i), "wildcard scope alongside narrower tokens; prefer explicit scopes")
			}
		}
	}
}

// validateActions flags actions whose handlers were written for a different
// settings type than the one they were registered with. Such an action binds
// only settings-independent events.
func (d *Doctor) validateActions(r *Result) {
	if d.registry == nil {
		return
	}
	events := d.registry.Events()
	for _, desc := range d.registry.Actions() {
		field := fmt.Sprintf("actions.%s", desc.ID)
		inst := desc.New()

		typed := 0
		for _, ev := range events {
			if ev.Kind == action.KindSendToPlugin {
				continue
			}
			if _, ok := desc.Bind(ev.Kind, inst); ok {
				typed++
			}
		}
		if typed == 0 {
			d.addError(r, "actions", field,
				fmt.Sprintf("action %q binds no events with settings %s; check the type passed to Define", desc.Name, desc.Settings))
		}
		if _, ok := inst.(action.Alerter); !ok {
			d.addWarning(r, "actions", field,
				fmt.Sprintf("action %q cannot show an alert; handler failures are only logged", desc.Name))
		}
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
