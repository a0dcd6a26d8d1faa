// Package inspect renders the relay journal as a handoff report: which
// broadcaster session delivered launch args to which requester session.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/deckrelay/internal/relay"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

// Source lists journal entries newest first.
type Source interface {
	Recent(ctx context.Context, relayID string, limit int) ([]storage.RelayEntry, error)
}

// Report is the structured JSON representation of a handoff report.
type Report struct {
	RelayID  string         `json:"relay_id,omitempty"`
	Entries  int            `json:"entries"`
	Outcomes map[string]int `json:"outcomes"`
	Handoffs []Handoff      `json:"handoffs"`
	// Pending lists identifiers still stored or waiting at the end of the window.
	Pending []Pending `json:"pending"`
}

// Handoff is one delivery of launch args.
type Handoff struct {
	RelayID     string    `json:"relay_id"`
	Broadcaster string    `json:"broadcaster"`
	Requester   string    `json:"requester"`
	Mode        string    `json:"mode"`
	Args        []string  `json:"args,omitempty"`
	At          time.Time `json:"at"`
}

// Pending is a record or requester the window ends on.
type Pending struct {
	RelayID string `json:"relay_id"`
	Side    string `json:"side"`
	Session string `json:"session"`
}

const unknownSession = "<before window>"

// BuildReport renders a terminal-friendly handoff report.
func BuildReport(ctx context.Context, src Source, relayID string, limit int) (string, error) {
	report, err := gatherReportData(ctx, src, relayID, limit)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Relay Handoff Report\n")
	fmt.Fprintf(&out, "Relay ID    : %s\n", renderUnset(report.RelayID, "<all>"))
	fmt.Fprintf(&out, "Entries     : %d\n", report.Entries)
	fmt.Fprintf(&out, "Outcomes    : %s\n", renderCounts(report.Outcomes))
	fmt.Fprintf(&out, "Handoffs    : %d\n", len(report.Handoffs))
	fmt.Fprintf(&out, "\n")

	for i, h := range report.Handoffs {
		fmt.Fprintf(&out, "[%d] %s (%s)\n", i+1, h.RelayID, h.Mode)
		fmt.Fprintf(&out, "    at          : %s\n", h.At.UTC().Format(time.RFC3339))
		fmt.Fprintf(&out, "    broadcaster : %s\n", h.Broadcaster)
		fmt.Fprintf(&out, "    requester   : %s\n", h.Requester)
		if len(h.Args) == 0 {
			fmt.Fprintf(&out, "    args        : <none>\n")
		} else {
			fmt.Fprintf(&out, "    args        : %s\n", strings.Join(h.Args, " "))
		}
		fmt.Fprintf(&out, "\n")
	}

	if len(report.Pending) > 0 {
		fmt.Fprintf(&out, "Pending\n")
		for _, p := range report.Pending {
			fmt.Fprintf(&out, "  %-9s %s (session %s)\n", p.Side, p.RelayID, p.Session)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable handoff report.
func BuildJSONReport(ctx context.Context, src Source, relayID string, limit int) (string, error) {
	report, err := gatherReportData(ctx, src, relayID, limit)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// gatherReportData replays the window oldest first. Sessions that acted
// before the window are reported as unknown rather than guessed.
func gatherReportData(ctx context.Context, src Source, relayID string, limit int) (*Report, error) {
	entries, err := src.Recent(ctx, relayID, limit)
	if err != nil {
		return nil, fmt.Errorf("load relay journal: %w", err)
	}

	report := &Report{
		RelayID:  relayID,
		Entries:  len(entries),
		Outcomes: make(map[string]int),
		Handoffs: make([]Handoff, 0),
		Pending:  make([]Pending, 0),
	}

	stored := make(map[string]string)  // relay id -> broadcaster session
	waiting := make(map[string]string) // relay id -> requester session

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		report.Outcomes[e.Outcome]++

		switch {
		case e.Verb == relay.VerbBroadcast && e.Outcome == relay.OutcomeStored:
			stored[e.RelayID] = e.SessionID
		case e.Verb == relay.VerbBroadcast && e.Outcome == relay.OutcomePushed:
			report.Handoffs = append(report.Handoffs, Handoff{
				RelayID:     e.RelayID,
				Broadcaster: e.SessionID,
				Requester:   takeOr(waiting, e.RelayID),
				Mode:        "pushed",
				Args:        e.Args,
				At:          e.CreatedAt,
			})
		case e.Verb == relay.VerbRequest && e.Outcome == relay.OutcomeWaiting:
			waiting[e.RelayID] = e.SessionID
		case e.Verb == relay.VerbRequest && e.Outcome == relay.OutcomeMatched:
			report.Handoffs = append(report.Handoffs, Handoff{
				RelayID:     e.RelayID,
				Broadcaster: takeOr(stored, e.RelayID),
				Requester:   e.SessionID,
				Mode:        "matched",
				Args:        e.Args,
				At:          e.CreatedAt,
			})
		case e.Outcome == relay.OutcomeClosed:
			// A waiting requester that hangs up is no longer pending.
			for id, sess := range waiting {
				if sess == e.SessionID {
					delete(waiting, id)
				}
			}
		}
	}

	for id, sess := range stored {
		report.Pending = append(report.Pending, Pending{RelayID: id, Side: "record", Session: sess})
	}
	for id, sess := range waiting {
		report.Pending = append(report.Pending, Pending{RelayID: id, Side: "requester", Session: sess})
	}
	sort.Slice(report.Pending, func(i, j int) bool {
		if report.Pending[i].RelayID != report.Pending[j].RelayID {
			return report.Pending[i].RelayID < report.Pending[j].RelayID
		}
		return report.Pending[i].Side < report.Pending[j].Side
	})

	return report, nil
}

func takeOr(m map[string]string, key string) string {
	v, ok := m[key]
	if !ok {
		return unknownSession
	}
	delete(m, key)
	return v
}

func renderCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "<none>"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
