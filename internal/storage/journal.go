package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RelayEntry is one broker decision. The journal is history for operators;
// the broker never reads it back, so routing state does not survive restarts.
type RelayEntry struct {
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	Verb      string    `json:"verb"`
	RelayID   string    `json:"relay_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Args      []string  `json:"args,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RelayJournal appends and lists broker decisions.
type RelayJournal struct {
	db  *sql.DB
	now func() time.Time
}

func NewRelayJournal(db *sql.DB) *RelayJournal {
	return &RelayJournal{db: db, now: time.Now}
}

// Append stores e. CreatedAt defaults to now.
func (j *RelayJournal) Append(ctx context.Context, e RelayEntry) error {
	if e.SessionID == "" || e.Verb == "" || e.Outcome == "" {
		return fmt.Errorf("relay entry requires session, verb and outcome")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	args := e.Args
	if args == nil {
		args = []string{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal relay args: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO relay_journal(session_id, verb, relay_id, outcome, args, created_at)
VALUES(?, ?, ?, ?, ?, ?);`,
		e.SessionID, e.Verb, nullIfEmpty(e.RelayID), e.Outcome, string(raw), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert relay entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty relayID lists
// every identifier.
func (j *RelayJournal) Recent(ctx context.Context, relayID string, limit int) ([]RelayEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT seq, session_id, verb, relay_id, outcome, args, created_at FROM relay_journal`
	args := []any{}
	if relayID != "" {
		query += ` WHERE relay_id = ?`
		args = append(args, relayID)
	}
	query += ` ORDER BY seq DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relay journal: %w", err)
	}
	defer rows.Close()

	var out []RelayEntry
	for rows.Next() {
		var (
			e       RelayEntry
			relay   sql.NullString
			rawArgs string
			created string
		)
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.Verb, &relay, &e.Outcome, &rawArgs, &created); err != nil {
			return nil, fmt.Errorf("scan relay entry: %w", err)
		}
		e.RelayID = relay.String
		if err := json.Unmarshal([]byte(rawArgs), &e.Args); err != nil {
			return nil, fmt.Errorf("decode relay args for seq %d: %w", e.Seq, err)
		}
		if len(e.Args) == 0 {
			e.Args = nil
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse relay entry time for seq %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
