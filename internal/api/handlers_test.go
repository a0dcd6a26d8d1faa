package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deckrelay/internal/auth"
	"github.com/mattjoyce/deckrelay/internal/dispatch"
	"github.com/mattjoyce/deckrelay/internal/events"
	"github.com/mattjoyce/deckrelay/internal/metrics"
	"github.com/mattjoyce/deckrelay/internal/relay"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

type stubBroker struct{ pending relay.Pending }

func (s stubBroker) Pending() relay.Pending { return s.pending }

type stubRouters struct{ keys []dispatch.ContextKey }

func (s stubRouters) Routers() []dispatch.ContextKey { return s.keys }

type stubJournal struct {
	entries []storage.RelayEntry
	err     error
	gotID   string
	gotN    int
}

func (s *stubJournal) Recent(_ context.Context, relayID string, limit int) ([]storage.RelayEntry, error) {
	s.gotID, s.gotN = relayID, limit
	return s.entries, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s := New(Config{
		Fingerprint: "abc123",
		Broker: stubBroker{relay.Pending{
			Records:    []relay.Record{{ID: "a"}, {ID: "b"}},
			Requesters: []string{"c"},
		}},
		Routers: stubRouters{keys: []dispatch.ContextKey{{ContextID: "x", ActionID: "y"}}},
	}, testLogger())

	rr := do(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "abc123", resp.ConfigHash)
	assert.Equal(t, 1, resp.Routers)
	assert.Equal(t, 2, resp.PendingRecord)
	assert.Equal(t, 1, resp.Waiting)
}

func TestHealthzWithoutSources(t *testing.T) {
	rr := do(t, New(Config{}, testLogger()).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMissingSourcesAre404(t *testing.T) {
	h := New(Config{}, testLogger()).Handler()
	for _, path := range []string{"/routers", "/relay/pending", "/relay/journal", "/events", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusNotFound, do(t, h, path).Code)
		})
	}
}

func TestPending(t *testing.T) {
	want := relay.Pending{Records: []relay.Record{{ID: "foo", Args: []string{"x"}}}, Requesters: []string{}}
	rr := do(t, New(Config{Broker: stubBroker{want}}, testLogger()).Handler(), "/relay/pending")
	require.Equal(t, http.StatusOK, rr.Code)

	var got relay.Pending
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, want, got)
}

func TestRouters(t *testing.T) {
	rr := do(t, New(Config{Routers: stubRouters{}}, testLogger()).Handler(), "/routers")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"routers":[]}`, rr.Body.String())
}

func TestJournal(t *testing.T) {
	j := &stubJournal{entries: []storage.RelayEntry{{Seq: 2, SessionID: "s", Verb: "RQST", RelayID: "foo", Outcome: "matched"}}}
	h := New(Config{Journal: j}, testLogger()).Handler()

	rr := do(t, h, "/relay/journal/foo?limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "foo", j.gotID)
	assert.Equal(t, 5, j.gotN)

	var resp JournalResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "matched", resp.Entries[0].Outcome)

	rr = do(t, h, "/relay/journal")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "", j.gotID)
	assert.Equal(t, 50, j.gotN)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "/relay/journal?limit=abc").Code)

	j.err = errors.New("disk gone")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, "/relay/journal").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.RecordRelayMatch()
	rr := do(t, New(Config{Metrics: m.Handler()}, testLogger()).Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "deckrelay_relay_matches_total 1")
}

func TestEventsStream(t *testing.T) {
	hub := events.NewHub(8)
	hub.Publish(events.TypeRelayBroadcast, "foo", map[string]any{"args": []string{"x"}})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(Config{Events: hub}, testLogger())
	go func() { _ = s.Serve(ctx, ln) }()

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+ln.Addr().String()+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	var frame []string
	for len(frame) < 3 {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		frame = append(frame, strings.TrimSpace(line))
	}
	assert.Equal(t, "id: 1", frame[0])
	assert.Equal(t, "event: "+events.TypeRelayBroadcast, frame[1])
	assert.JSONEq(t, `{"subject":"foo","data":{"args":["x"]}}`, strings.TrimPrefix(frame[2], "data: "))

	hub.Publish(events.TypeRelayMatched, "", nil)
	frame = frame[:0]
	for len(frame) < 4 {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		frame = append(frame, strings.TrimSpace(line))
	}
	assert.Equal(t, []string{"", "id: 2", "event: " + events.TypeRelayMatched, "data: {}"}, frame)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}

func TestTokenScopes(t *testing.T) {
	h := New(Config{
		Broker:  stubBroker{},
		Routers: stubRouters{},
		Tokens: []auth.TokenConfig{
			{Token: "relay-reader", Scopes: []string{auth.ScopeRelay}},
			{Token: "admin", Scopes: []string{auth.ScopeAll}},
		},
	}, testLogger()).Handler()

	get := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, get("/healthz", ""), "healthz stays open")
	assert.Equal(t, http.StatusUnauthorized, get("/relay/pending", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/relay/pending", "wrong"))
	assert.Equal(t, http.StatusOK, get("/relay/pending", "relay-reader"))
	assert.Equal(t, http.StatusForbidden, get("/routers", "relay-reader"))
	assert.Equal(t, http.StatusOK, get("/routers", "admin"))
}
