// Package e2e drives a relay handoff into a live dispatch session against a
// fake host.
package e2e

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deckrelay/internal/demo"
	"github.com/mattjoyce/deckrelay/internal/dispatch"
	"github.com/mattjoyce/deckrelay/internal/events"
	"github.com/mattjoyce/deckrelay/internal/inspect"
	"github.com/mattjoyce/deckrelay/internal/launch"
	"github.com/mattjoyce/deckrelay/internal/metrics"
	"github.com/mattjoyce/deckrelay/internal/protocol"
	"github.com/mattjoyce/deckrelay/internal/relay"
	"github.com/mattjoyce/deckrelay/internal/storage"
	"github.com/mattjoyce/deckrelay/internal/transport"
)

// scriptedHost accepts one plugin, plays presses and records replies.
type scriptedHost struct {
	srv     *httptest.Server
	regs    chan protocol.Registration
	replies chan map[string]any
}

func newScriptedHost(t *testing.T, presses ...string) *scriptedHost {
	t.Helper()
	h := &scriptedHost{
		regs:    make(chan protocol.Registration, 1),
		replies: make(chan map[string]any, len(presses)),
	}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var reg protocol.Registration
		if err := ws.ReadJSON(&reg); err != nil {
			return
		}
		h.regs <- reg

		for _, press := range presses {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(press)); err != nil {
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
			var out map[string]any
			if err := ws.ReadJSON(&out); err != nil {
				return
			}
			h.replies <- out
		}
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *scriptedHost) port(t *testing.T) int {
	t.Helper()
	_, p, err := net.SplitHostPort(strings.TrimPrefix(h.srv.URL, "http://"))
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func press(actionName, contextID, settings string) string {
	return `{"action":"` + demo.Namespace + actionName + `","event":"keyDown","context":"` + contextID +
		`","device":"dev","payload":{"settings":` + settings + `,"coordinates":{"column":0,"row":0},"state":0,"isInMultiAction":false}}`
}

func TestRelayHandoffIntoDispatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	host := newScriptedHost(t,
		press("RandomNumber", "ctx-roll", `{"minimum":4,"maximum":4}`),
		press("ThrowError", "ctx-fail", `{}`),
	)

	db, err := storage.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	journal := storage.NewRelayJournal(db)
	hub := events.NewHub(64)
	m := metrics.New()

	opts := relay.Options{
		Host:         "127.0.0.1",
		BasePort:     freePort(t),
		ProbeTimeout: 500 * time.Millisecond,
		RetryBackoff: 50 * time.Millisecond,
		Metrics:      m,
	}

	// The broadcaster finds no broker and hosts one seeded with its args.
	want := launch.Params{Port: host.port(t), PluginUUID: "E2E-UUID", RegisterEvent: "registerPlugin"}
	announcement, err := relay.NewBroadcaster(relay.Record{ID: "deck", Args: want.Args()}, opts,
		relay.WithJournal(journal),
		relay.WithPublisher(hub),
		relay.WithMetrics(m),
		relay.WithValidator(func(args []string) error {
			_, err := launch.Parse(args)
			return err
		}),
	).Announce(ctx)
	require.NoError(t, err)
	require.True(t, announcement.SelfElected())

	args, err := relay.NewRequester("deck", opts).Request(ctx)
	require.NoError(t, err)
	got, err := launch.Parse(args)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Empty(t, announcement.Broker.Pending().Records, "a record is handed over at most once")

	reg, err := demo.Registry()
	require.NoError(t, err)
	conn := transport.New(got, transport.Options{Host: "127.0.0.1"})
	engine := dispatch.NewEngine(reg, conn, dispatch.WithPublisher(hub), dispatch.WithMetrics(m))
	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Run(ctx, engine))

	select {
	case r := <-host.regs:
		assert.Equal(t, "registerPlugin", r.Event)
		assert.Equal(t, "E2E-UUID", r.UUID)
	default:
		t.Fatal("plugin never registered")
	}

	first := <-host.replies
	assert.Equal(t, "setTitle", first["event"])
	assert.Equal(t, "ctx-roll", first["context"])
	assert.Equal(t, "4", first["payload"].(map[string]any)["title"])

	second := <-host.replies
	assert.Equal(t, "showAlert", second["event"])
	assert.Equal(t, "ctx-fail", second["context"])

	assert.Empty(t, engine.Routers(), "routers are dropped with the connection")

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, events.TypeRelayMatched)
	assert.Contains(t, types, events.TypeHandlerError)

	out, err := inspect.BuildJSONReport(ctx, journal, "deck", 10)
	require.NoError(t, err)
	var report inspect.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Handoffs, 1)
	assert.Equal(t, "matched", report.Handoffs[0].Mode)
	assert.Equal(t, want.Args(), report.Handoffs[0].Args)

	cancel()
	assert.NoError(t, announcement.Wait())
}
