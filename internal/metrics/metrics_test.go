package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEnvelope(t *testing.T) {
	m := New()
	m.RecordEnvelope(ResultDispatched, 0.01)
	m.RecordEnvelope(ResultDispatched, 0.02)
	m.RecordEnvelope(ResultDecodeError, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EnvelopesTotal.WithLabelValues(ResultDispatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnvelopesTotal.WithLabelValues(ResultDecodeError)))
}

func TestRelayCollectors(t *testing.T) {
	m := New()
	m.RecordRelayMessage("BCST")
	m.RecordRelayMatch()
	m.RecordRelayPending(3, 1)
	m.RecordRelaySession(1)
	m.RecordRelaySession(1)
	m.RecordRelaySession(-1)
	m.RecordRelayProbe("requester", "timeout")
	m.RecordRouters(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayMessages.WithLabelValues("BCST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayMatches))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RelayPending.WithLabelValues("records")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayPending.WithLabelValues("requesters")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelaySessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayProbes.WithLabelValues("requester", "timeout")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Routers))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEnvelope(ResultDispatched, 1)
		m.RecordRouters(1)
		m.RecordRelayMessage("RQST")
		m.RecordRelayMatch()
		m.RecordRelayPending(1, 1)
		m.RecordRelaySession(1)
		m.RecordRelayProbe("broadcaster", "accepted")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordRelayMatch()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "deckrelay_relay_matches_total 1"))
}
