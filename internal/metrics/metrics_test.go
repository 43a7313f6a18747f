package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.FileEvent("create")
	m.FileEvent("create")
	m.FileEvent("delete")
	m.Rename(OutcomeApplied)
	m.Rename(OutcomeDeclined)
	m.Discarded()
	m.Forwarded(ToServer)

	assert.InDelta(t, 2, testutil.ToFloat64(m.fileEvents.WithLabelValues("create")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fileEvents.WithLabelValues("delete")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.renames.WithLabelValues(OutcomeApplied)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.discarded), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.forwarded.WithLabelValues(ToServer)), 0)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.FileEvent("create")
		m.Rename(OutcomeFailed)
		m.Discarded()
		m.Forwarded(ToEditor)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Rename(OutcomeApplied)
	assert.InDelta(t, 0, testutil.ToFloat64(b.renames.WithLabelValues(OutcomeApplied)), 0)
}

func TestServe(t *testing.T) {
	m := New()
	m.Rename(OutcomeSkipped)

	srv, err := Serve(context.Background(), "127.0.0.1:0", m)
	require.NoError(t, err)
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `lsp_typescript_renames_total{outcome="skipped"} 1`))

	health, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
