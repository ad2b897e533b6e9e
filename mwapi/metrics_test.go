package mwapi

import (
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountRequestsAndRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch n := calls.Add(1); {
		case n == 1:
			writeAPIError(w, "maxlag", "Waiting")
		case n == 2:
			writeJSON(w, map[string]any{"query": map[string]any{"list": []any{1}}, "continue": map[string]any{"c": "1"}})
		default:
			writeJSON(w, map[string]any{"query": map[string]any{"list": []any{2}}})
		}
	})

	reg := prometheus.NewRegistry()
	c, ctx := newTestClient(t, srv, WithMetrics(reg))
	_, err := c.QueryAll(ctx, Params{"list": "x"})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.requests.WithLabelValues(http.MethodGet, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.retries.WithLabelValues("maxlag")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.pages))

	_, err = c.GetToken(ctx, TokenCSRF)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.tokenFetches.WithLabelValues("csrf")))
}

func TestMetrics_SharedRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a := New("https://example.org/w/api.php", WithMetrics(reg))
	b := New("https://example.org/w/api.php", WithMetrics(reg))

	a.metrics.login("success")
	b.metrics.login("success")
	assert.Equal(t, 2.0, testutil.ToFloat64(a.metrics.logins.WithLabelValues("success")))

	var none *clientMetrics
	assert.NotPanics(t, func() { none.request(http.MethodGet, "ok") })
}

func TestMetrics_RegistrationConflictFailsNewClient(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "requests_total",
		Help:      "Conflicting collector without labels.",
	}))

	_, err := NewClient("https://example.org/w/api.php", WithMetrics(reg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register metrics")
}
