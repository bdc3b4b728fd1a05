package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, name, label, value string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestHandlerExposesCollectors(t *testing.T) {
	before := counterValue(t, "evalworker_sessions_total", "result", "ready")
	Sessions.WithLabelValues("ready").Inc()
	require.Equal(t, before+1, counterValue(t, "evalworker_sessions_total", "result", "ready"))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	for _, name := range []string{
		"evalworker_sessions_total",
		"evalworker_sessions_active",
		"evalworker_lock_wait_seconds",
		"evalworker_lock_timeouts_total",
	} {
		require.Contains(t, string(body), name)
	}
}
