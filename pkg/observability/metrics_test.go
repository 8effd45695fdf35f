package observability

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsDisabledReturnsNil(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewMetricsNilConfigReturnsNil(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewMetricsAppliesDefaults(t *testing.T) {
	cfg := &MetricsConfig{Enabled: true}
	m, err := NewMetrics(cfg)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "pipeline_orchestrator", cfg.Namespace)
}

func TestMetricsRecordTransitionIncrementsCounter(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	m.RecordTransition("idle", "planning")

	count := testutilCounterValue(t, m.Handler(), "test_pipeline_transitions_total")
	assert.Equal(t, 1, count)
}

func TestMetricsRecordFailureIncrementsCounter(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	m.RecordFailure("transient", "low")

	count := testutilCounterValue(t, m.Handler(), "test_pipeline_failures_total")
	assert.Equal(t, 1, count)
}

func TestMetricsRecordRecoveryStrategyIncrementsCounter(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	m.RecordRecoveryStrategy("retry", true)

	count := testutilCounterValue(t, m.Handler(), "test_pipeline_recovery_strategy_total")
	assert.Equal(t, 1, count)
}

func TestMetricsNilReceiverMethodsDoNotPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("a", "b")
		m.RecordFailure("a", "b")
		m.RecordRecoveryStrategy("a", true)
		assert.Nil(t, m.Registry())
	})
}

func TestMetricsNilHandlerReturnsServiceUnavailable(t *testing.T) {
	var m *Metrics
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// testutilCounterValue scrapes the metrics handler's plaintext output and
// sums the sample values of the given metric name across all label sets,
// avoiding a direct client_golang/prometheus/testutil dependency not used
// elsewhere in the tree.
func testutilCounterValue(t *testing.T, handler http.Handler, metricName string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, metricName)
	var sum float64
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, metricName) {
			continue
		}
		fields := strings.Fields(line)
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		require.NoError(t, err)
		sum += v
	}
	return int(sum)
}
