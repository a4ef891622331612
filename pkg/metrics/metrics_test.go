package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialflow/resilience/pkg/resilience"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	m := NewMetrics(&Config{Namespace: "test", Enabled: true})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	// Go runtime collectors are present when enabled
	found := false
	for _, family := range families {
		if family.GetName() == "go_goroutines" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNewMetrics_Disabled(t *testing.T) {
	m := NewMetrics(&Config{Namespace: "test", Enabled: false})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestStateChangeHook(t *testing.T) {
	m := NewMetrics(&Config{Namespace: "test", Enabled: true})
	hook := m.StateChangeHook()

	hook("payments", resilience.StateClosed, resilience.StateOpen)
	hook("payments", resilience.StateClosed, resilience.StateOpen)
	hook("payments", resilience.StateOpen, resilience.StateHalfOpen)

	family := gatherFamily(t, m, "test_breaker_transitions_total")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 2)

	for _, metric := range family.GetMetric() {
		switch labelValue(metric, "to") {
		case "OPEN":
			assert.Equal(t, float64(2), metric.GetCounter().GetValue())
		case "HALF_OPEN":
			assert.Equal(t, float64(1), metric.GetCounter().GetValue())
		default:
			t.Fatalf("unexpected transition label: %v", metric)
		}
	}
}

func TestBreakerCollector(t *testing.T) {
	registry := resilience.NewRegistry()
	m := NewMetrics(&Config{Namespace: "test", Enabled: true})
	m.RegisterBreakers(registry)

	cb := registry.GetOrCreate("upstream", resilience.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	cb.Execute(func() (interface{}, error) { return "ok", nil })
	cb.Execute(func() (interface{}, error) { return nil, assert.AnError })
	cb.Execute(func() (interface{}, error) { return "ok", nil }) // rejected

	stateFamily := gatherFamily(t, m, "resilience_breaker_state")
	require.NotNil(t, stateFamily)
	require.Len(t, stateFamily.GetMetric(), 1)
	assert.Equal(t, "upstream", labelValue(stateFamily.GetMetric()[0], "name"))
	assert.Equal(t, float64(resilience.StateOpen), stateFamily.GetMetric()[0].GetGauge().GetValue())

	failures := gatherFamily(t, m, "resilience_breaker_failures_total")
	require.NotNil(t, failures)
	assert.Equal(t, float64(1), failures.GetMetric()[0].GetCounter().GetValue())

	successes := gatherFamily(t, m, "resilience_breaker_successes_total")
	require.NotNil(t, successes)
	assert.Equal(t, float64(1), successes.GetMetric()[0].GetCounter().GetValue())

	rejected := gatherFamily(t, m, "resilience_breaker_rejected_total")
	require.NotNil(t, rejected)
	assert.Equal(t, float64(1), rejected.GetMetric()[0].GetCounter().GetValue())
}

func TestBreakerCollector_TracksRegistryChanges(t *testing.T) {
	registry := resilience.NewRegistry()
	m := NewMetrics(&Config{Namespace: "test", Enabled: true})
	m.RegisterBreakers(registry)

	family := gatherFamily(t, m, "resilience_breaker_state")
	if family != nil {
		assert.Empty(t, family.GetMetric())
	}

	registry.GetOrCreate("late", resilience.Config{})

	family = gatherFamily(t, m, "resilience_breaker_state")
	require.NotNil(t, family)
	assert.Len(t, family.GetMetric(), 1)
}

func TestMiddleware(t *testing.T) {
	m := NewMetrics(&Config{Namespace: "test", Enabled: true})

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	family := gatherFamily(t, m, "test_http_requests_total")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)

	metric := family.GetMetric()[0]
	assert.Equal(t, "GET", labelValue(metric, "method"))
	assert.Equal(t, "/ping", labelValue(metric, "path"))
	assert.Equal(t, "200", labelValue(metric, "status_code"))
	assert.Equal(t, float64(3), metric.GetCounter().GetValue())
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := NewMetrics(&Config{Namespace: "test", Enabled: true})

	router := gin.New()
	router.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
