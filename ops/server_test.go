package ops

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/json"
	"github.com/leeforge/runtimekit/lifecycle"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/metrics"
	"github.com/leeforge/runtimekit/resilience"
)

// --- Test Helpers ---

func newTestServer(opts ...Option) *Server {
	return New("", append([]Option{WithLogger(logging.NewNop())}, opts...)...)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func passProvider(component string) metrics.Provider {
	return func(context.Context) metrics.Check {
		return metrics.Check{Component: component, Status: metrics.CheckPass}
	}
}

// --- Tests ---

func TestHealthEndpoint(t *testing.T) {
	agg := metrics.NewAggregator(metrics.WithHealthLogger(zap.NewNop()))
	agg.RegisterProvider("store", passProvider("store"))
	s := newTestServer(WithHealth(agg))

	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data metrics.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, metrics.Healthy, out.Data.Status)
	require.Len(t, out.Data.Checks, 1)
	assert.Equal(t, "store", out.Data.Checks[0].Component)
}

func TestHealthEndpointDegradedStaysOK(t *testing.T) {
	agg := metrics.NewAggregator(metrics.WithHealthLogger(zap.NewNop()))
	agg.RegisterProvider("cache", func(context.Context) metrics.Check {
		return metrics.Check{Component: "cache", Status: metrics.CheckWarn, Detail: "evicting"}
	})
	s := newTestServer(WithHealth(agg))

	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data metrics.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, metrics.Degraded, out.Data.Status)
}

func TestHealthEndpointUnhealthyIs503(t *testing.T) {
	agg := metrics.NewAggregator(metrics.WithHealthLogger(zap.NewNop()))
	agg.RegisterProvider("db", func(context.Context) metrics.Check {
		return metrics.Check{Component: "db", Status: metrics.CheckFail, Detail: "connection refused"}
	})
	s := newTestServer(WithHealth(agg))

	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out struct {
		Data metrics.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, metrics.Unhealthy, out.Data.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector(metrics.WithLogger(zap.NewNop()))
	collector.RecordTimer("db_query", 40*time.Millisecond, true, nil)
	collector.RecordCounter("events_published", 3, nil)
	s := newTestServer(WithCollector(collector))

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data metrics.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Data.Timers, "dbQuery")
	assert.Equal(t, float64(3), out.Data.Counters["eventsPublished"])
}

func TestPrometheusEndpoint(t *testing.T) {
	collector := metrics.NewCollector(metrics.WithLogger(zap.NewNop()))
	collector.RecordTimer("db_query", 40*time.Millisecond, true, nil)
	collector.RecordCounter("events_published", 3, nil)
	s := newTestServer(WithCollector(collector))

	rec := get(t, s, "/metrics/prometheus")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	body := rec.Body.String()
	assert.Contains(t, body, "events_published 3")
	assert.Contains(t, body, "db_query_count 1")
}

func TestErrorsEndpoints(t *testing.T) {
	h := apperrors.NewHandler(apperrors.WithLogger(zap.NewNop()))
	h.Record(apperrors.Timeout(2*time.Second), apperrors.Context{Op: "fetch", Component: "store"})
	s := newTestServer(WithErrorHandler(h))

	rec := get(t, s, "/errors/recent")
	require.Equal(t, http.StatusOK, rec.Code)

	var recent struct {
		Data []apperrors.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	require.Len(t, recent.Data, 1)
	assert.Equal(t, apperrors.KindTimeout, recent.Data[0].Kind)
	assert.Equal(t, "fetch", recent.Data[0].Op)

	rec = get(t, s, "/errors/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts struct {
		Data []apperrors.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Empty(t, alerts.Data)
}

func TestResourcesEndpoint(t *testing.T) {
	mgr := lifecycle.NewManager(lifecycle.WithLogger(zap.NewNop()))
	require.NoError(t, mgr.Register("cache.users", struct{}{}, lifecycle.WithType("cache")))
	s := newTestServer(WithResources(mgr))

	rec := get(t, s, "/resources")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data lifecycle.Statistics `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Data.Total)
	assert.Equal(t, 1, out.Data.States["registered"])
	assert.Equal(t, 1, out.Data.Types["cache"])
}

func TestBreakersEndpoint(t *testing.T) {
	set := resilience.NewBreakerSet(resilience.BreakerConfig{FailureThreshold: 1},
		resilience.WithLogger(zap.NewNop()))
	set.Get("redis").Execute(context.Background(), func(context.Context) error {
		return fmt.Errorf("down")
	})
	s := newTestServer(WithBreakers(set))

	rec := get(t, s, "/breakers")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data []resilience.BreakerStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "redis", out.Data[0].Name)
	assert.Equal(t, "open", out.Data[0].State)
}

func TestRequestIDPassthrough(t *testing.T) {
	agg := metrics.NewAggregator(metrics.WithHealthLogger(zap.NewNop()))
	agg.RegisterProvider("store", passProvider("store"))
	s := newTestServer(WithHealth(agg))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	var out struct {
		Meta Meta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "abc-123", out.Meta.TraceId)

	// Without a caller-provided id a fresh one is assigned.
	rec = get(t, s, "/healthz")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestTimerRecorded(t *testing.T) {
	collector := metrics.NewCollector(metrics.WithLogger(zap.NewNop()))
	s := newTestServer(WithCollector(collector))

	get(t, s, "/metrics")
	get(t, s, "/metrics")

	m, ok := collector.GetMetric(metrics.Key(requestTimer, nil))
	require.True(t, ok, "request timer should be recorded")
	assert.GreaterOrEqual(t, m.Count, uint64(2))
}

func TestUnconfiguredEndpointsReturn404(t *testing.T) {
	s := newTestServer()

	paths := []string{
		"/healthz",
		"/metrics",
		"/metrics/prometheus",
		"/errors/recent",
		"/errors/alerts",
		"/resources",
		"/breakers",
	}
	for _, path := range paths {
		rec := get(t, s, path)
		require.Equal(t, http.StatusNotFound, rec.Code, path)

		var out struct {
			Error *Error `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), path)
		require.NotNil(t, out.Error, path)
		assert.Equal(t, http.StatusNotFound, out.Error.Code, path)
	}
}

func TestServerStartShutdown(t *testing.T) {
	agg := metrics.NewAggregator(metrics.WithHealthLogger(zap.NewNop()))
	agg.RegisterProvider("store", passProvider("store"))
	s := New("127.0.0.1:0", WithLogger(logging.NewNop()), WithHealth(agg))

	require.NoError(t, s.Start(context.Background()))

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	require.NoError(t, s.Shutdown(context.Background()))
}
