package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiofs/jsonlog/internal/config"
	"github.com/maxiofs/jsonlog/internal/logging"
)

func newTestManager(t *testing.T) *metricsManager {
	t.Helper()
	manager, ok := NewManager(config.MetricsConfig{Enable: true, Path: "/metrics"}).(*metricsManager)
	require.True(t, ok)
	return manager
}

func TestNewManager(t *testing.T) {
	manager := NewManager(config.MetricsConfig{Enable: true, Path: "/metrics"})
	require.NotNil(t, manager)

	// Manager is not started yet, so it's not healthy
	assert.False(t, manager.IsHealthy())
}

func TestNewManager_Disabled(t *testing.T) {
	manager := NewManager(config.MetricsConfig{Enable: false})
	require.NotNil(t, manager)

	// Disabled manager should be noop
	_, ok := manager.(*noopManager)
	assert.True(t, ok, "disabled manager should be noopManager")
	assert.True(t, manager.IsHealthy())

	assert.NotPanics(t, func() {
		manager.RecordOperation(logging.OpAppend, nil)
		manager.RecordDropped(3)
		manager.ObserveSync(time.Millisecond)
		manager.RecordBackgroundTask("retention", time.Second, true)
	})

	rec := httptest.NewRecorder()
	manager.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordOperation(t *testing.T) {
	manager := newTestManager(t)

	manager.RecordOperation(logging.OpAppend, nil)
	manager.RecordOperation(logging.OpAppend, nil)
	manager.RecordOperation(logging.OpAppend, errors.New("disk full"))
	manager.RecordOperation(logging.OpTruncate, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(manager.storeOperationsTotal.WithLabelValues("append", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(manager.storeOperationsTotal.WithLabelValues("append", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(manager.storeOperationsTotal.WithLabelValues("truncate", "success")))
}

func TestRecordDropped(t *testing.T) {
	manager := newTestManager(t)

	manager.RecordDropped(4)
	manager.RecordDropped(0)
	manager.RecordDropped(-2)
	manager.RecordDropped(1)

	assert.Equal(t, 5.0, testutil.ToFloat64(manager.storeDroppedTotal))
}

func TestObserveSyncAndActiveOutputs(t *testing.T) {
	manager := newTestManager(t)

	manager.ObserveSync(2 * time.Millisecond)
	manager.UpdateActiveOutputs(3)

	assert.Equal(t, 1, testutil.CollectAndCount(manager.storeSyncDuration))
	assert.Equal(t, 3.0, testutil.ToFloat64(manager.activeOutputs))
}

func TestRecordBackgroundTask(t *testing.T) {
	manager := newTestManager(t)

	manager.RecordBackgroundTask("retention", 10*time.Millisecond, true)
	manager.RecordBackgroundTask("retention", 10*time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(manager.backgroundTasksTotal.WithLabelValues("retention", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(manager.backgroundTasksTotal.WithLabelValues("retention", "error")))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	manager := newTestManager(t)

	router := mux.NewRouter()
	router.Use(manager.Middleware())
	router.HandleFunc("/outputs/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	for _, name := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outputs/"+name, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		manager.httpRequestsTotal.WithLabelValues(http.MethodGet, "/outputs/{name}", "418")))
}

func TestMetricsHandlerExposesStoreMetrics(t *testing.T) {
	manager := newTestManager(t)
	manager.RecordOperation(logging.OpClear, nil)

	rec := httptest.NewRecorder()
	manager.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `jsonlog_store_operations_total{op="clear",result="success"} 1`)
	assert.Contains(t, string(body), "jsonlog_store_dropped_entries_total 0")
}

func TestManagerAsRecorder(t *testing.T) {
	manager := newTestManager(t)

	output, err := logging.OpenJSONFile(t.TempDir()+"/log.json", logging.WithRecorder(manager))
	require.NoError(t, err)

	output.Append(logging.NewLogEntry(time.Now(), "info", "Test", "counted"))
	require.NoError(t, output.Close())

	assert.Equal(t, 1.0, testutil.ToFloat64(manager.storeOperationsTotal.WithLabelValues("append", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(manager.storeOperationsTotal.WithLabelValues("close", "success")))
}

func TestStartStop(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.Start(context.Background()))
	assert.True(t, manager.IsHealthy())
	assert.Error(t, manager.Start(context.Background()))

	require.NoError(t, manager.Stop())
	assert.False(t, manager.IsHealthy())
	assert.Error(t, manager.Stop())
}
