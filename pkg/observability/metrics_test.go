package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesFamilies(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.LoginAttemptsTotal.WithLabelValues("success").Inc()
	m.AuthFailuresTotal.WithLabelValues("bearer").Inc()
	m.CredentialsSweptTotal.Add(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `metricat_login_attempts_total{result="success"} 1`)
	assert.Contains(t, body, `metricat_auth_failures_total{credential="bearer"} 1`)
	assert.Contains(t, body, "metricat_credentials_swept_total 4")
}

func TestObserveStoreOperation(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveStoreOperation("find_user", "postgres", nil, 3*time.Millisecond)
	m.ObserveStoreOperation("find_user", "postgres", errors.New("timeout"), time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `metricat_store_operations_total{backend="postgres",operation="find_user",status="success"} 1`)
	assert.Contains(t, body, `metricat_store_operations_total{backend="postgres",operation="find_user",status="error"} 1`)
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	m := NewMetrics(nil)

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `metricat_http_requests_total{method="GET",path="/brew",status="418"} 1`)
}
