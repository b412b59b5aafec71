package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/open-rails/phoneauth/core"
)

func TestObserveStep(t *testing.T) {
	m := New("phoneauth", prometheus.NewRegistry())
	m.ObserveStep(core.StepVerifyChallenge, core.ResultInvalidCode, 20*time.Millisecond)
	m.ObserveStep(core.StepVerifyChallenge, core.ResultInvalidCode, 10*time.Millisecond)
	m.ObserveStep(core.StepSessionBridge, core.ResultOK, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("verify_challenge", "invalid_code")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("session_bridge", "ok")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New("phoneauth", prometheus.NewRegistry())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/phone/verify", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.Handle("GET /metrics", m.Handler())
	h := m.Middleware(mux)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/phone/verify", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "POST /auth/phone/verify", "401")))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "http_requests_total"))
}
