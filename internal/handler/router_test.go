package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/venuestatus/internal/metrics"
	"github.com/hitoshi/venuestatus/internal/middleware"
	"github.com/hitoshi/venuestatus/internal/model"
)

func newTestRouter(t *testing.T, limiter *middleware.RateLimiter, gatherer prometheus.Gatherer) http.Handler {
	t.Helper()
	var buf bytes.Buffer
	svc := &mockStatusService{
		queryStatusFn: func(ctx context.Context) model.StatusResult { return closedResult(t) },
		forceRefreshFn: func(ctx context.Context) (model.DateSet, time.Time, error) {
			return model.NewDateSet(), time.Now(), nil
		},
	}
	return NewRouter(&RouterDeps{
		StatusService: svc,
		StatusConfig: StatusHandlerConfig{
			VenueName: "Nippes",
			Location:  berlin,
			Logger:    newTestLogger(&buf),
		},
		CORSAllowedOrigin: "*",
		RefreshLimiter:    limiter,
		Gatherer:          gatherer,
	})
}

func TestNewRouter_Routes(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/refresh", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/api/refreshes", http.StatusServiceUnavailable},
		{http.MethodGet, "/metrics", http.StatusNotFound},
		{http.MethodPost, "/api/status", http.StatusMethodNotAllowed},
		{http.MethodGet, "/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNewRouter_SecurityHeadersOnAllRoutes(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestNewRouter_CORSOnlyOnAPIStatus(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("/api/status Access-Control-Allow-Origin = %q, want *", got)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refresh", nil))
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("/refresh Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestNewRouter_APIStatusPreflight(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/status", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestNewRouter_RefreshIsRateLimited(t *testing.T) {
	var buf bytes.Buffer
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(0.01),
		Burst:           1,
		CleanupInterval: time.Minute,
	}, newTestLogger(&buf))
	defer limiter.Stop()
	router := newTestRouter(t, limiter, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refresh", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first refresh status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refresh", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second refresh status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// /api/statusは制限されない
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/api/status status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.RecordCacheHit()
	router := newTestRouter(t, nil, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "venuestatus_cache_hit_total 1") {
		t.Error("metrics body should contain venuestatus_cache_hit_total")
	}
}

func TestNewRouter_RecoversFromPanic(t *testing.T) {
	var buf bytes.Buffer
	svc := &mockStatusService{
		queryStatusFn: func(ctx context.Context) model.StatusResult { panic("unexpected") },
	}
	router := NewRouter(&RouterDeps{
		StatusService: svc,
		StatusConfig:  StatusHandlerConfig{Logger: newTestLogger(&buf)},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
