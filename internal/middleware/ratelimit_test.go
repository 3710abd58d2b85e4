package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/venuestatus/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newLimitedHandler(t *testing.T, cfg RateLimiterConfig) (http.Handler, *RateLimiter, *int) {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(cfg, newTestLogger(&buf))
	t.Cleanup(rl.Stop)

	calls := 0
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	return handler, rl, &calls
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/refresh", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	handler, _, calls := newLimitedHandler(t, RateLimiterConfig{
		Rate:            rate.Limit(0.1),
		Burst:           3,
		CleanupInterval: time.Minute,
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
	if *calls != 3 {
		t.Errorf("handler call count = %d, want 3", *calls)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	handler, _, calls := newLimitedHandler(t, RateLimiterConfig{
		Rate:            rate.Limit(0.1), // 10秒に1回
		Burst:           1,
		CleanupInterval: time.Minute,
	})

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1234"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if *calls != 1 {
		t.Errorf("handler call count = %d, want 1", *calls)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", w.Header().Get("Retry-After"))
	}
	if retryAfter != 10 {
		t.Errorf("Retry-After = %d, want 10", retryAfter)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode 429 body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	handler, rl, _ := newLimitedHandler(t, RateLimiterConfig{
		Rate:            rate.Limit(0.1),
		Burst:           1,
		CleanupInterval: time.Minute,
	})

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1234"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:1234"))
	if w.Code != http.StatusOK {
		t.Errorf("second client status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	handler, rl, _ := newLimitedHandler(t, RateLimiterConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Minute,
	})

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1234"))
	if rl.LimiterCount() != 1 {
		t.Fatalf("expected one limiter entry, got %d", rl.LimiterCount())
	}

	rl.cleanup(time.Now().Add(time.Minute))
	if rl.LimiterCount() != 1 {
		t.Errorf("entry within TTL should be kept, got %d", rl.LimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.LimiterCount() != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", rl.LimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(DefaultRateLimiterConfig(), newTestLogger(&buf))
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"RemoteAddrWithPort", "192.0.2.1:5555", "", "192.0.2.1"},
		{"RemoteAddrWithoutPort", "192.0.2.1", "", "192.0.2.1"},
		{"ForwardedFirstHop", "10.0.0.1:80", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"IPv6", "[2001:db8::1]:443", "", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestFrom(tt.remoteAddr)
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.Burst != 6 {
		t.Errorf("Burst = %d, want 6", cfg.Burst)
	}
	if cfg.Rate != rate.Limit(6.0/60.0) {
		t.Errorf("Rate = %v, want %v", cfg.Rate, rate.Limit(6.0/60.0))
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want %v", cfg.CleanupInterval, 5*time.Minute)
	}
}

func TestPerMinuteConfig_NonPositiveClampsToOne(t *testing.T) {
	cfg := PerMinuteConfig(0)
	if cfg.Burst != 1 {
		t.Errorf("Burst = %d, want 1", cfg.Burst)
	}
}
