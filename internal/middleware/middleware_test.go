package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(GetClientFromContext(r.Context())))
})

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"ci": "secret-1"})(okHandler)

	tests := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"missing header", "/api/", "", http.StatusUnauthorized, ""},
		{"wrong key", "/api/", "Bearer nope", http.StatusUnauthorized, ""},
		{"bearer key", "/api/", "Bearer secret-1", http.StatusOK, "ci"},
		{"bare key", "/api/", "secret-1", http.StatusOK, "ci"},
		{"health is open", "/health", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuthDisabledWithoutKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenBucketRefills(t *testing.T) {
	now := time.Unix(0, 0)
	tb := NewTokenBucket(2, 1, now)
	assert.True(t, tb.Allow(now))
	assert.True(t, tb.Allow(now))
	assert.False(t, tb.Allow(now))
	assert.False(t, tb.Allow(now.Add(500*time.Millisecond)))
	assert.True(t, tb.Allow(now.Add(1100*time.Millisecond)))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 0.5)
	defer rl.Close()
	h := RateLimitMiddleware(rl)(okHandler)

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000").Code)
	rec := do("10.0.0.1:2000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "same IP, different port")
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000").Code)
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	now := time.Unix(100, 0)
	rl.now = func() time.Time { return now }
	rl.Allow("a")
	now = now.Add(11 * time.Minute)
	rl.evict(10 * time.Minute)
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.buckets)
}

func TestHealthHandler(t *testing.T) {
	checks := map[string]HealthChecker{
		"sandbox":  CheckFunc(func(context.Context) error { return nil }),
		"database": CheckFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	rec := httptest.NewRecorder()
	HealthHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var got HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "unhealthy", got.Status)
	assert.Equal(t, "healthy", got.Checks["sandbox"].Status)
	assert.Equal(t, "connection refused", got.Checks["database"].Message)

	rec = httptest.NewRecorder()
	HealthHandler(map[string]HealthChecker{"sandbox": checks["sandbox"]})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakePool struct{ inUse, size int64 }

func (p *fakePool) InUse() int64 { return p.inUse }
func (p *fakePool) Size() int64  { return p.size }

func TestHealthHandlerReportsPoolSaturation(t *testing.T) {
	pool := &fakePool{inUse: 1, size: 2}
	checks := map[string]HealthChecker{
		"sandbox_pool": PoolChecker{Pool: pool},
		"isolation":    CheckFunc(func(context.Context) error { return nil }),
	}
	get := func() (int, HealthStatus) {
		rec := httptest.NewRecorder()
		HealthHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var got HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		return rec.Code, got
	}

	code, got := get()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, got.Status)

	pool.inUse = 2
	code, got = get()
	assert.Equal(t, http.StatusOK, code, "a busy pool still serves")
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, CheckStatus{Status: StatusDegraded, Message: "degraded: 2/2 sandbox workers busy"}, got.Checks["sandbox_pool"])

	checks["isolation"] = CheckFunc(func(context.Context) error { return errors.New("sandbox isolation unavailable: kernel has no landlock support") })
	code, got = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Equal(t, StatusDegraded, got.Checks["sandbox_pool"].Status)
	assert.Contains(t, got.Checks["isolation"].Message, "landlock")
}

func TestLoggingWritesOneLine(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(2), fields["bytes"])
	assert.Equal(t, "/x", fields["path"])
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.SetPool(func() (int, int) { return 1, 4 })

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	m.RunStarted()(analysis.Answer{Status: analysis.StatusSuccess, Attempts: 2})
	done := m.RunStarted()
	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap["runs_running"])
	done(analysis.Answer{Status: analysis.StatusError, Reason: analysis.ReasonTimeout, Attempts: 1})

	snap = m.Snapshot()
	assert.Equal(t, uint64(2), snap["requests_total"])
	assert.Equal(t, uint64(1), snap["requests_success"])
	assert.Equal(t, uint64(1), snap["requests_failed"])
	assert.Equal(t, uint64(2), snap["runs_total"])
	assert.Equal(t, int64(0), snap["runs_running"])
	assert.Equal(t, uint64(1), snap["runs_success"])
	assert.Equal(t, uint64(3), snap["attempts_total"])
	assert.Equal(t, map[string]uint64{"Timeout": 1}, snap["runs_failed"])
	assert.Equal(t, 1, snap["sandbox_in_use"])
	assert.Equal(t, 4, snap["sandbox_workers"])
}

func TestValidateRunID(t *testing.T) {
	assert.NoError(t, ValidateRunID("6f1c2a8e-0b7d-4c1e-9a55-2f8e1d3c4b5a"))
	assert.Error(t, ValidateRunID(""))
	assert.Error(t, ValidateRunID("../etc"))
	assert.Error(t, ValidateRunID(strings.Repeat("a", 65)))
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 100, ValidateLimit(500))
	assert.Equal(t, 7, ValidateLimit(7))
}
