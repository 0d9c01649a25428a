package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress int64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	RunsTotal          uint64
	RunsRunning        int64
	RunsSuccess        uint64
	AttemptsTotal      uint64
	StartTime          time.Time

	mu       sync.Mutex
	byReason map[analysis.Reason]uint64
	pool     func() (inUse, size int)
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now(), byReason: make(map[analysis.Reason]uint64)}
}

// SetPool registers the sandbox pool gauge.
func (m *Metrics) SetPool(f func() (inUse, size int)) {
	m.mu.Lock()
	m.pool = f
	m.mu.Unlock()
}

// RunStarted marks a run as in flight; call the returned func with its answer.
func (m *Metrics) RunStarted() func(analysis.Answer) {
	atomic.AddUint64(&m.RunsTotal, 1)
	atomic.AddInt64(&m.RunsRunning, 1)
	return func(ans analysis.Answer) {
		atomic.AddInt64(&m.RunsRunning, -1)
		atomic.AddUint64(&m.AttemptsTotal, uint64(ans.Attempts))
		if ans.OK() {
			atomic.AddUint64(&m.RunsSuccess, 1)
			return
		}
		m.mu.Lock()
		m.byReason[ans.Reason]++
		m.mu.Unlock()
	}
}

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	failed := make(map[string]uint64, len(m.byReason))
	for reason, n := range m.byReason {
		failed[string(reason)] = n
	}
	pool := m.pool
	m.mu.Unlock()

	out := map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&m.RequestsTotal),
		"requests_in_progress": atomic.LoadInt64(&m.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&m.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&m.RequestsFailed),
		"runs_total":           atomic.LoadUint64(&m.RunsTotal),
		"runs_running":         atomic.LoadInt64(&m.RunsRunning),
		"runs_success":         atomic.LoadUint64(&m.RunsSuccess),
		"runs_failed":          failed,
		"attempts_total":       atomic.LoadUint64(&m.AttemptsTotal),
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       ms.Alloc,
			"total_alloc_bytes": ms.TotalAlloc,
			"sys_bytes":         ms.Sys,
			"num_gc":            ms.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
	if pool != nil {
		inUse, size := pool()
		out["sandbox_in_use"] = inUse
		out["sandbox_workers"] = size
	}
	return out
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint64(&m.RequestsTotal, 1)
		atomic.AddInt64(&m.RequestsInProgress, 1)
		defer atomic.AddInt64(&m.RequestsInProgress, -1)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			atomic.AddUint64(&m.RequestsSuccess, 1)
		} else {
			atomic.AddUint64(&m.RequestsFailed, 1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
