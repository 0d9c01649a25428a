package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Check outcomes. A degraded service still answers; an unhealthy one cannot.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrDegraded is wrapped by checks that report pressure rather than failure.
var ErrDegraded = errors.New("degraded")

// HealthChecker is one named dependency on /health.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a Ping-style function, e.g. a sandbox backend or the archive.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker pings the run store.
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

// PoolLoad is the occupancy view of the sandbox worker pool.
type PoolLoad interface {
	InUse() int64
	Size() int64
}

// PoolChecker reports the pool as degraded once every worker is busy: new
// questions queue until a slot frees or their deadline passes.
type PoolChecker struct {
	Pool PoolLoad
}

func (p PoolChecker) Check(context.Context) error {
	inUse, size := p.Pool.InUse(), p.Pool.Size()
	if size > 0 && inUse >= size {
		return fmt.Errorf("%w: %d/%d sandbox workers busy", ErrDegraded, inUse, size)
	}
	return nil
}

// HealthStatus is the /health body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus is the outcome of one checker.
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler runs every checker concurrently under a shared 5s budget.
// Any unhealthy check answers 503; degraded checks keep 200.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := HealthStatus{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Checks:    make(map[string]CheckStatus, len(names)),
		}
		var mu sync.Mutex
		var g errgroup.Group
		for _, name := range names {
			checker := checkers[name]
			g.Go(func() error {
				st := checkStatus(checker.Check(ctx))
				mu.Lock()
				health.Checks[name] = st
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for _, st := range health.Checks {
			health.Status = worse(health.Status, st.Status)
		}
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	}
}

func checkStatus(err error) CheckStatus {
	switch {
	case err == nil:
		return CheckStatus{Status: StatusHealthy}
	case errors.Is(err, ErrDegraded):
		return CheckStatus{Status: StatusDegraded, Message: err.Error()}
	default:
		return CheckStatus{Status: StatusUnhealthy, Message: err.Error()}
	}
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// LivenessHandler answers 200 while the process is up.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
