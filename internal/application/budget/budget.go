// Package budget tracks the wall-clock allowance of one request and hands
// out deadline-bound contexts to every stage.
package budget

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/analyst-agent/internal/application"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// ErrExpired is returned once the request deadline has passed or the parent
// context was cancelled.
var ErrExpired = fmt.Errorf("budget expired: %w", analysis.ErrTimeout)

// Budget is safe for concurrent use.
type Budget struct {
	ctx      context.Context
	cancel   context.CancelFunc
	clock    application.Clock
	start    time.Time
	deadline time.Time

	mu    sync.Mutex
	spent map[string]time.Duration
}

// Start opens a budget of total duration measured from clock.Now(). The
// returned budget owns a child context of parent; call Close when done.
func Start(parent context.Context, clock application.Clock, total time.Duration) *Budget {
	if clock == nil {
		clock = application.SystemClock{}
	}
	start := clock.Now()
	ctx, cancel := context.WithTimeout(parent, total)
	return &Budget{
		ctx:      ctx,
		cancel:   cancel,
		clock:    clock,
		start:    start,
		deadline: start.Add(total),
		spent:    make(map[string]time.Duration),
	}
}

// Context is cancelled when the budget expires.
func (b *Budget) Context() context.Context { return b.ctx }

func (b *Budget) Deadline() time.Time { return b.deadline }

// Close releases the budget context.
func (b *Budget) Close() { b.cancel() }

// Remaining returns the time left, or ErrExpired.
func (b *Budget) Remaining() (time.Duration, error) {
	if b.ctx.Err() != nil {
		return 0, ErrExpired
	}
	rem := b.deadline.Sub(b.clock.Now())
	if rem <= 0 {
		return 0, ErrExpired
	}
	return rem, nil
}

// Expired reports whether Remaining would fail.
func (b *Budget) Expired() bool {
	_, err := b.Remaining()
	return err != nil
}

// Elapsed since Start.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}

// Bound returns a context whose deadline is min(max, Remaining()). A max of
// zero means "whatever is left".
func (b *Budget) Bound(max time.Duration) (context.Context, context.CancelFunc, error) {
	rem, err := b.Remaining()
	if err != nil {
		return nil, nil, err
	}
	d := rem
	if max > 0 && max < d {
		d = max
	}
	ctx, cancel := context.WithTimeout(b.ctx, d)
	return ctx, cancel, nil
}

// Charge records d against stage.
func (b *Budget) Charge(stage string, d time.Duration) {
	b.mu.Lock()
	b.spent[stage] += d
	b.mu.Unlock()
}

// Track starts timing stage; the returned func charges the elapsed time.
//
//	defer b.Track("plan")()
func (b *Budget) Track(stage string) func() {
	t0 := b.clock.Now()
	return func() { b.Charge(stage, b.clock.Now().Sub(t0)) }
}

// StageTime is one entry of the spend report.
type StageTime struct {
	Stage string
	Spent time.Duration
}

// Spent returns per-stage time sorted by stage name.
func (b *Budget) Spent() []StageTime {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StageTime, 0, len(b.spent))
	for k, v := range b.spent {
		out = append(out, StageTime{Stage: k, Spent: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
