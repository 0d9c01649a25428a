package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// Pool bounds the number of concurrent sandbox runs. It decorates any
// analysis.Sandbox.
type Pool struct {
	sandbox analysis.Sandbox
	sem     *semaphore.Weighted
	size    int64
	inUse   atomic.Int64
}

var _ analysis.Sandbox = (*Pool)(nil)

func NewPool(sb analysis.Sandbox, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{sandbox: sb, sem: semaphore.NewWeighted(int64(workers)), size: int64(workers)}
}

// Run waits for a slot (honouring ctx), runs the sandbox and always releases
// the slot.
func (p *Pool) Run(ctx context.Context, req analysis.SandboxRequest) (analysis.ExecutionResult, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return analysis.ExecutionResult{}, fmt.Errorf("acquire sandbox slot: %w", err)
	}
	p.inUse.Add(1)
	defer func() {
		p.inUse.Add(-1)
		p.sem.Release(1)
	}()
	return p.sandbox.Run(ctx, req)
}

// InUse is the number of runs currently holding a slot.
func (p *Pool) InUse() int64 { return p.inUse.Load() }

func (p *Pool) Size() int64 { return p.size }
