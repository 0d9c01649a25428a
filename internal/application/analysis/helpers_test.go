package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/bryanwahyu/analyst-agent/internal/application/budget"
)

func newTestBudget(t *testing.T, d time.Duration) *budget.Budget {
	t.Helper()
	b := budget.Start(context.Background(), nil, d)
	t.Cleanup(b.Close)
	return b
}
