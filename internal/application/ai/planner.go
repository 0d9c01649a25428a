package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/application/budget"
	domainai "github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/domain/schema"
)

// DefaultPlanAttempts is the number of planning calls made before giving up.
const DefaultPlanAttempts = 3

// PlanGenerator obtains an analysis plan from the LLM collaborator.
// It performs no execution.
type PlanGenerator struct {
	Client      domainai.Client
	Attempts    int
	CallTimeout time.Duration
	Log         *zap.Logger
}

// Generate asks for a plan, retrying on collaborator errors and malformed
// output. Exhaustion gives analysis.ErrPlanGeneration; expiry gives
// budget.ErrExpired.
func (g *PlanGenerator) Generate(ctx context.Context, b *budget.Budget, req *analysis.Request) (analysis.Plan, error) {
	defer b.Track("plan")()
	log := g.logger()

	attempts := g.Attempts
	if attempts <= 0 {
		attempts = DefaultPlanAttempts
	}
	var (
		lastErr  error
		feedback string
	)
	for i := 1; i <= attempts; i++ {
		if ctx.Err() != nil {
			return analysis.Plan{}, budget.ErrExpired
		}
		cctx, cancel, err := b.Bound(g.CallTimeout)
		if err != nil {
			return analysis.Plan{}, err
		}
		raw, err := g.Client.GeneratePlan(cctx, domainai.PlanPrompt{
			Question:    req.Question(),
			Attachments: req.Attachments(),
			Feedback:    feedback,
		})
		cancel()
		if err != nil {
			if b.Expired() {
				return analysis.Plan{}, budget.ErrExpired
			}
			log.Warn("plan call failed", zap.Int("attempt", i), zap.Error(err))
			lastErr = err
			if errors.Is(err, domainai.ErrQuotaExceeded) {
				break
			}
			continue
		}

		plan, err := ParsePlan(raw)
		if err != nil {
			log.Warn("plan rejected", zap.Int("attempt", i), zap.Error(err))
			lastErr = err
			feedback = err.Error()
			continue
		}
		log.Info("plan ready",
			zap.Int("attempt", i),
			zap.Int("steps", len(plan.Steps)),
			zap.String("schema", plan.Schema.String()))
		return plan, nil
	}
	return analysis.Plan{}, fmt.Errorf("%w: %v", analysis.ErrPlanGeneration, lastErr)
}

func (g *PlanGenerator) logger() *zap.Logger {
	if g.Log == nil {
		return zap.NewNop()
	}
	return g.Log
}

// ParsePlan strictly decodes a planner reply.
func ParsePlan(raw string) (analysis.Plan, error) {
	var plan analysis.Plan
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &plan); err != nil {
		return analysis.Plan{}, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if len(plan.Steps) == 0 {
		return analysis.Plan{}, errors.New("plan has no steps")
	}
	for i := range plan.Steps {
		plan.Steps[i].Description = strings.TrimSpace(plan.Steps[i].Description)
		if plan.Steps[i].Description == "" {
			return analysis.Plan{}, fmt.Errorf("plan step %d has an empty description", i+1)
		}
	}
	if err := schema.Check(plan.Schema); err != nil {
		return analysis.Plan{}, fmt.Errorf("output_schema is invalid: %w", err)
	}
	return plan, nil
}
