package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appai "github.com/bryanwahyu/analyst-agent/internal/application/ai"
	"github.com/bryanwahyu/analyst-agent/internal/application/budget"
	domain "github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// repairLoop runs synthesize → execute → validate until the output validates,
// attempts run out or the budget expires.
type repairLoop struct {
	coder       Coder
	sandbox     domain.Sandbox
	maxAttempts int
	execTimeout time.Duration
	limits      domain.Limits
	log         *zap.Logger
}

// run returns the validated payload and every attempt made, oldest first.
func (l *repairLoop) run(b *budget.Budget, req *domain.Request, plan domain.Plan) (json.RawMessage, []domain.Attempt, error) {
	var attempts []domain.Attempt
	for rev := 1; rev <= l.maxAttempts; rev++ {
		if _, err := b.Remaining(); err != nil {
			return nil, attempts, err
		}

		prog, err := l.coder.Synthesize(b.Context(), b, appai.SynthesisInput{
			Request:  req,
			Plan:     plan,
			History:  append([]domain.Attempt(nil), attempts...),
			Revision: rev,
		})
		if err != nil {
			if errors.Is(err, budget.ErrExpired) {
				return nil, attempts, err
			}
			a := domain.Attempt{
				Program:    domain.Program{Revision: rev, Language: appai.LanguagePython, PlanDigest: plan.Digest()},
				FailedAt:   domain.StageSynthesis,
				Diagnostic: "code generation failed: " + err.Error(),
			}
			attempts = append(attempts, a)
			l.log.Warn("attempt failed", zap.Int("revision", rev), zap.String("stage", string(a.FailedAt)), zap.Error(err))
			continue
		}

		res, err := l.execute(b, req, prog)
		if err != nil {
			attempts = append(attempts, domain.Attempt{Program: prog, Result: &res, FailedAt: domain.StageExecution, Diagnostic: res.Diagnostic()})
			return nil, attempts, err
		}
		if res.Failed() {
			a := domain.Attempt{Program: prog, Result: &res, FailedAt: domain.StageExecution, Diagnostic: res.Diagnostic()}
			attempts = append(attempts, a)
			l.log.Warn("attempt failed",
				zap.Int("revision", rev),
				zap.String("stage", string(a.FailedAt)),
				zap.String("state", string(res.State)),
				zap.String("kill_reason", res.KillReason))
			continue
		}

		out := domain.Validate(plan, res)
		if !out.Passed {
			a := domain.Attempt{Program: prog, Result: &res, FailedAt: domain.StageValidation, Diagnostic: out.Diagnostic}
			attempts = append(attempts, a)
			l.log.Warn("attempt failed", zap.Int("revision", rev), zap.String("stage", string(a.FailedAt)), zap.String("diagnostic", out.Diagnostic))
			continue
		}

		attempts = append(attempts, domain.Attempt{Program: prog, Result: &res})
		l.log.Info("attempt passed", zap.Int("revision", rev), zap.Duration("duration", res.Duration))
		return out.Payload, attempts, nil
	}

	last := ""
	if n := len(attempts); n > 0 {
		last = attempts[n-1].Diagnostic
	}
	return nil, attempts, fmt.Errorf("%w: %d attempts, last failure: %s", domain.ErrMaxAttempts, len(attempts), firstLine(last))
}

// execute runs prog under min(execTimeout, remaining budget). Backend errors
// become a crashed result; the error return is only used for budget expiry.
func (l *repairLoop) execute(b *budget.Budget, req *domain.Request, prog domain.Program) (domain.ExecutionResult, error) {
	ctx, cancel, err := b.Bound(l.execTimeout)
	if err != nil {
		return domain.ExecutionResult{State: domain.StatePending}, err
	}
	defer cancel()
	defer b.Track("execute")()

	limits := l.limits
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); limits.Timeout <= 0 || until < limits.Timeout {
			limits.Timeout = until
		}
	}

	res, err := l.sandbox.Run(ctx, domain.SandboxRequest{
		RunID:       req.ID(),
		Program:     prog,
		Attachments: req.Attachments(),
		Blobs:       req,
		Limits:      limits,
	})
	if b.Expired() {
		if err != nil {
			return domain.ExecutionResult{State: domain.StateKilledTimeout, KillReason: err.Error()}, budget.ErrExpired
		}
		if res.Failed() {
			return res, budget.ErrExpired
		}
	}
	if err != nil {
		return domain.ExecutionResult{
			State:      domain.StateCrashed,
			ExitCode:   -1,
			KillReason: "sandbox error: " + err.Error(),
		}, nil
	}
	return res, nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
