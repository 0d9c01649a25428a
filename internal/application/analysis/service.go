// Package analysis orchestrates one request end to end:
// intake → plan → (synthesize → execute → validate)* → answer.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/application"
	appai "github.com/bryanwahyu/analyst-agent/internal/application/ai"
	"github.com/bryanwahyu/analyst-agent/internal/application/budget"
	"github.com/bryanwahyu/analyst-agent/internal/application/intake"
	domain "github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/logging"
)

// Planner produces the analysis plan.
type Planner interface {
	Generate(ctx context.Context, b *budget.Budget, req *domain.Request) (domain.Plan, error)
}

// Coder produces one program revision.
type Coder interface {
	Synthesize(ctx context.Context, b *budget.Budget, in appai.SynthesisInput) (domain.Program, error)
}

// Config of the pipeline.
type Config struct {
	Deadline       time.Duration // whole request, default 180s
	MaxAttempts    int           // repair cycles, default 3
	ExecTimeout    time.Duration // per sandbox run, capped by the remaining budget
	Limits         domain.Limits
	PersistTimeout time.Duration
	RunLogDir      string
}

const (
	DefaultDeadline    = 180 * time.Second
	DefaultMaxAttempts = 3
)

// Service implements the ask use-case.
// Service is safe for concurrent use; every request gets its own budget.
type Service struct {
	Intake  *intake.Normalizer
	Planner Planner
	Coder   Coder
	Sandbox domain.Sandbox
	Runs    domain.RunRepository // optional
	Archive domain.ArchiveStore  // optional
	Clock   application.Clock
	Log     *zap.Logger
	Config  Config

	persisting sync.WaitGroup
}

// Ask runs the whole pipeline and always returns exactly one Answer.
func (s *Service) Ask(ctx context.Context, sub intake.Submission) domain.Answer {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	log, closeLog, err := logging.ForRun(s.logger(), s.Config.RunLogDir, sub.ID)
	if err != nil {
		log.Warn("run log unavailable", zap.Error(err))
	}
	handedOff := false
	defer func() {
		if !handedOff {
			closeLog()
		}
	}()

	b := budget.Start(ctx, s.clock(), s.deadline())
	defer b.Close()
	asm := newAssembler(sub.ID, b)

	req, err := s.Intake.Normalize(b.Context(), sub)
	if err != nil {
		ans := asm.fail(err, 0)
		log.Info("request rejected", zap.String("reason", string(ans.Reason)), zap.Error(err))
		return ans
	}
	log.Info("request accepted",
		zap.Int("attachments", len(req.Attachments())),
		zap.String("question", preview(req.Question(), 300)))

	ans, plan, attempts := s.solve(b, asm, req, log)

	log.Info("answer ready",
		zap.String("status", string(ans.Status)),
		zap.String("reason", string(ans.Reason)),
		zap.Int("attempts", ans.Attempts),
		zap.Duration("elapsed", ans.Elapsed),
		zap.Any("spent", b.Spent()))

	// the caller gets the answer now; storage runs behind it
	handedOff = true
	s.persisting.Add(1)
	go func() {
		defer s.persisting.Done()
		defer closeLog()
		s.persist(req, plan, attempts, ans, log)
	}()
	return ans
}

// Wait blocks until every run record started by Ask has been stored.
func (s *Service) Wait() {
	s.persisting.Wait()
}

func (s *Service) solve(b *budget.Budget, asm *assembler, req *domain.Request, log *zap.Logger) (domain.Answer, domain.Plan, []domain.Attempt) {
	plan, err := s.Planner.Generate(b.Context(), b, req)
	if err != nil {
		return asm.fail(err, 0), plan, nil
	}

	loop := &repairLoop{
		coder:       s.Coder,
		sandbox:     s.Sandbox,
		maxAttempts: s.maxAttempts(),
		execTimeout: s.Config.ExecTimeout,
		limits:      s.Config.Limits,
		log:         log,
	}
	payload, attempts, err := loop.run(b, req, plan)
	if err != nil {
		return asm.fail(err, len(attempts)), plan, attempts
	}
	return asm.succeed(payload, len(attempts)), plan, attempts
}

// persist stores the run record and archives programs and the answer. It
// runs after the answer has been returned, on its own short timeout, and
// only logs failures.
func (s *Service) persist(req *domain.Request, plan domain.Plan, attempts []domain.Attempt, ans domain.Answer, log *zap.Logger) {
	if s.Runs == nil && s.Archive == nil {
		return
	}
	timeout := s.Config.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	now := s.clock().Now()

	run := &domain.Run{
		ID:          req.ID(),
		Question:    req.Question(),
		Attachments: len(req.Attachments()),
		Status:      ans.Status,
		Reason:      ans.Reason,
		Detail:      ans.Detail,
		Attempts:    ans.Attempts,
		Payload:     ans.Payload,
		ElapsedMS:   ans.Elapsed.Milliseconds(),
		CreatedAt:   req.ReceivedAt(),
	}
	if plan.Schema != nil {
		run.PlanDigest = plan.Digest()
	}
	records := make([]*domain.AttemptRecord, 0, len(attempts))
	for _, a := range attempts {
		records = append(records, domain.NewAttemptRecord(req.ID(), a, now))
	}

	if s.Archive != nil {
		s.archive(ctx, req, plan, attempts, records, run, ans, log)
	}
	if s.Runs == nil {
		return
	}
	if err := s.Runs.SaveRun(ctx, run); err != nil {
		log.Warn("save run failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		if err := s.Runs.SaveAttempt(ctx, rec); err != nil {
			log.Warn("save attempt failed", zap.Int("revision", rec.Revision), zap.Error(err))
		}
	}
}

func (s *Service) archive(ctx context.Context, req *domain.Request, plan domain.Plan, attempts []domain.Attempt, records []*domain.AttemptRecord, run *domain.Run, ans domain.Answer, log *zap.Logger) {
	for _, a := range req.Attachments() {
		b, err := req.Blob(a.Digest)
		if err != nil {
			continue
		}
		if _, err := s.Archive.PutBlob(ctx, a.Digest, a.MediaType, b); err != nil {
			log.Warn("archive attachment failed", zap.String("name", a.Name), zap.Error(err))
		}
	}
	if plan.Schema != nil {
		if b, err := json.Marshal(plan); err == nil {
			if _, err := s.Archive.PutRunObject(ctx, req.ID(), "plan.json", "application/json", b); err != nil {
				log.Warn("archive plan failed", zap.Error(err))
			}
		}
	}
	for i, a := range attempts {
		if a.Program.Source == "" {
			continue
		}
		name := fmt.Sprintf("program-r%d.py", a.Program.Revision)
		url, err := s.Archive.PutRunObject(ctx, req.ID(), name, "text/x-python", []byte(a.Program.Source))
		if err != nil {
			log.Warn("archive program failed", zap.Int("revision", a.Program.Revision), zap.Error(err))
			continue
		}
		records[i].ProgramURL = url
	}
	b, err := json.Marshal(ans)
	if err != nil {
		return
	}
	url, err := s.Archive.PutRunObject(ctx, req.ID(), "answer.json", "application/json", b)
	if err != nil {
		log.Warn("archive answer failed", zap.Error(err))
		return
	}
	run.ArchiveURL = url
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) deadline() time.Duration {
	if s.Config.Deadline <= 0 {
		return DefaultDeadline
	}
	return s.Config.Deadline
}

func (s *Service) maxAttempts() int {
	if s.Config.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return s.Config.MaxAttempts
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
