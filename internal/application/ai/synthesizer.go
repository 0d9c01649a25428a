package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/application/budget"
	domainai "github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// ErrNoCode is returned when the model reply contains no program.
var ErrNoCode = errors.New("model returned no code")

// LanguagePython is the only language programs are generated in.
const LanguagePython = "python"

// SynthesisInput is everything one synthesis call sees. The synthesizer keeps
// nothing between calls.
type SynthesisInput struct {
	Request  *analysis.Request
	Plan     analysis.Plan
	History  []analysis.Attempt
	Revision int
}

// Synthesizer turns a plan (plus repair history) into a program.
type Synthesizer struct {
	Client      domainai.Client
	CallTimeout time.Duration
	Log         *zap.Logger
}

func (s *Synthesizer) Synthesize(ctx context.Context, b *budget.Budget, in SynthesisInput) (analysis.Program, error) {
	defer b.Track("synthesize")()
	if ctx.Err() != nil {
		return analysis.Program{}, budget.ErrExpired
	}
	cctx, cancel, err := b.Bound(s.CallTimeout)
	if err != nil {
		return analysis.Program{}, err
	}
	defer cancel()

	raw, err := s.Client.GenerateProgram(cctx, domainai.ProgramPrompt{
		Question:    in.Request.Question(),
		Attachments: in.Request.Attachments(),
		Plan:        in.Plan,
		History:     in.History,
		Revision:    in.Revision,
	})
	if err != nil {
		if b.Expired() {
			return analysis.Program{}, budget.ErrExpired
		}
		return analysis.Program{}, fmt.Errorf("code generation: %w", err)
	}
	src := ExtractPython(raw)
	if src == "" {
		return analysis.Program{}, ErrNoCode
	}
	if s.Log != nil {
		s.Log.Debug("program generated", zap.Int("revision", in.Revision), zap.Int("bytes", len(src)))
	}
	return analysis.Program{
		Revision:   in.Revision,
		Language:   LanguagePython,
		Source:     src,
		PlanDigest: in.Plan.Digest(),
	}, nil
}
