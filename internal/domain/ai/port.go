package ai

import (
	"context"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// PlanPrompt is the input of one planning call. Feedback carries the parse
// error of the previous planning call, if any.
type PlanPrompt struct {
	Question    string
	Attachments []analysis.Attachment
	Feedback    string
}

// ProgramPrompt is the input of one code generation call. History holds every
// earlier revision with its diagnostic, oldest first.
type ProgramPrompt struct {
	Question    string
	Attachments []analysis.Attachment
	Plan        analysis.Plan
	History     []analysis.Attempt
	Revision    int
}

// Client port (LLM collaborator). Implementations render the prompt and
// return the raw model text; parsing is done by the application layer.
type Client interface {
	GeneratePlan(ctx context.Context, p PlanPrompt) (string, error)
	GenerateProgram(ctx context.Context, p ProgramPrompt) (string, error)
}
