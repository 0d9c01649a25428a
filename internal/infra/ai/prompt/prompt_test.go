package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/domain/schema"
)

func testPlan() analysis.Plan {
	return analysis.Plan{
		Steps: []analysis.Step{{Description: "add two and two", ExpectedOutput: "an integer"}},
		Schema: &schema.Schema{
			Type:       schema.TypeObject,
			Properties: map[string]*schema.Schema{"answer": {Type: schema.TypeInteger}},
			Required:   []string{"answer"},
		},
	}
}

func TestPlanUser(t *testing.T) {
	got := PlanUser(ai.PlanPrompt{
		Question:    "What is 2+2?",
		Attachments: []analysis.Attachment{{Name: "a.csv", MediaType: "text/csv", Size: 12}},
		Feedback:    "no steps",
	})
	assert.Contains(t, got, "What is 2+2?")
	assert.Contains(t, got, "- a.csv (text/csv, 12 bytes)")
	assert.Contains(t, got, "rejected: no steps")

	assert.Contains(t, PlanUser(ai.PlanPrompt{Question: "q"}), "attachments: none")
}

func TestProgramPromptCarriesOutputConvention(t *testing.T) {
	sys := ProgramSystem()
	assert.Contains(t, sys, analysis.EnvOutput)
	assert.Contains(t, sys, analysis.EnvDataDir)
	assert.Contains(t, sys, analysis.EnvScratchDir)
	assert.Contains(t, sys, "```python")
	assert.NotContains(t, sys, "%!")
}

func TestProgramUserIncludesHistory(t *testing.T) {
	got := ProgramUser(ai.ProgramPrompt{
		Question: "What is 2+2?",
		Plan:     testPlan(),
		History: []analysis.Attempt{
			{Program: analysis.Program{Revision: 1, Source: "print(1)"}, FailedAt: analysis.StageExecution, Diagnostic: "MemoryError"},
			{Program: analysis.Program{Revision: 2, Source: strings.Repeat("x", maxHistorySource+10)}, FailedAt: analysis.StageValidation, Diagnostic: "$.answer: expected integer, got string"},
		},
		Revision: 3,
	})
	assert.Contains(t, got, "1. add two and two (expected: an integer)")
	assert.Contains(t, got, "OUTPUT SCHEMA: {answer: integer}")
	assert.Contains(t, got, `{"answer":0}`)
	assert.Contains(t, got, "### Revision 1 failed at execution")
	assert.Contains(t, got, "MemoryError")
	assert.Contains(t, got, "### Revision 2 failed at validation")
	assert.Contains(t, got, "# ... truncated")
	assert.Contains(t, got, "Write revision 3 now.")
	assert.Less(t, strings.Index(got, "Revision 1"), strings.Index(got, "Revision 2"))
}
