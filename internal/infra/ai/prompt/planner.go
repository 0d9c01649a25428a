package prompt

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// PlanSystem provides strict directions and the JSON envelope for plans.
func PlanSystem() string {
	return `You are a data analysis planner. Read the user's questions and the list of attached files, then produce one valid JSON object only (no markdown, no commentary). Do not include code fences.

Requirements:
- "steps" is an ordered array of 1 to 6 steps. Each step has a non-empty "description" and an "expected_output".
- The first step loads and inspects the attached files. Later steps transform and answer.
- "output_schema" describes the exact JSON the final answer must have, using the types object, array, string, integer, number, boolean, null or any.
- Objects list their fields under "properties" and the mandatory ones under "required". Arrays describe their element under "items". A field that may be null sets "nullable": true.
- If the questions ask for an answer in a specific shape (for example a JSON array of 4 elements, or an object with named keys), the schema must match that shape exactly.
- Plots are returned as base64 data URI strings.

Envelope (example):
{
  "steps": [
    {"description": "Load sales.csv and check the columns", "expected_output": "dataframe with columns region, amount"},
    {"description": "Sum amount per region and pick the maximum", "expected_output": "region name and total"}
  ],
  "output_schema": {
    "type": "object",
    "properties": {"top_region": {"type": "string"}, "total": {"type": "number"}},
    "required": ["top_region", "total"]
  }
}`
}

// PlanUser builds the user message for a planning call.
func PlanUser(p ai.PlanPrompt) string {
	var b strings.Builder
	b.WriteString("questions.txt:\n---\n")
	b.WriteString(p.Question)
	b.WriteString("\n---\n")
	writeManifest(&b, p.Attachments)
	if p.Feedback != "" {
		fmt.Fprintf(&b, "\nYour previous plan was rejected: %s\nReturn a corrected JSON object.\n", p.Feedback)
	}
	return b.String()
}

func writeManifest(b *strings.Builder, atts []analysis.Attachment) {
	if len(atts) == 0 {
		b.WriteString("attachments: none\n")
		return
	}
	b.WriteString("attachments:\n")
	for _, a := range atts {
		fmt.Fprintf(b, "- %s (%s, %d bytes)\n", a.Name, a.MediaType, a.Size)
	}
}
