package analysis

import (
	"bytes"
	"encoding/json"

	"github.com/bryanwahyu/analyst-agent/internal/domain/schema"
)

// ValidationOutcome is pass with the canonical payload, or fail with a
// diagnostic naming the first schema violation.
type ValidationOutcome struct {
	Passed     bool
	Payload    json.RawMessage
	Diagnostic string
}

// Validate checks the captured artifact of res against the plan schema.
func Validate(plan Plan, res ExecutionResult) ValidationOutcome {
	if !res.ArtifactPresent {
		return ValidationOutcome{Diagnostic: "no output artifact was produced"}
	}
	if v := schema.Validate(plan.Schema, res.Artifact); v != nil {
		return ValidationOutcome{
			Diagnostic: "output does not match the required schema " + plan.Schema.String() + ": " + v.Error(),
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, res.Artifact); err != nil {
		return ValidationOutcome{Diagnostic: "output is not valid JSON: " + err.Error()}
	}
	return ValidationOutcome{Passed: true, Payload: json.RawMessage(buf.Bytes())}
}
