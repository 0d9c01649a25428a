package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/bryanwahyu/analyst-agent/internal/domain/schema"
)

// Step is one ordered unit of the analysis plan.
type Step struct {
	Description    string `json:"description"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// Plan is the ordered analysis steps plus the target output schema.
type Plan struct {
	Steps  []Step         `json:"steps"`
	Schema *schema.Schema `json:"output_schema"`
}

// Digest identifies the plan a program revision implements.
func (p Plan) Digest() string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
