package analysis

// Program is one generated revision. Revisions strictly increase within a
// request and are never modified after creation.
type Program struct {
	Revision   int    `json:"revision"`
	Language   string `json:"language"`
	Source     string `json:"source"`
	PlanDigest string `json:"plan_digest"`
}

// Stage names the step of an attempt that failed.
type Stage string

const (
	StageSynthesis  Stage = "synthesis"
	StageExecution  Stage = "execution"
	StageValidation Stage = "validation"
)

// Attempt is one generate → execute → validate cycle kept as history for the
// next synthesis call.
type Attempt struct {
	Program    Program          `json:"program"`
	Result     *ExecutionResult `json:"result,omitempty"`
	FailedAt   Stage            `json:"failed_at"`
	Diagnostic string           `json:"diagnostic"`
}
