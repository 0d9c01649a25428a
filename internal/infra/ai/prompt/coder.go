package prompt

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/domain/schema"
)

// maxHistorySource caps each earlier revision quoted back to the model.
const maxHistorySource = 12000

// ProgramSystem returns the coding directions, including the output convention.
func ProgramSystem() string {
	return fmt.Sprintf(`You are a senior data engineer. Generate a single, self-contained Python 3 script that implements the plan below.

Runtime contract:
- Attached files are read-only and live in the directory given by the environment variable %[1]s. Open them by the names listed in the manifest.
- The only writable directory is %[2]s. Do not write anywhere else.
- Write the final answer as JSON to the file path in the environment variable %[3]s (for example: json.dump(result, open(os.environ["%[3]s"], "w"))). Write it exactly once, at the end.
- Stdout and stderr are for diagnostics only. They are never parsed as the answer.
- There is no network access. Do not fetch URLs or install packages.
- Memory and time are limited. Prefer vectorised pandas/numpy, avoid loading data twice.
- Libraries available: pandas, numpy, matplotlib, scipy, duckdb, pyarrow, bs4, lxml.

Robustness rules:
- Do not assume column positions; match columns by name, case-insensitively, and strip whitespace.
- When cleaning number fields, remove non-digit characters (currency symbols, commas, footnote markers) and use pd.to_numeric(errors="coerce").
- Use deterministic operations (sorted keys and rows) when choosing between ties.
- Convert numpy scalars to native Python types before json.dump.
- Plots are base64 PNG data URIs under 100kB.

Reply with the script only, inside one `+"```python"+` fence.`, analysis.EnvDataDir, analysis.EnvScratchDir, analysis.EnvOutput)
}

// ProgramUser renders the plan, manifest, schema and repair history.
func ProgramUser(p ai.ProgramPrompt) string {
	var b strings.Builder
	b.WriteString("QUESTIONS:\n")
	b.WriteString(p.Question)
	b.WriteString("\n\n")
	writeManifest(&b, p.Attachments)

	b.WriteString("\nPLAN:\n")
	for i, s := range p.Plan.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Description)
		if s.ExpectedOutput != "" {
			fmt.Fprintf(&b, " (expected: %s)", s.ExpectedOutput)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nOUTPUT SCHEMA: %s\n", p.Plan.Schema.String())
	fmt.Fprintf(&b, "Example of the shape (placeholder values): %s\n", schema.ExampleJSON(p.Plan.Schema))

	if len(p.History) > 0 {
		b.WriteString("\nPREVIOUS ATTEMPTS (all failed, fix the problem and return a complete new script):\n")
		for _, a := range p.History {
			fmt.Fprintf(&b, "\n### Revision %d failed at %s\n", a.Program.Revision, a.FailedAt)
			b.WriteString("```python\n")
			b.WriteString(clip(a.Program.Source, maxHistorySource))
			b.WriteString("\n```\n")
			fmt.Fprintf(&b, "Diagnostic:\n%s\n", a.Diagnostic)
		}
	}
	fmt.Fprintf(&b, "\nWrite revision %d now.\n", p.Revision)
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n# ... truncated"
}
