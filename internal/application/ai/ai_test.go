package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/analyst-agent/internal/application/budget"
	domainai "github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/domain/schema"
)

type reply struct {
	text string
	err  error
}

type scriptedClient struct {
	mu       sync.Mutex
	plans    []reply
	programs []reply
	planIn   []domainai.PlanPrompt
	progIn   []domainai.ProgramPrompt
	block    bool
}

func (c *scriptedClient) GeneratePlan(ctx context.Context, p domainai.PlanPrompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.planIn = append(c.planIn, p)
	r := c.plans[0]
	if len(c.plans) > 1 {
		c.plans = c.plans[1:]
	}
	return r.text, r.err
}

func (c *scriptedClient) GenerateProgram(ctx context.Context, p domainai.ProgramPrompt) (string, error) {
	c.mu.Lock()
	c.progIn = append(c.progIn, p)
	block := c.block
	var r reply
	if len(c.programs) > 0 {
		r = c.programs[0]
		if len(c.programs) > 1 {
			c.programs = c.programs[1:]
		}
	}
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

const goodPlan = `{"steps":[{"description":"add 2 and 2","expected_output":"4"}],
"output_schema":{"type":"object","properties":{"answer":{"type":"int"}},"required":["answer"]}}`

func testRequest(t *testing.T) *analysis.Request {
	t.Helper()
	req, err := analysis.NewRequest("r1", "What is 2+2?", nil, nil, time.Now())
	require.NoError(t, err)
	return req
}

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("```json\n" + goodPlan + "\n```")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, schema.TypeInteger, plan.Schema.Properties["answer"].Type)

	_, err = ParsePlan("Here you go: " + goodPlan + " Hope it helps.")
	assert.NoError(t, err)

	bad := map[string]string{
		"not json":       "steps: 1",
		"no steps":       `{"steps":[],"output_schema":{"type":"object"}}`,
		"blank step":     `{"steps":[{"description":"  "}],"output_schema":{"type":"object"}}`,
		"no schema":      `{"steps":[{"description":"x"}]}`,
		"unknown type":   `{"steps":[{"description":"x"}],"output_schema":{"type":"tuple"}}`,
		"undeclared req": `{"steps":[{"description":"x"}],"output_schema":{"type":"object","required":["a"]}}`,
	}
	for name, raw := range bad {
		_, err := ParsePlan(raw)
		assert.Error(t, err, name)
	}
}

func TestGenerateRetriesWithFeedback(t *testing.T) {
	c := &scriptedClient{plans: []reply{
		{err: errors.New("connection reset")},
		{text: `{"steps":[]}`},
		{text: goodPlan},
	}}
	b := budget.Start(context.Background(), nil, time.Minute)
	defer b.Close()

	g := &PlanGenerator{Client: c}
	plan, err := g.Generate(context.Background(), b, testRequest(t))
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)

	require.Len(t, c.planIn, 3)
	assert.Empty(t, c.planIn[1].Feedback)
	assert.Contains(t, c.planIn[2].Feedback, "no steps")
	assert.Equal(t, "What is 2+2?", c.planIn[0].Question)
}

func TestGenerateExhausts(t *testing.T) {
	c := &scriptedClient{plans: []reply{{text: "garbage"}}}
	b := budget.Start(context.Background(), nil, time.Minute)
	defer b.Close()

	_, err := (&PlanGenerator{Client: c, Attempts: 3}).Generate(context.Background(), b, testRequest(t))
	assert.ErrorIs(t, err, analysis.ErrPlanGeneration)
	assert.Len(t, c.planIn, 3)
}

func TestGenerateStopsOnQuota(t *testing.T) {
	c := &scriptedClient{plans: []reply{{err: domainai.ErrQuotaExceeded}}}
	b := budget.Start(context.Background(), nil, time.Minute)
	defer b.Close()

	_, err := (&PlanGenerator{Client: c}).Generate(context.Background(), b, testRequest(t))
	assert.ErrorIs(t, err, analysis.ErrPlanGeneration)
	assert.Len(t, c.planIn, 1)
}

func TestGenerateExpiredBudget(t *testing.T) {
	c := &scriptedClient{plans: []reply{{text: goodPlan}}}
	b := budget.Start(context.Background(), nil, time.Nanosecond)
	defer b.Close()
	time.Sleep(time.Millisecond)

	_, err := (&PlanGenerator{Client: c}).Generate(context.Background(), b, testRequest(t))
	assert.ErrorIs(t, err, budget.ErrExpired)
	assert.Empty(t, c.planIn)
}

func TestSynthesize(t *testing.T) {
	plan, err := ParsePlan(goodPlan)
	require.NoError(t, err)
	c := &scriptedClient{programs: []reply{{text: "Sure!\n```python\nprint(4)\n```\n"}}}
	b := budget.Start(context.Background(), nil, time.Minute)
	defer b.Close()

	history := []analysis.Attempt{{Program: analysis.Program{Revision: 1, Source: "x"}, Diagnostic: "boom"}}
	s := &Synthesizer{Client: c}
	prog, err := s.Synthesize(context.Background(), b, SynthesisInput{
		Request: testRequest(t), Plan: plan, History: history, Revision: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, analysis.Program{Revision: 2, Language: LanguagePython, Source: "print(4)", PlanDigest: plan.Digest()}, prog)
	require.Len(t, c.progIn, 1)
	assert.Equal(t, history, c.progIn[0].History)
	assert.Equal(t, 2, c.progIn[0].Revision)
}

func TestSynthesizeErrors(t *testing.T) {
	plan, _ := ParsePlan(goodPlan)
	b := budget.Start(context.Background(), nil, time.Minute)
	defer b.Close()

	s := &Synthesizer{Client: &scriptedClient{programs: []reply{{text: "```python\n```"}}}}
	_, err := s.Synthesize(context.Background(), b, SynthesisInput{Request: testRequest(t), Plan: plan, Revision: 1})
	assert.ErrorIs(t, err, ErrNoCode)

	s = &Synthesizer{Client: &scriptedClient{programs: []reply{{err: domainai.ErrEmptyResponse}}}}
	_, err = s.Synthesize(context.Background(), b, SynthesisInput{Request: testRequest(t), Plan: plan, Revision: 1})
	assert.ErrorIs(t, err, domainai.ErrEmptyResponse)
}

func TestSynthesizeBoundedByBudget(t *testing.T) {
	plan, _ := ParsePlan(goodPlan)
	b := budget.Start(context.Background(), nil, 50*time.Millisecond)
	defer b.Close()

	s := &Synthesizer{Client: &scriptedClient{block: true}, CallTimeout: time.Minute}
	start := time.Now()
	_, err := s.Synthesize(context.Background(), b, SynthesisInput{Request: testRequest(t), Plan: plan, Revision: 1})
	assert.ErrorIs(t, err, budget.ErrExpired)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExtractPython(t *testing.T) {
	tests := map[string]struct{ in, want string }{
		"python fence":      {"text\n```python\nprint(1)\n```", "print(1)"},
		"last python wins":  {"```python\nprint(1)\n```\n```python\nprint(2)\n```", "print(2)"},
		"python over plain": {"```python\nprint(1)\n```\n```\nplain\n```", "print(1)"},
		"untagged":          {"```\nprint(3)\n```", "print(3)"},
		"no fence":          {"print(4)\n", "print(4)"},
		"unterminated":      {"```python\nprint(5)", "print(5)"},
		"other language":    {"```bash\nls\n```", ""},
	}
	for name, tt := range tests {
		assert.Equal(t, tt.want, ExtractPython(tt.in), name)
	}
}
