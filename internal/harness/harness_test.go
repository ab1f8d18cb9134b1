package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return sc
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{
		"greet_sequence",
		"order_approved",
		"order_rejected",
		"order_compensated",
		"order_canceled",
	} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(context.Background(), loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.NotEmpty(t, result.Trace)
			assert.Positive(t, result.Steps)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	sc := loadTestScenario(t, "order_approved")

	first, err := Run(context.Background(), sc)
	require.NoError(t, err)
	second, err := Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, "completed", first.State)
	assert.Equal(t, "Succeeded", first.Outcome)
	assert.Equal(t, int64(1), first.Trace[0].Seq)
	assert.Equal(t, "order", first.Trace[0].Activity)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	sc := &Scenario{
		Name:        "wrong",
		Description: "expectations that do not hold",
		Source:      `workflow: w: {kind: "sequence", children: [{name: "wait", with: {mode: "wait"}}]}`,
		Steps: []Step{{
			Action: ActionStart,
			Expect: &ExpectClause{
				State:    "completed",
				Statuses: map[string]string{"wait": "Closed", "ghost": "Closed"},
			},
		}},
		Assertions: []Assertion{
			{Type: AssertFinalState, Outcome: "completed"},
		},
	}
	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "expected state completed, got running")
	assert.Contains(t, result.Errors[1], "ghost")
	assert.Contains(t, result.Errors[2], "expected wait to be Closed, got Executing")
	assert.Contains(t, result.Errors[3], "outcome incomplete")
}

func TestRun_ExpectedStepError(t *testing.T) {
	sc := &Scenario{
		Name:        "bad_target",
		Description: "signal of an unknown activity",
		Source:      `workflow: w: {kind: "sequence", children: [{name: "wait", with: {mode: "wait"}}]}`,
		Steps: []Step{
			{Action: ActionStart},
			{Action: ActionSignal, Activity: "nobody", Expect: &ExpectClause{Error: "does not resolve"}},
		},
	}
	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	sc.Steps[1].Expect = nil
	result, err = Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "steps[1] signal nobody")
}

func TestRun_StepQuota(t *testing.T) {
	sc := loadTestScenario(t, "greet_sequence")
	sc.MaxSteps = 2
	sc.Steps[0].Expect = &ExpectClause{Error: "max steps"}
	sc.Assertions = nil

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "running", result.State)
}

func TestRun_WorkflowSelection(t *testing.T) {
	src := `
workflow: one: {kind: "sequence", children: [{name: "x"}]}
workflow: two: {kind: "sequence", children: [{name: "y"}]}
`
	sc := &Scenario{
		Name:        "pick",
		Description: "two workflows",
		Source:      src,
		Steps:       []Step{{Action: ActionStart}},
	}
	_, err := Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares 2 workflows")

	sc.Workflow = "three"
	_, err = Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `workflow "three" not found`)

	sc.Workflow = "two"
	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, "two", result.Trace[0].Activity)

	sc.Source = "workflow: 12"
	_, err = Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile definition")
}
