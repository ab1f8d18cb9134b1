package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_GreetSequence(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "greet_sequence.yaml"))
	require.NoError(t, err)

	result, err := RunWithGolden(t, sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRenderTrace(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Key: "start", Activity: "r", Status: "Initialized", Result: "None"},
		{Seq: 2, Key: "terminate", Context: -1, Data: "boom"},
	}
	got := string(RenderTrace("demo", trace))
	assert.Equal(t, "# demo\n1 start r@0 Initialized/None\n2 terminate boom\n", got)
}
