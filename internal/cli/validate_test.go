package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const badCUE = `package defs

workflow: bad: {
	kind: "sequence"
	children: [
		{name: "t", children: [{name: "x"}]},
	]
}

workflow: weird: {kind: "loop"}
`

func TestValidate_Valid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.cue", greetCUE)
	writeFile(t, dir, "order.cue", orderCUE)

	out, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ greet (3 nodes)")
	assert.Contains(t, out, "✓ order (4 nodes)")

	out, err = execute(t, "--format", "json", "validate", dir)
	require.NoError(t, err)
	var result ValidationResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Len(t, result.Workflows, 2)
}

func TestValidate_ReportsEveryWorkflow(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.cue", badCUE)

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")
	assert.Contains(t, out, "✗ bad")
	assert.Contains(t, out, "E103")
	assert.Contains(t, out, "✗ weird")
	assert.Contains(t, out, ErrCodeSchema)

	out, err = execute(t, "--format", "json", "validate", path)
	require.Error(t, err)
	var result ValidationResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E103", resp.Error.Code)
	assert.False(t, result.Valid)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, "bad", result.Workflows[0].Name)
	assert.Equal(t, "weird", result.Workflows[1].Name)
	require.Len(t, result.Workflows[1].Errors, 1)
	assert.Equal(t, ErrCodeSchema, result.Workflows[1].Errors[0].Code)
}

func TestValidate_LoadErrors(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "validate", filepath.Join(dir, "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")

	out, err = execute(t, "--format", "json", "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var data any
	resp := decodeData(t, out, &data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNoFiles, resp.Error.Code)

	empty := writeFile(t, dir, "empty.cue", "package defs\n\nother: 1\n")
	out, err = execute(t, "validate", empty)
	require.Error(t, err)
	assert.Contains(t, out, ErrCodeNoWorkflow)
}
