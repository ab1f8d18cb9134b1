package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MemoryStore(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greet.cue", greetCUE)

	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "workflow: greet")
	assert.Contains(t, out, "store:    memory")
	assert.Contains(t, out, "state:    completed")
	assert.Contains(t, out, "result:   Succeeded")
	assert.NotContains(t, out, "Trace:")
}

func TestRun_JSONWithTrace(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greet.cue", greetCUE)

	out, err := execute(t, "--format", "json", "run", path, "--trace", "--instance", "greet-1")
	require.NoError(t, err)

	var result RunResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "greet-1", result.InstanceID)
	assert.Equal(t, "completed", result.State)
	assert.Equal(t, "Succeeded", result.Result)
	assert.Empty(t, result.Error)
	require.Len(t, result.Trace, 13)
	assert.Equal(t, "1 start greet@0 Initialized/None", result.Trace[0])
	assert.Equal(t, "4 hello a@0 Executing/None", result.Trace[3])
	assert.Equal(t, "13 status greet@0 Closed/Uninitialized committed", result.Trace[12])
}

func TestRun_SignalsWaitingTask(t *testing.T) {
	path := writeFile(t, t.TempDir(), "order.cue", orderCUE)

	out, err := execute(t, "run", path)
	require.NoError(t, err, "a waiting instance is not a failure")
	assert.Contains(t, out, "state:    running")

	out, err = execute(t, "run", path, "--signal", "approve", "--trace")
	require.NoError(t, err)
	assert.Contains(t, out, "state:    completed")
	assert.Contains(t, out, "shipped ship@0")
}

func TestRun_UnknownSignalTarget(t *testing.T) {
	path := writeFile(t, t.TempDir(), "order.cue", orderCUE)

	out, err := execute(t, "run", path, "--signal", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "signal nope")
	assert.Contains(t, out, "error:")
}

func TestRun_TerminatedInstance(t *testing.T) {
	path := writeFile(t, t.TempDir(), "boom.cue", failCUE)

	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "instance terminated")
	assert.Contains(t, out, "state:    terminated")
	assert.Contains(t, out, "out of stock")
}

func TestRun_StepQuota(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greet.cue", greetCUE)

	_, err := execute(t, "run", path, "--max-steps", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "max steps")
}

func TestRun_Metrics(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greet.cue", greetCUE)

	out, err := execute(t, "run", path, "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "Metrics:")
	assert.Contains(t, out, `arbor_instances_finished_total{outcome="completed",workflow="greet"} 1`)
	assert.Contains(t, out, `arbor_instances_running{workflow="greet"} 0`)
}

func TestRun_SQLiteStore(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "order.cue", orderCUE)
	db := filepath.Join(dir, "arbor.db")

	out, err := execute(t, "run", path, "--db", db, "--instance", "order-1", "--signal", "approve")
	require.NoError(t, err)
	assert.Contains(t, out, "store:    sqlite")
	assert.Contains(t, out, "state:    completed")

	out, err = execute(t, "trace", "order-1", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Instance: order-1 (order, completed)")
	assert.Contains(t, out, "reserved")
}

func TestRun_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeFile(t, t.TempDir(), "order.cue", orderCUE)

	out, err := execute(t, "run", path, "--store", "redis", "--redis-addr", mr.Addr(), "--signal", "approve")
	require.NoError(t, err)
	assert.Contains(t, out, "store:    redis")
	assert.Contains(t, out, "state:    completed")
}

func TestRun_StoreErrors(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greet.cue", greetCUE)

	_, err := execute(t, "run", path, "--store", "sqlite")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--db is required")

	_, err = execute(t, "run", path, "--store", "etcd")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown store "etcd"`)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = execute(t, "run", path, "--store", "redis", "--redis-addr", addr)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to reach redis")
}

func TestRun_DefinitionErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "run", filepath.Join(dir, "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "definitions not found")

	both := writeFile(t, dir, "both.cue", greetCUE+strings.TrimPrefix(orderCUE, "package defs\n"))
	_, err = execute(t, "run", both)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares 2 workflows")

	out, err := execute(t, "run", both, "-w", "order", "--signal", "approve")
	require.NoError(t, err)
	assert.Contains(t, out, "workflow: order")

	_, err = execute(t, "run", both, "-w", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `workflow "nope" not found`)
}
