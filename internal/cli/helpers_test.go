package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const greetCUE = `package defs

workflow: greet: {
	kind: "sequence"
	children: [
		{name: "a", with: {track: "hello"}},
		{name: "b"},
	]
}
`

const orderCUE = `package defs

workflow: order: {
	kind: "sequence"
	children: [
		{name: "reserve", compensatable: true, with: {track: "reserved"}},
		{name: "approve", with: {mode: "wait"}},
		{name: "ship", with: {track: "shipped"}},
	]
}
`

const failCUE = `package defs

workflow: boom: {
	kind: "sequence"
	children: [
		{name: "pick"},
		{name: "pack", with: {mode: "fail", message: "out of stock"}},
	]
}
`

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns what it wrote to
// stdout. Logs and verbose output go to a separate buffer.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// decodeData decodes a JSON CLIResponse and returns its data re-encoded
// into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
	return resp
}
