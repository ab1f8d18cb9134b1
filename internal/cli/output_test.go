package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]string{"state": "completed"}, func(io.Writer) {
		t.Fatal("render must not run in json mode")
	}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"state": "completed"}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Error(ErrCodeNotFound, "definitions not found", []string{"a.cue"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E005", resp.Error.Code)
	assert.Equal(t, "definitions not found", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("plain", nil))
	require.NoError(t, f.Success(nil, func(w io.Writer) { fmt.Fprintln(w, "rendered") }))
	require.NoError(t, f.Error(ErrCodeGeneric, "boom", map[string]int{"line": 3}))

	out := buf.String()
	assert.Contains(t, out, "plain\n")
	assert.Contains(t, out, "rendered\n")
	assert.Contains(t, out, "Error [E001]: boom")
	assert.NotContains(t, out, "Details:")

	buf.Reset()
	f.Verbose = true
	require.NoError(t, f.Error(ErrCodeGeneric, "boom", map[string]int{"line": 3}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		errW    bool
	}{
		{"quiet", false, false},
		{"verbose_to_writer", true, false},
		{"verbose_to_err_writer", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: out, Verbose: tt.verbose}
			if tt.errW {
				f.ErrWriter = errOut
			}

			f.VerboseLog("loaded %d file(s)", 2)

			switch {
			case !tt.verbose:
				assert.Empty(t, out.String())
			case tt.errW:
				assert.Empty(t, out.String())
				assert.Equal(t, "loaded 2 file(s)\n", errOut.String())
			default:
				assert.Equal(t, "loaded 2 file(s)\n", out.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "terminated", errors.New("boom")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "outer: terminated: boom", wrapped.Error())
}
