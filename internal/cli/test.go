package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/arbor/internal/harness"
	"github.com/roach88/arbor/internal/logging"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter   string // glob on scenario file names
	Parallel int
}

// ScenarioResult is one scenario line of the test report.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the test report.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run scenario files",
		Long: `Run YAML scenario files against their workflow definitions.

<scenarios> is a scenario file or a directory searched for .yaml and .yml
files. Each scenario names its own definition, drives one instance with
start, signal, cancel, compensate and resume steps, and asserts on the
tracking log and final state.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (invalid paths, etc.)

Examples:
  arbor test ./scenarios
  arbor test ./scenarios --filter "order_*" --parallel 4
  arbor test ./scenarios/order_approved.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenario files matching this glob")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 1, "scenarios to run at once")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	paths, err := scenarioPaths(path, opts.Filter)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return f.Success(TestResult{Scenarios: []ScenarioResult{}}, func(w io.Writer) {
			fmt.Fprintln(w, "No scenarios found.")
		})
	}
	f.VerboseLog("running %d scenario(s), %d at a time", len(paths), max(opts.Parallel, 1))

	var hopts []harness.Option
	if opts.Verbose {
		hopts = append(hopts, harness.WithLogger(logging.NewWriter(f.errWriter(), logging.ParseLevel(true))))
	}
	sr, err := harness.RunSuite(commandContext(cmd), paths, opts.Parallel, hopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "test run interrupted", err)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, len(paths)),
		Total:     sr.Total,
		Passed:    sr.Passed,
		Failed:    sr.Failed,
	}
	for i, res := range sr.Results {
		result.Scenarios[i] = ScenarioResult{
			Name:   sr.Names[i],
			Path:   paths[i],
			Pass:   res.Pass,
			Steps:  res.Steps,
			Errors: res.Errors,
		}
	}

	if err := f.Success(result, func(w io.Writer) { renderTests(w, result) }); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

// scenarioPaths resolves a file or directory argument to scenario files.
func scenarioPaths(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", path))
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to access scenarios", err)
	}
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid filter", err)
		}
	}

	var all []string
	if info.IsDir() {
		all, err = harness.FindScenarios(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
	} else {
		all = []string{path}
	}

	if filter == "" {
		return all, nil
	}
	var out []string
	for _, p := range all {
		if ok, _ := filepath.Match(filter, filepath.Base(p)); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func renderTests(w io.Writer, r TestResult) {
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s (%d steps)\n", s.Name, s.Steps)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
}
