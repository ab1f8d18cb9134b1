package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/arbor/internal/engine"
	"github.com/roach88/arbor/internal/logging"
	"github.com/roach88/arbor/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store      string
	RedisAddr  string
	Workflow   string
	InstanceID string
	MaxSteps   int
	Signals    []string
	Trace      bool
	Metrics    bool
}

// RunResult is the outcome of one run.
type RunResult struct {
	Workflow   string   `json:"workflow"`
	InstanceID string   `json:"instance_id"`
	Store      string   `json:"store"`
	State      string   `json:"state"`
	Result     string   `json:"result"`
	Steps      int      `json:"steps"`
	Error      string   `json:"error,omitempty"`
	Trace      []string `json:"trace,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definitions>",
		Short: "Execute a workflow instance",
		Long: `Execute one instance of a workflow until its queue drains.

<definitions> is a .cue file or a directory holding one CUE package. Tasks
declared with mode "wait" stay executing until signaled; --signal finishes
them in order, draining the queue after each one.

Without --store the instance is kept in memory, or in SQLite when --db is
given. The redis store keeps completed contexts in Redis and, with --db,
still writes the tracking log to SQLite.

Examples:
  arbor run ./defs
  arbor run ./defs/order.cue --signal approve --trace
  arbor run ./defs --workflow order --db ./arbor.db --instance order-1
  arbor run ./defs --store redis --redis-addr localhost:6379`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "context store (memory|sqlite|redis)")
	cmd.Flags().StringVar(&opts.RedisAddr, "redis-addr", "localhost:6379", "redis address for --store redis")
	cmd.Flags().StringVarP(&opts.Workflow, "workflow", "w", "", "workflow to run when several are declared")
	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "instance id (default: the root context guid)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "maximum dispatched items (0 = unbounded)")
	cmd.Flags().StringSliceVar(&opts.Signals, "signal", nil, "finish a waiting task by name (repeatable)")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include the tracking log in the output")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics after the run (text format only)")

	return cmd
}

func runWorkflow(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := logging.NewWriter(cmd.ErrOrStderr(), logging.ParseLevel(opts.Verbose))

	defs, err := LoadDefinitions(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load definitions", err)
	}
	wf, err := defs.Workflow(opts.Workflow)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile workflow", err)
	}
	f.VerboseLog("compiled workflow %s from %d file(s)", wf.Name, defs.FileCount)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, opts.Store, opts.Database, opts.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	trace := engine.NewTraceRecorder()
	execOpts := append(be.options(),
		engine.WithLogger(logger),
		engine.WithTracker(trace),
		engine.WithTracker(metrics.NewCollector(registry)),
		engine.WithMaxSteps(opts.MaxSteps),
	)
	if opts.InstanceID != "" {
		execOpts = append(execOpts, engine.WithInstanceID(opts.InstanceID))
	}
	exec, err := engine.New(wf.Root, execOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create instance", err)
	}

	runErr := drive(ctx, exec, opts.Signals)

	result := RunResult{
		Workflow:   wf.Name,
		InstanceID: exec.InstanceID(),
		Store:      be.kind,
		State:      exec.State().String(),
		Result:     exec.Result().String(),
		Steps:      exec.Steps(),
	}
	switch {
	case runErr != nil:
		result.Error = runErr.Error()
	case exec.Err() != nil:
		result.Error = exec.Err().Error()
	}
	if opts.Trace {
		result.Trace = trace.Lines()
	}

	if err := f.Success(result, func(w io.Writer) {
		renderRun(w, result)
		if opts.Metrics {
			writeMetrics(w, registry)
		}
	}); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if exec.State() == engine.StateTerminated {
		return WrapExitError(ExitFailure, "instance terminated", exec.Err())
	}
	return nil
}

// drive starts the instance, drains it and then delivers each signal,
// draining after every one. It stops early once the instance is no longer
// running.
func drive(ctx context.Context, exec *engine.Executor, signals []string) error {
	if err := exec.Start(); err != nil {
		return err
	}
	if err := exec.Run(ctx); err != nil {
		return err
	}
	for _, name := range signals {
		if exec.State() != engine.StateRunning {
			break
		}
		exec.Signal(0, name, nil)
		if err := exec.Run(ctx); err != nil {
			return fmt.Errorf("signal %s: %w", name, err)
		}
	}
	return nil
}

func renderRun(w io.Writer, r RunResult) {
	fmt.Fprintf(w, "workflow: %s\n", r.Workflow)
	fmt.Fprintf(w, "instance: %s\n", r.InstanceID)
	fmt.Fprintf(w, "store:    %s\n", r.Store)
	fmt.Fprintf(w, "state:    %s\n", r.State)
	fmt.Fprintf(w, "result:   %s\n", r.Result)
	fmt.Fprintf(w, "steps:    %d\n", r.Steps)
	if r.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", r.Error)
	}
	if len(r.Trace) > 0 {
		fmt.Fprintln(w, "\nTrace:")
		for _, line := range r.Trace {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		fmt.Fprintf(w, "\nmetrics unavailable: %v\n", err)
		return
	}
	fmt.Fprintln(w, "\nMetrics:")
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			fmt.Fprintf(w, "metrics unavailable: %v\n", err)
			return
		}
	}
}

// commandContext returns the command's context, which tests set, or
// context.Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
