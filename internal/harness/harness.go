package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/arbor/internal/compiler"
	"github.com/roach88/arbor/internal/engine"
	"github.com/roach88/arbor/internal/logging"
	"github.com/roach88/arbor/internal/store"
	"github.com/roach88/arbor/internal/testutil"
)

// Harness runs one scenario against a real executor.
type Harness struct {
	exec   *engine.Executor
	store  *store.Store
	trace  *engine.TraceRecorder
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Option configures Run.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger routes executor and harness logs to l. Logs are discarded
// by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory SQLite store, which serves as
// both the context store and a tracker, with a deterministic clock and
// guid source so the same scenario always yields the same trace. The
// returned error is reserved for setup failures; failed expectations and
// assertions are reported in the Result.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	cfg := config{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	wf, err := loadWorkflow(sc)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	instanceID := sc.InstanceID
	if instanceID == "" {
		instanceID = sc.Name
	}
	h := &Harness{
		store:  st,
		trace:  engine.NewTraceRecorder(),
		clock:  testutil.NewDeterministicClock(),
		logger: cfg.logger.With("scenario", sc.Name),
	}
	execOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithContextStore(st),
		engine.WithTracker(h.trace),
		engine.WithTracker(st),
		engine.WithClock(h.clock),
		engine.WithGUIDGenerator(testutil.NewSequentialGUIDs(instanceID)),
		engine.WithInstanceID(instanceID),
	}
	if sc.MaxSteps > 0 {
		execOpts = append(execOpts, engine.WithMaxSteps(sc.MaxSteps))
	}
	h.exec, err = engine.New(wf.Root, execOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate %s: %w", wf.Name, err)
	}

	result := NewResult()
	h.executeSteps(ctx, sc.Steps, result)

	for _, r := range h.trace.Records() {
		result.Trace = append(result.Trace, traceEvent(r))
	}
	result.State = h.exec.State().String()
	result.Outcome = h.exec.Result().String()
	result.Steps = h.exec.Steps()

	actx := &AssertionContext{
		Store:      st,
		Ctx:        ctx,
		InstanceID: instanceID,
	}
	for _, msg := range EvaluateAssertions(result, sc.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// loadWorkflow compiles the scenario's definition and picks the workflow.
func loadWorkflow(sc *Scenario) (*compiler.Workflow, error) {
	var (
		wfs []*compiler.Workflow
		err error
	)
	if sc.Source != "" {
		wfs, err = compiler.CompileSource(sc.Name+".cue", []byte(sc.Source))
	} else {
		var src []byte
		src, err = os.ReadFile(sc.Definition)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition: %w", err)
		}
		wfs, err = compiler.CompileSource(sc.Definition, src)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition: %w", err)
	}

	if sc.Workflow == "" {
		if len(wfs) > 1 {
			return nil, fmt.Errorf("definition declares %d workflows; set workflow", len(wfs))
		}
		return wfs[0], nil
	}
	for _, wf := range wfs {
		if wf.Name == sc.Workflow {
			return wf, nil
		}
	}
	return nil, fmt.Errorf("workflow %q not found in definition", sc.Workflow)
}

// executeSteps runs the steps in order. A step failing unexpectedly
// stops the flow; later steps would only report the same failure.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) {
	for i, step := range steps {
		err := h.executeStep(ctx, step)
		h.logger.Debug("step executed",
			"step", i,
			"action", step.Action,
			"activity", step.Activity,
			"state", h.exec.State(),
			"error", err,
		)
		if !h.checkExpect(i, step, err, result) {
			return
		}
	}
}

func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionStart:
		if err := h.exec.Start(); err != nil {
			return err
		}
	case ActionResume:
		if err := h.exec.Resume(); err != nil {
			return err
		}
	case ActionSignal:
		var fault error
		if step.Error != "" {
			fault = errors.New(step.Error)
		}
		h.exec.Signal(step.Context, step.Activity, fault)
	case ActionCancel:
		h.exec.Cancel(step.Context, step.Activity)
	case ActionCompensate:
		h.exec.Compensate(step.Context, step.Activity)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return h.exec.Run(ctx)
}

// checkExpect validates one step. It reports whether the flow continues.
func (h *Harness) checkExpect(i int, step Step, err error, result *Result) bool {
	label := fmt.Sprintf("steps[%d] %s", i, step.Action)
	if step.Activity != "" {
		label += " " + step.Activity
	}

	want := step.Expect
	switch {
	case want != nil && want.Error != "":
		if err == nil {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got none", label, want.Error))
		} else if !strings.Contains(err.Error(), want.Error) {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got %v", label, want.Error, err))
		}
	case err != nil:
		result.AddError(fmt.Sprintf("%s: %v", label, err))
		return false
	}
	if want == nil {
		return true
	}

	if want.State != "" {
		if got := h.exec.State().String(); !strings.EqualFold(got, want.State) {
			result.AddError(fmt.Sprintf("%s: expected state %s, got %s", label, want.State, got))
		}
	}
	if want.Result != "" {
		if got := h.exec.Result().String(); !strings.EqualFold(got, want.Result) {
			result.AddError(fmt.Sprintf("%s: expected result %s, got %s", label, want.Result, got))
		}
	}
	for _, name := range sortedKeys(want.Statuses) {
		n, ferr := h.exec.Find(0, name)
		if ferr != nil {
			result.AddError(fmt.Sprintf("%s: %v", label, ferr))
			continue
		}
		if got := n.Status().String(); !strings.EqualFold(got, want.Statuses[name]) {
			result.AddError(fmt.Sprintf("%s: expected %s to be %s, got %s", label, name, want.Statuses[name], got))
		}
	}
	return true
}
