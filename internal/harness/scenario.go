package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario drives one workflow instance through a list of steps and then
// checks its tracking trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definition is the CUE file declaring the workflow, relative to the
	// scenario file. Exactly one of Definition and Source is set.
	Definition string `yaml:"definition,omitempty"`

	// Source is an inline CUE definition.
	Source string `yaml:"source,omitempty"`

	// Workflow selects a workflow when the definition declares several.
	Workflow string `yaml:"workflow,omitempty"`

	// InstanceID defaults to the scenario name.
	InstanceID string `yaml:"instance_id,omitempty"`

	// MaxSteps bounds dispatched items; zero keeps the engine default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one host request followed by a drain of the queue.
type Step struct {
	// Action is start, signal, cancel, compensate or resume.
	Action string `yaml:"action"`

	// Activity and Context address the target of signal, cancel and
	// compensate.
	Activity string `yaml:"activity,omitempty"`
	Context  int    `yaml:"context,omitempty"`

	// Error makes a signal fault the activity instead of closing it.
	Error string `yaml:"error,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause is checked after a step has drained.
type ExpectClause struct {
	// State is the instance state: running, completed, terminated...
	State string `yaml:"state,omitempty"`

	// Result is the root's close result.
	Result string `yaml:"result,omitempty"`

	// Statuses maps activity names, resolved in context 0, to statuses.
	Statuses map[string]string `yaml:"statuses,omitempty"`

	// Error is a substring the step's error must contain. Without it the
	// step must not fail.
	Error string `yaml:"error,omitempty"`
}

// TraceMatch selects tracking records. Empty fields match anything; Data
// matches by substring.
type TraceMatch struct {
	Key      string `yaml:"key,omitempty"`
	Activity string `yaml:"activity,omitempty"`
	Status   string `yaml:"status,omitempty"`
	Result   string `yaml:"result,omitempty"`
	Data     string `yaml:"data,omitempty"`
}

// Assertion validates the trace or the persisted outcome.
type Assertion struct {
	// Type is trace_contains, trace_order, trace_count or final_state.
	Type string `yaml:"type"`

	// The inline match is used by trace_contains and trace_count.
	// final_state reuses Result.
	TraceMatch `yaml:",inline"`

	// Count is the exact number of matches for trace_count.
	Count *int `yaml:"count,omitempty"`

	// Sequence lists matches that must occur in order for trace_order.
	Sequence []TraceMatch `yaml:"sequence,omitempty"`

	// Outcome is the stored outcome for final_state: completed,
	// terminated or incomplete.
	Outcome string `yaml:"outcome,omitempty"`

	// OpenContexts is the number of completed contexts still stored.
	OpenContexts *int `yaml:"open_contexts,omitempty"`
}

// Step actions.
const (
	ActionStart      = "start"
	ActionSignal     = "signal"
	ActionCancel     = "cancel"
	ActionCompensate = "compensate"
	ActionResume     = "resume"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. The definition path
// is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Definition != "" && !filepath.IsAbs(sc.Definition) {
		sc.Definition = filepath.Join(filepath.Dir(path), sc.Definition)
	}
	if sc.Definition != "" {
		if _, err := os.Stat(sc.Definition); os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: definition file not found: %s", path, sc.Definition)
		}
	}
	return sc, nil
}

// ParseScenario decodes and validates scenario YAML. Unknown fields are
// rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch {
	case s.Definition == "" && s.Source == "":
		return fmt.Errorf("one of definition or source is required")
	case s.Definition != "" && s.Source != "":
		return fmt.Errorf("definition and source are mutually exclusive")
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Steps[0].Action != ActionStart {
		return fmt.Errorf("steps[0]: the first step must be %q", ActionStart)
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch step.Action {
	case ActionStart, ActionResume:
		if step.Activity != "" {
			return fmt.Errorf("steps[%d]: %s takes no activity", i, step.Action)
		}
	case ActionSignal, ActionCancel, ActionCompensate:
		if step.Activity == "" {
			return fmt.Errorf("steps[%d]: activity is required for %s", i, step.Action)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
	}
	if step.Error != "" && step.Action != ActionSignal {
		return fmt.Errorf("steps[%d]: error is only valid on signal", i)
	}
	if step.Context < 0 {
		return fmt.Errorf("steps[%d]: context must be non-negative", i)
	}
	if step.Action == ActionStart && i > 0 {
		return fmt.Errorf("steps[%d]: start may only be the first step", i)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Key == "" && a.Activity == "" {
			return fmt.Errorf("assertions[%d]: key or activity is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Sequence) < 2 {
			return fmt.Errorf("assertions[%d]: sequence needs at least two entries for trace_order", index)
		}
	case AssertTraceCount:
		if a.Key == "" && a.Activity == "" {
			return fmt.Errorf("assertions[%d]: key or activity is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: a non-negative count is required for trace_count", index)
		}
	case AssertFinalState:
		switch a.Outcome {
		case "", "completed", "terminated", "incomplete":
		default:
			return fmt.Errorf("assertions[%d]: unknown outcome %q", index, a.Outcome)
		}
		if a.Outcome == "" && a.Result == "" && a.OpenContexts == nil {
			return fmt.Errorf("assertions[%d]: final_state needs outcome, result or open_contexts", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
