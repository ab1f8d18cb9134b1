package compiler

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/engine"
)

// Task modes.
const (
	ModeComplete = "complete"
	ModeWait     = "wait"
	ModeFail     = "fail"
)

// Script is the with: block of a task.
type Script struct {
	// Mode is complete (the default), wait or fail.
	Mode string `mapstructure:"mode"`
	// Message is the fault message of a failing task.
	Message string `mapstructure:"message"`
	// Track is a tracking key emitted each time the task executes.
	Track string `mapstructure:"track"`
	// Compensate is complete (the default) or fail.
	Compensate string `mapstructure:"compensate"`
}

// DecodeScript decodes a raw with: map. Unknown keys are errors.
func DecodeScript(raw map[string]any) (Script, error) {
	var s Script
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return s, err
	}
	if err := dec.Decode(raw); err != nil {
		return s, fmt.Errorf("decode script: %w", err)
	}

	if s.Mode == "" {
		s.Mode = ModeComplete
	}
	switch s.Mode {
	case ModeComplete, ModeWait, ModeFail:
	default:
		return s, fmt.Errorf("unknown mode %q", s.Mode)
	}
	if s.Compensate == "" {
		s.Compensate = ModeComplete
	}
	switch s.Compensate {
	case ModeComplete, ModeFail:
	default:
		return s, fmt.Errorf("unknown compensate mode %q", s.Compensate)
	}
	return s, nil
}

// Behavior returns the engine behavior running the script on a simple
// node.
func (s Script) Behavior() *engine.Behavior {
	b := &engine.Behavior{Kind: "task"}
	if s.Mode != ModeComplete {
		b.Kind = "task:" + s.Mode
	}

	b.Execute = func(ec *engine.ExecutionContext) (activity.Status, error) {
		if s.Track != "" {
			_ = ec.Track(s.Track, ec.Activity())
		}
		switch s.Mode {
		case ModeWait:
			return activity.StatusExecuting, nil
		case ModeFail:
			return 0, s.fault(ec.Activity(), "failed")
		default:
			return activity.StatusClosed, nil
		}
	}
	if s.Compensate == ModeFail {
		b.Compensate = func(ec *engine.ExecutionContext) (activity.Status, error) {
			return 0, s.fault(ec.Activity(), "compensation failed")
		}
	}
	return b
}

func (s Script) fault(n *activity.Node, what string) error {
	if s.Message != "" {
		return errors.New(s.Message)
	}
	return fmt.Errorf("%s %s", n.Name(), what)
}
