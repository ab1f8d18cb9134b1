package activity

import (
	"fmt"
	"strings"
)

// Status is a node's position in the lifecycle state machine.
type Status int

const (
	StatusInitialized Status = iota
	StatusExecuting
	StatusCanceling
	StatusClosed
	StatusCompensating
	StatusFaulting
)

var statusNames = [...]string{
	StatusInitialized:  "Initialized",
	StatusExecuting:    "Executing",
	StatusCanceling:    "Canceling",
	StatusClosed:       "Closed",
	StatusCompensating: "Compensating",
	StatusFaulting:     "Faulting",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Result is the outcome recorded when a node closes.
type Result int

const (
	ResultNone Result = iota
	ResultSucceeded
	ResultCanceled
	ResultCompensated
	ResultFaulted
	ResultUninitialized
)

var resultNames = [...]string{
	ResultNone:          "None",
	ResultSucceeded:     "Succeeded",
	ResultCanceled:      "Canceled",
	ResultCompensated:   "Compensated",
	ResultFaulted:       "Faulted",
	ResultUninitialized: "Uninitialized",
}

func (r Result) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return resultNames[r]
}

// MarshalText encodes the result by name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a result name.
func (r *Result) UnmarshalText(b []byte) error {
	v, err := ParseResult(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseResult parses a result name, case-insensitively.
func ParseResult(name string) (Result, error) {
	for i, n := range resultNames {
		if strings.EqualFold(n, name) {
			return Result(i), nil
		}
	}
	return 0, fmt.Errorf("unknown result %q", name)
}

// transitions lists the legal status edges.
var transitions = map[Status][]Status{
	StatusInitialized:  {StatusExecuting},
	StatusExecuting:    {StatusCanceling, StatusFaulting, StatusClosed},
	StatusCanceling:    {StatusClosed},
	StatusFaulting:     {StatusClosed},
	StatusClosed:       {StatusCompensating},
	StatusCompensating: {StatusClosed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Shape selects the dispatch strategy for a node.
type Shape int

const (
	ShapeSimple Shape = iota
	ShapeComposite
)

func (s Shape) String() string {
	switch s {
	case ShapeSimple:
		return "simple"
	case ShapeComposite:
		return "composite"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// Capability is a set of optional node traits.
type Capability uint8

const (
	// CanCompensate allows Closed -> Compensating.
	CanCompensate Capability = 1 << iota
	// SyncBoundary makes the node own a lock table for its subtree.
	SyncBoundary
	// PersistOnClose makes a successful close immediately visible and durable.
	PersistOnClose
	// AlternateFlow marks a child that is not part of the normal flow,
	// such as a fault or cancellation handler.
	AlternateFlow
)

func (c Capability) String() string {
	var parts []string
	if c&CanCompensate != 0 {
		parts = append(parts, "compensatable")
	}
	if c&SyncBoundary != 0 {
		parts = append(parts, "boundary")
	}
	if c&PersistOnClose != 0 {
		parts = append(parts, "persist-on-close")
	}
	if c&AlternateFlow != 0 {
		parts = append(parts, "alternate")
	}
	return strings.Join(parts, ",")
}
