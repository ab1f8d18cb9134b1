package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/arbor/internal/activity"
)

// ProtocolError reports misuse of the runtime contract.
//
// Protocol errors include:
//   - Illegal status transitions
//   - Closing a composite that still has active children or contexts
//   - Context operations on contexts the manager does not own
//   - Items addressed to unknown contexts or activities
//
// They are never retried and never routed through fault handling.
type ProtocolError struct {
	// Code identifies the error category.
	Code ProtocolErrorCode
	// Message is a human-readable description.
	Message string
	// Activity is the qualified name of the node involved, if any.
	Activity string
	// ContextID is the execution context the node lives in, or -1.
	ContextID int
	// Err is the underlying cause, if any.
	Err error
}

// ProtocolErrorCode categorizes protocol errors.
type ProtocolErrorCode string

const (
	// ErrCodeInvalidTransition indicates a status change outside the legal edges.
	ErrCodeInvalidTransition ProtocolErrorCode = "INVALID_TRANSITION"
	// ErrCodeInvalidClose indicates a close with active children or contexts.
	ErrCodeInvalidClose ProtocolErrorCode = "INVALID_CLOSE"
	// ErrCodeInvalidContext indicates a context operation on a context in the wrong state.
	ErrCodeInvalidContext ProtocolErrorCode = "INVALID_CONTEXT"
	// ErrCodeInvalidLockRequest indicates a malformed lock acquisition.
	ErrCodeInvalidLockRequest ProtocolErrorCode = "INVALID_LOCK_REQUEST"
	// ErrCodeUnknownActivity indicates a name that does not resolve in its context.
	ErrCodeUnknownActivity ProtocolErrorCode = "UNKNOWN_ACTIVITY"
	// ErrCodeUnknownContext indicates a context id with no registered activity.
	ErrCodeUnknownContext ProtocolErrorCode = "UNKNOWN_CONTEXT"
	// ErrCodeContextNotFound indicates a persisted context that cannot be loaded.
	ErrCodeContextNotFound ProtocolErrorCode = "CONTEXT_NOT_FOUND"
	// ErrCodeInvalidArgument indicates a bad argument to a runtime operation.
	ErrCodeInvalidArgument ProtocolErrorCode = "INVALID_ARGUMENT"
	// ErrCodeQuotaExceeded indicates the executor dispatched more items than allowed.
	ErrCodeQuotaExceeded ProtocolErrorCode = "QUOTA_EXCEEDED"
)

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Activity != "" {
		msg = fmt.Sprintf("%s (activity=%s, context=%d)", msg, e.Activity, e.ContextID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func newProtocolError(code ProtocolErrorCode, n *activity.Node, format string, args ...any) *ProtocolError {
	pe := &ProtocolError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		ContextID: -1,
	}
	if n != nil {
		pe.Activity = n.QualifiedName()
		pe.ContextID = ContextIDOf(n)
	}
	return pe
}

func wrapProtocolError(code ProtocolErrorCode, n *activity.Node, err error) *ProtocolError {
	pe := newProtocolError(code, n, "rejected")
	pe.Err = err
	return pe
}

// IsProtocolError returns true if err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsInvalidClose returns true if err reports a close with active children.
func IsInvalidClose(err error) bool {
	return hasCode(err, ErrCodeInvalidClose)
}

// IsInvalidTransition returns true if err reports an illegal status change.
func IsInvalidTransition(err error) bool {
	return hasCode(err, ErrCodeInvalidTransition)
}

// IsQuotaError returns true if err reports an exhausted step quota.
func IsQuotaError(err error) bool {
	return hasCode(err, ErrCodeQuotaExceeded)
}

// IsInvalidArgument returns true if err reports a bad runtime argument.
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrCodeInvalidArgument)
}

// IsInvalidLockRequest returns true if err reports malformed handles.
func IsInvalidLockRequest(err error) bool {
	return hasCode(err, ErrCodeInvalidLockRequest)
}

func hasCode(err error, code ProtocolErrorCode) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// NewQuotaError creates a ProtocolError for an exhausted step quota.
func NewQuotaError(steps, maxSteps int) *ProtocolError {
	return &ProtocolError{
		Code:      ErrCodeQuotaExceeded,
		Message:   fmt.Sprintf("instance exceeded max steps (%d > %d)", steps, maxSteps),
		ContextID: -1,
	}
}

// FaultError is the error an instance terminates with when a business
// fault escapes the root.
type FaultError struct {
	// Activity is the node the fault was last routed through.
	Activity string
	Err      error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("unhandled fault in %s: %v", e.Activity, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}
