package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/arbor/internal/compiler"
)

// ValidationResult holds the outcome of validate.
type ValidationResult struct {
	Valid     bool                 `json:"valid"`
	Workflows []WorkflowValidation `json:"workflows"`
}

// WorkflowValidation holds the problems found in one workflow.
type WorkflowValidation struct {
	Name   string                     `json:"name"`
	Nodes  int                        `json:"nodes,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definitions>",
		Short: "Check workflow definitions",
		Long: `Check every workflow in a .cue file or CUE package directory.

Each workflow is checked against the node schema and then for structural
problems: missing or duplicate names, tasks with children, replicators
without exactly one child, misplaced fields and undecodable task scripts.
All problems are reported, not just the first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	defs, err := LoadDefinitions(path)
	if err == nil {
		f.VerboseLog("loaded %d CUE file(s) from %s", defs.FileCount, path)
	}
	var result *ValidationResult
	if err == nil {
		result, err = ValidateDefinitions(defs)
	}
	if err != nil {
		code := ErrCodeGeneric
		var le *LoadError
		if errors.As(err, &le) {
			code = le.Code
		}
		_ = f.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "validation could not run", err)
	}

	if result.Valid {
		return f.Success(result, func(w io.Writer) {
			for _, wf := range result.Workflows {
				fmt.Fprintf(w, "✓ %s (%d nodes)\n", wf.Name, wf.Nodes)
			}
		})
	}

	count := 0
	for _, wf := range result.Workflows {
		count += len(wf.Errors)
	}
	if f.Format == "json" {
		first := firstValidationError(result)
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
	} else {
		renderValidation(f.Writer, result)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
}

// ValidateDefinitions parses and validates every declared workflow.
func ValidateDefinitions(defs *Definitions) (*ValidationResult, error) {
	labels, err := defs.Labels()
	if err != nil {
		return nil, err
	}
	result := &ValidationResult{Valid: true}
	for _, label := range labels {
		wv := WorkflowValidation{Name: label}
		spec, err := compiler.Parse(defs.Lookup(label))
		if err != nil {
			wv.Errors = append(wv.Errors, parseValidationError(label, err))
		} else {
			wv.Name = spec.Name
			spec.Root.Walk(func(*compiler.NodeSpec) { wv.Nodes++ })
			wv.Errors = compiler.Validate(spec)
		}
		if len(wv.Errors) > 0 {
			result.Valid = false
		}
		result.Workflows = append(result.Workflows, wv)
	}
	return result, nil
}

// parseValidationError reports a definition that does not unify with the
// node schema.
func parseValidationError(label string, err error) compiler.ValidationError {
	ve := compiler.ValidationError{Field: "workflow." + label, Message: err.Error(), Code: ErrCodeSchema}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		ve.Field, ve.Message = ce.Field, ce.Message
		if ce.Pos.IsValid() {
			ve.Line = ce.Pos.Line()
		}
	}
	return ve
}

func firstValidationError(r *ValidationResult) compiler.ValidationError {
	for _, wf := range r.Workflows {
		if len(wf.Errors) > 0 {
			return wf.Errors[0]
		}
	}
	return compiler.ValidationError{}
}

func renderValidation(w io.Writer, r *ValidationResult) {
	for _, wf := range r.Workflows {
		if len(wf.Errors) == 0 {
			fmt.Fprintf(w, "✓ %s (%d nodes)\n", wf.Name, wf.Nodes)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", wf.Name)
		for _, e := range wf.Errors {
			if e.Line > 0 {
				fmt.Fprintf(w, "  line %d: %s: %s: %s\n", e.Line, e.Code, e.Field, e.Message)
			} else {
				fmt.Fprintf(w, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
			}
		}
	}
}
