package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/arbor/internal/compiler"
)

// Error codes shared by all commands. Definition problems found by
// compiler.Validate use the compiler's E1xx codes.
const (
	ErrCodeGeneric     = "E001" // unclassified
	ErrCodeScanError   = "E002" // directory walk failed
	ErrCodeNoFiles     = "E003" // no .cue files
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path or instance not found
	ErrCodeBuildFailed = "E006" // CUE evaluation failed
	ErrCodeStore       = "E007" // store could not be opened or read
	ErrCodeNoWorkflow  = "E008" // no workflow declared or selected
	ErrCodeSchema      = "E100" // node does not match the definition schema
)

// LoadError is a failure to load definitions, with a CUE position when
// one is known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Definitions is the evaluated CUE of a definitions path.
type Definitions struct {
	Path      string
	Value     cue.Value
	FileCount int
}

// LoadDefinitions evaluates the CUE at path. path is either a single
// .cue file or a directory holding one CUE package.
func LoadDefinitions(path string) (*Definitions, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("accessing %s: %v", path, err)}
	}

	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
		}
		v := cuecontext.New().CompileBytes(src, cue.Filename(filepath.Base(path)))
		if err := v.Err(); err != nil {
			return nil, cueLoadError(ErrCodeBuildFailed, err)
		}
		return &Definitions{Path: path, Value: v, FileCount: 1}, nil
	}

	files, err := compiler.FindCUEFiles(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("scanning %s: %v", path, err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	if err := instances[0].Err; err != nil {
		return nil, cueLoadError(ErrCodeLoadFailed, err)
	}
	v := cuecontext.New().BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	return &Definitions{Path: path, Value: v, FileCount: len(files)}, nil
}

// Labels returns the workflow labels in declaration order.
func (d *Definitions) Labels() ([]string, error) {
	wf := d.Value.LookupPath(cue.ParsePath("workflow"))
	if !wf.Exists() {
		return nil, &LoadError{Code: ErrCodeNoWorkflow, Message: "no workflows declared", Pos: d.Value.Pos()}
	}
	iter, err := wf.Fields()
	if err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	var labels []string
	for iter.Next() {
		labels = append(labels, iter.Label())
	}
	if len(labels) == 0 {
		return nil, &LoadError{Code: ErrCodeNoWorkflow, Message: "no workflows declared", Pos: wf.Pos()}
	}
	return labels, nil
}

// Lookup returns the CUE value of workflow label.
func (d *Definitions) Lookup(label string) cue.Value {
	return d.Value.LookupPath(cue.MakePath(cue.Str("workflow"), cue.Str(label)))
}

// Workflow compiles one workflow. An empty name selects the only
// declared workflow.
func (d *Definitions) Workflow(name string) (*compiler.Workflow, error) {
	labels, err := d.Labels()
	if err != nil {
		return nil, err
	}
	if name == "" {
		if len(labels) != 1 {
			return nil, &LoadError{
				Code:    ErrCodeNoWorkflow,
				Message: fmt.Sprintf("%s declares %d workflows; pass --workflow", d.Path, len(labels)),
			}
		}
		name = labels[0]
	}
	v := d.Lookup(name)
	if !v.Exists() {
		return nil, &LoadError{Code: ErrCodeNoWorkflow, Message: fmt.Sprintf("workflow %q not found", name)}
	}
	wf, err := compiler.Compile(v)
	if err != nil {
		return nil, compileLoadError(err)
	}
	return wf, nil
}

func cueLoadError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	le := &LoadError{Code: code, Message: errs[0].Error()}
	if pos := cueerrors.Positions(errs[0]); len(pos) > 0 {
		le.Pos = pos[0]
	}
	return le
}

func compileLoadError(err error) *LoadError {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return &LoadError{Code: ErrCodeSchema, Message: ce.Message, Pos: ce.Pos}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}
