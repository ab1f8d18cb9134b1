package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// CompileSource compiles every workflow declared in one CUE source.
// Workflows are returned in declaration order.
func CompileSource(filename string, src []byte) ([]*Workflow, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return CompileAll(v)
}

// CompileDir loads the CUE package in dir and compiles its workflows.
func CompileDir(dir string) ([]*Workflow, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("definitions directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}
	v := cuecontext.New().BuildInstance(instances[0])
	return CompileAll(v)
}

// CompileAll compiles every field of v's workflow struct.
func CompileAll(v cue.Value) ([]*Workflow, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	wfVal := v.LookupPath(cue.ParsePath("workflow"))
	if !wfVal.Exists() {
		return nil, &CompileError{Field: "workflow", Message: "no workflows declared", Pos: v.Pos()}
	}
	iter, err := wfVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []*Workflow
	for iter.Next() {
		wf, err := Compile(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: "workflow", Message: "no workflows declared", Pos: wfVal.Pos()}
	}
	return out, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}
