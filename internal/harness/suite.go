package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SuiteResult summarizes a run over many scenario files.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`

	// Names and Results are indexed like the paths passed to RunSuite.
	Names   []string  `json:"-"`
	Results []*Result `json:"-"`
}

// ScenarioFailure describes one failing scenario.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// FindScenarios returns every .yaml and .yml file below dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// RunSuite loads and runs the scenario files, up to parallel at a time.
// Scenarios are independent, each with its own store. A file that does
// not load counts as a failure; the returned error is only set when ctx
// is done.
func RunSuite(ctx context.Context, paths []string, parallel int, opts ...Option) (*SuiteResult, error) {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]*Result, len(paths))
	names := make([]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			names[i] = filepath.Base(path)
			sc, err := LoadScenario(path)
			if err != nil {
				results[i] = failed(err)
				return nil
			}
			names[i] = sc.Name
			res, err := Run(gctx, sc, opts...)
			if err != nil {
				res = failed(err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sr := &SuiteResult{Total: len(paths), Names: names, Results: results}
	for i, res := range results {
		if res.Pass {
			sr.Passed++
			continue
		}
		sr.Failed++
		sr.Failures = append(sr.Failures, ScenarioFailure{
			Scenario: names[i],
			Path:     paths[i],
			Errors:   res.Errors,
		})
	}
	return sr, nil
}

func failed(err error) *Result {
	r := NewResult()
	r.AddError(fmt.Sprint(err))
	return r
}
