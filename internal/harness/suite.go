package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a requested scenario file doesn't exist.
type ScenarioNotFoundError struct {
	ScenarioPath string
	ResolvedPath string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario file %q does not exist (resolved to: %s)", e.ScenarioPath, e.ResolvedPath)
}

// FindScenarios expands paths into scenario files. A directory contributes
// every .yaml and .yml file directly inside it, sorted by name; a file is
// taken as is. Relative paths are resolved from baseDir.
func FindScenarios(baseDir string, paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		resolved := p
		if !filepath.IsAbs(resolved) && baseDir != "" {
			resolved = filepath.Join(baseDir, resolved)
		}

		info, err := os.Stat(resolved)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{ScenarioPath: p, ResolvedPath: resolved}
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, resolved)
			continue
		}

		entries, err := os.ReadDir(resolved)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, filepath.Join(resolved, e.Name()))
			}
		}
		slices.Sort(found)
		out = append(out, found...)
	}
	return out, nil
}

// SuiteResult summarizes a run over many scenario files.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents one scenario that did not pass.
type ScenarioFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Name         string `json:"name,omitempty"`
	Error        string `json:"error"`
}

// RunSuite loads and runs each scenario file. Spec paths inside a scenario
// resolve relative to the scenario's own directory.
//
// For each scenario:
// 1. Load it (load failures count as failed scenarios)
// 2. Run it via Run
// 3. Collect and report results
func RunSuite(paths []string) *SuiteResult {
	result := &SuiteResult{}

	for _, path := range paths {
		result.TotalScenarios++

		scenario, err := LoadScenarioWithBasePath(path, filepath.Dir(path))
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: path,
				Error:        fmt.Sprintf("failed to load scenario: %v", err),
			})
			continue
		}

		runResult, err := Run(scenario)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: path,
				Name:         scenario.Name,
				Error:        fmt.Sprintf("scenario execution failed: %v", err),
			})
			continue
		}

		if !runResult.Pass {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: path,
				Name:         scenario.Name,
				Error:        fmt.Sprintf("scenario assertions failed: %v", runResult.Errors),
			})
			continue
		}

		result.Passed++
	}

	return result
}
