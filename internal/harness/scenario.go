package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Query is the path to the CUE query document. LoadScenario resolves it
	// relative to the scenario file.
	Query string `yaml:"query"`

	// Workers is the engine worker count. Zero means one worker.
	Workers int `yaml:"workers,omitempty"`

	// Expect describes the outcome of the initial evaluation.
	Expect Expect `yaml:"expect"`

	// Updates are applied in order after the initial evaluation.
	Updates []UpdateStep `yaml:"updates,omitempty"`
}

// Expect is the expected outcome of one evaluation.
type Expect struct {
	// Rows is the expected result as a multiset: a row listed twice must
	// appear with multiplicity two. A nil Rows is not checked; an empty
	// list expects an empty result.
	Rows [][]any `yaml:"rows,omitempty"`

	// ErrorCode is the expected diagnostic or validation code.
	ErrorCode string `yaml:"error_code,omitempty"`

	// ErrorContains is a substring of the expected error message.
	ErrorContains string `yaml:"error_contains,omitempty"`

	// ExplainGolden is the path of a file holding the expected explain
	// output. LoadScenario resolves it relative to the scenario file.
	ExplainGolden string `yaml:"explain_golden,omitempty"`

	// RoundsAtMost bounds the total rounds of every loop in the evaluation.
	RoundsAtMost int64 `yaml:"rounds_at_most,omitempty"`

	// ReusedLoops is the expected number of loops served from the session
	// cache. Only meaningful for update steps.
	ReusedLoops *int `yaml:"reused_loops,omitempty"`
}

// failure reports whether the expectation is an error.
func (e Expect) failure() bool {
	return e.ErrorCode != "" || e.ErrorContains != ""
}

// UpdateStep changes base relations and re-evaluates incrementally.
type UpdateStep struct {
	Description string   `yaml:"description,omitempty"`
	Changes     []Change `yaml:"changes"`
	Expect      Expect   `yaml:"expect"`
}

// Change inserts and deletes rows of one base relation.
type Change struct {
	Relation string  `yaml:"relation"`
	Insert   [][]any `yaml:"insert,omitempty"`
	Delete   [][]any `yaml:"delete,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Relative query and golden paths are resolved against the scenario's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	scenario.Query = resolvePath(base, scenario.Query)
	scenario.Expect.ExplainGolden = resolvePath(base, scenario.Expect.ExplainGolden)
	for i := range scenario.Updates {
		scenario.Updates[i].Expect.ExplainGolden = resolvePath(base, scenario.Updates[i].Expect.ExplainGolden)
	}

	if _, err := os.Stat(scenario.Query); os.IsNotExist(err) {
		return nil, fmt.Errorf("invalid scenario: query file not found: %s", scenario.Query)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the file system.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "expects:" vs "expect:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Query == "" {
		return fmt.Errorf("query is required")
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if err := validateExpect("expect", s.Expect); err != nil {
		return err
	}
	if s.Expect.ReusedLoops != nil {
		return fmt.Errorf("expect: reused_loops is only valid in updates")
	}
	if s.Expect.failure() && len(s.Updates) > 0 {
		return fmt.Errorf("updates cannot follow an expected error")
	}

	for i, step := range s.Updates {
		field := fmt.Sprintf("updates[%d]", i)
		if len(step.Changes) == 0 {
			return fmt.Errorf("%s: changes list is required and must be non-empty", field)
		}
		for j, c := range step.Changes {
			if c.Relation == "" {
				return fmt.Errorf("%s.changes[%d]: relation is required", field, j)
			}
			if len(c.Insert) == 0 && len(c.Delete) == 0 {
				return fmt.Errorf("%s.changes[%d]: insert or delete is required", field, j)
			}
		}
		if err := validateExpect(field+".expect", step.Expect); err != nil {
			return err
		}
		if step.Expect.ReusedLoops != nil && *step.Expect.ReusedLoops < 0 {
			return fmt.Errorf("%s.expect: reused_loops must be non-negative", field)
		}
	}
	return nil
}

// validateExpect requires at least one checkable outcome.
func validateExpect(field string, e Expect) error {
	if e.Rows == nil && !e.failure() && e.ExplainGolden == "" && e.RoundsAtMost == 0 && e.ReusedLoops == nil {
		return fmt.Errorf("%s: at least one of rows, error_code, error_contains, explain_golden, rounds_at_most is required", field)
	}
	if e.failure() && e.Rows != nil {
		return fmt.Errorf("%s: rows and an expected error are mutually exclusive", field)
	}
	if e.RoundsAtMost < 0 {
		return fmt.Errorf("%s: rounds_at_most must be non-negative", field)
	}
	return nil
}
