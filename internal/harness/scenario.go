// Package harness runs declarative reconciliation scenarios.
//
// A scenario file seeds both sources, configures one control and
// states the expected outcome: terminal status, per-type result
// counts, or a run error code. Scenarios live in testdata and double
// as executable documentation of the matching semantics.
package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Row is one seeded source record in (key, date, value) order.
type Row []any

// Scenario defines a conformance scenario over the two standard
// sources (k INTEGER, d TEXT, v INTEGER).
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rule is the control's rule configuration document (JSON).
	Rule string `yaml:"rule"`

	// OutputLimit caps saved result rows when set.
	OutputLimit int `yaml:"output_limit,omitempty"`

	// SourceA and SourceB seed the two sides.
	SourceA []Row `yaml:"source_a,omitempty"`
	SourceB []Row `yaml:"source_b,omitempty"`

	// Expect states the outcome assertions.
	Expect Expectation `yaml:"expect"`
}

// Expectation is the asserted outcome of a scenario run.
type Expectation struct {
	// Status is the expected terminal run status (D, E, C).
	Status string `yaml:"status"`

	// ErrorCode, when set, is the expected run error code.
	ErrorCode string `yaml:"error_code,omitempty"`

	// ResultA and ResultB are the expected result-table tallies per
	// rapo_result_type. An omitted map asserts an empty table.
	ResultA map[string]int `yaml:"result_a,omitempty"`
	ResultB map[string]int `yaml:"result_b,omitempty"`

	// NoResults asserts that the result tables were never created.
	NoResults bool `yaml:"no_results,omitempty"`
}

// Load reads one scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s has no name", path)
	}
	if s.Rule == "" {
		return nil, fmt.Errorf("scenario %s has no rule", path)
	}
	return &s, nil
}
