// Package setup loads the global settings file. Per-control behavior
// lives in the catalogue; this file only carries instance-wide
// defaults and the database location.
package setup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/t3eHawk/rapo/internal/control"
)

// Settings is the parsed global settings file.
type Settings struct {
	Database  Database  `yaml:"database"`
	Algorithm Algorithm `yaml:"algorithm"`

	// Debug keeps every temporary relation after a run terminates.
	Debug bool `yaml:"debug"`
}

// Database locates the backing database.
type Database struct {
	Path string `yaml:"path"`
}

// Algorithm carries instance-wide defaults a control's rule document
// may override.
type Algorithm struct {
	FuzzyOptimization   bool   `yaml:"fuzzy_optimization"`
	NormalizationType   string `yaml:"normalization_type"`
	DiscrepancyMatching bool   `yaml:"discrepancy_matching"`
}

// Defaults converts the algorithm section into the form rule parsing
// consumes.
func (s *Settings) Defaults() control.AlgorithmDefaults {
	kind := control.NormalizationKind(s.Algorithm.NormalizationType)
	if kind == "" {
		kind = control.NormalizationNone
	}
	return control.AlgorithmDefaults{
		FuzzyOptimization:   s.Algorithm.FuzzyOptimization,
		NormalizationKind:   kind,
		DiscrepancyMatching: s.Algorithm.DiscrepancyMatching,
	}
}

// Load reads and validates a settings file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return Parse(data)
}

// Parse decodes settings from YAML bytes.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if s.Algorithm.NormalizationType != "" {
		kind := control.NormalizationKind(s.Algorithm.NormalizationType)
		if !kind.Valid() {
			return nil, fmt.Errorf("parse settings: unknown normalization type %q",
				s.Algorithm.NormalizationType)
		}
	}
	return &s, nil
}
