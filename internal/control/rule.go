package control

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizationKind selects how numeric inputs of discrepancy rules
// are scaled before the distance computation.
type NormalizationKind string

const (
	// NormalizationNone keeps values as they are.
	NormalizationNone NormalizationKind = "none"

	// NormalizationDefault resolves to the globally configured kind,
	// or none when no global override exists.
	NormalizationDefault NormalizationKind = "default"

	// NormalizationMinMax rescales to [0, 1] over the observed range.
	NormalizationMinMax NormalizationKind = "minmax"

	// NormalizationRank replaces values with their dense rank.
	NormalizationRank NormalizationKind = "rank"

	// NormalizationZNorm centers on the mean in stddev units.
	NormalizationZNorm NormalizationKind = "z_norm"
)

// Valid reports whether the kind is a known normalization.
func (n NormalizationKind) Valid() bool {
	switch n {
	case NormalizationNone, NormalizationDefault, NormalizationMinMax,
		NormalizationRank, NormalizationZNorm:
		return true
	}
	return false
}

// CorrelationRule pairs one field per side whose equality contributes
// to pairing A and B rows.
type CorrelationRule struct {
	FieldA      string `json:"field_a"`
	FieldB      string `json:"field_b"`
	AllowNull   bool   `json:"allow_null"`
	FormulaMode bool   `json:"formula_mode"`
}

// DiscrepancyRule pairs one numeric field per side whose difference
// is measured against a tolerance interval.
type DiscrepancyRule struct {
	FieldA         string  `json:"field_a"`
	FieldB         string  `json:"field_b"`
	ToleranceFrom  float64 `json:"numeric_tolerance_from"`
	ToleranceTo    float64 `json:"numeric_tolerance_to"`
	PercentageMode bool    `json:"percentage_mode"`
	FormulaMode    bool    `json:"formula_mode"`
	FormulaAlias   string  `json:"formula_alias"`
}

// Name is the field name used in discrepancy descriptions.
func (d DiscrepancyRule) Name() string {
	if d.FormulaAlias != "" {
		return strings.ToLower(d.FormulaAlias)
	}
	return strings.ToLower(d.FieldA)
}

// CorrelationLimit caps the number of candidate pairs the correlator
// may materialize. Disabled, automatic (2.5 x the larger source), or
// an explicit row count.
type CorrelationLimit struct {
	Enabled bool
	Cap     int // 0 means automatic
}

// UnmarshalJSON accepts false, true, or a positive integer, matching
// the catalogue document format.
func (l *CorrelationLimit) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*l = CorrelationLimit{Enabled: b}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n <= 0 {
			return fmt.Errorf("correlation_limit must be positive, got %d", n)
		}
		*l = CorrelationLimit{Enabled: true, Cap: n}
		return nil
	}
	return fmt.Errorf("correlation_limit must be a boolean or an integer")
}

// Resolve computes the effective pair cap for the given source sizes.
// Zero means no cap.
func (l CorrelationLimit) Resolve(fetchedA, fetchedB int64) int64 {
	if !l.Enabled {
		return 0
	}
	if l.Cap > 0 {
		return int64(l.Cap)
	}
	larger := fetchedA
	if fetchedB > larger {
		larger = fetchedB
	}
	limit := larger * 5 / 2
	if larger*5%2 != 0 {
		limit++
	}
	return limit
}

// RuleConfig is the per-control reconciliation rule set.
type RuleConfig struct {
	NeedIssuesA bool
	NeedIssuesB bool
	NeedReconsA bool
	NeedReconsB bool

	AllowDuplicates     bool
	FuzzyOptimization   bool
	DiscrepancyMatching bool

	Normalization NormalizationKind

	TimeShiftFrom int
	TimeShiftTo   int

	TimeToleranceFrom int
	TimeToleranceTo   int

	CorrelationLimit CorrelationLimit

	OutputLimitA int
	OutputLimitB int

	CorrelationConfig []CorrelationRule
	DiscrepancyConfig []DiscrepancyRule
}

// TimeChecked reports whether resolved pairs are checked against the
// time tolerance envelope. A zero envelope disables the check: the
// shift envelope alone bounded candidate pairing.
func (r *RuleConfig) TimeChecked() bool {
	return r.TimeToleranceFrom != 0 || r.TimeToleranceTo != 0
}

// AlgorithmDefaults carries the globally configured fallbacks applied
// when a rule document omits the corresponding toggle.
type AlgorithmDefaults struct {
	FuzzyOptimization   bool
	NormalizationKind   NormalizationKind
	DiscrepancyMatching bool
}

// ruleDocument mirrors the catalogue JSON. Optional toggles use
// pointers so omitted keys fall back to the global defaults.
type ruleDocument struct {
	NeedIssuesA         bool              `json:"need_issues_a"`
	NeedIssuesB         bool              `json:"need_issues_b"`
	NeedReconsA         bool              `json:"need_recons_a"`
	NeedReconsB         bool              `json:"need_recons_b"`
	AllowDuplicates     bool              `json:"allow_duplicates"`
	FuzzyOptimization   *bool             `json:"fuzzy_optimization"`
	DiscrepancyMatching *bool             `json:"discrepancy_matching"`
	NormalizationType   *string           `json:"normalization_type"`
	TimeShiftFrom       int               `json:"time_shift_from"`
	TimeShiftTo         int               `json:"time_shift_to"`
	TimeToleranceFrom   int               `json:"time_tolerance_from"`
	TimeToleranceTo     int               `json:"time_tolerance_to"`
	CorrelationLimit    *CorrelationLimit `json:"correlation_limit"`
	OutputLimitA        int               `json:"output_limit_a"`
	OutputLimitB        int               `json:"output_limit_b"`
	CorrelationConfig   []CorrelationRule `json:"correlation_config"`
	DiscrepancyConfig   []DiscrepancyRule `json:"discrepancy_config"`
}

// ParseRuleConfig decodes a catalogue rule document and folds in the
// global algorithm defaults.
func ParseRuleConfig(raw string, defaults AlgorithmDefaults) (RuleConfig, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var doc ruleDocument
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return RuleConfig{}, fmt.Errorf("parse rule config: %w", err)
	}

	out := RuleConfig{
		NeedIssuesA:         doc.NeedIssuesA,
		NeedIssuesB:         doc.NeedIssuesB,
		NeedReconsA:         doc.NeedReconsA,
		NeedReconsB:         doc.NeedReconsB,
		AllowDuplicates:     doc.AllowDuplicates,
		FuzzyOptimization:   defaults.FuzzyOptimization,
		DiscrepancyMatching: defaults.DiscrepancyMatching,
		Normalization:       NormalizationDefault,
		TimeShiftFrom:       doc.TimeShiftFrom,
		TimeShiftTo:         doc.TimeShiftTo,
		TimeToleranceFrom:   doc.TimeToleranceFrom,
		TimeToleranceTo:     doc.TimeToleranceTo,
		OutputLimitA:        doc.OutputLimitA,
		OutputLimitB:        doc.OutputLimitB,
	}
	if doc.FuzzyOptimization != nil {
		out.FuzzyOptimization = *doc.FuzzyOptimization
	}
	if doc.DiscrepancyMatching != nil {
		out.DiscrepancyMatching = *doc.DiscrepancyMatching
	}
	if doc.NormalizationType != nil {
		out.Normalization = NormalizationKind(strings.ToLower(*doc.NormalizationType))
	}
	if out.Normalization == NormalizationDefault {
		kind := defaults.NormalizationKind
		if kind == "" || kind == NormalizationDefault {
			kind = NormalizationNone
		}
		out.Normalization = kind
	}
	if doc.CorrelationLimit != nil {
		out.CorrelationLimit = *doc.CorrelationLimit
	}

	for _, rule := range doc.CorrelationConfig {
		rule.FieldA = foldField(rule.FieldA, rule.FormulaMode)
		rule.FieldB = foldField(rule.FieldB, rule.FormulaMode)
		out.CorrelationConfig = append(out.CorrelationConfig, rule)
	}
	for _, rule := range doc.DiscrepancyConfig {
		rule.FieldA = foldField(rule.FieldA, rule.FormulaMode)
		rule.FieldB = foldField(rule.FieldB, rule.FormulaMode)
		out.DiscrepancyConfig = append(out.DiscrepancyConfig, rule)
	}
	return out, nil
}

// foldField lowercases plain column references. Formula fragments are
// kept verbatim; the emitter confines them to their own scope.
func foldField(field string, formulaMode bool) string {
	if formulaMode {
		return strings.TrimSpace(field)
	}
	return strings.ToLower(strings.TrimSpace(field))
}
