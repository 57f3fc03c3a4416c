package control

import (
	"fmt"

	"github.com/t3eHawk/rapo/internal/sqlgen"
)

// Validate checks everything the pipeline would otherwise trip over
// mid-flight. Violations are fatal configuration errors.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("control name is empty")
	}
	if c.Kind != Reconciliation {
		return fmt.Errorf("control %s: engine supports kind %s, got %s",
			c.Name, Reconciliation, c.Kind)
	}
	if c.SourceNameA == "" || c.SourceNameB == "" {
		return fmt.Errorf("control %s: both source names are required", c.Name)
	}
	if c.SourceDateFieldA == "" || c.SourceDateFieldB == "" {
		return fmt.Errorf("control %s: both source date fields are required", c.Name)
	}
	if !c.PeriodType.Valid() {
		return fmt.Errorf("control %s: unknown period type %q", c.Name, c.PeriodType)
	}
	if c.PeriodNumber < 1 {
		return fmt.Errorf("control %s: period number must be positive", c.Name)
	}
	if c.PeriodBack < 0 {
		return fmt.Errorf("control %s: period back must not be negative", c.Name)
	}
	for _, name := range []string{
		c.SourceNameA, c.SourceNameB,
		c.SourceDateFieldA, c.SourceDateFieldB,
	} {
		if _, err := sqlgen.Ident(name); err != nil {
			return fmt.Errorf("control %s: %w", c.Name, err)
		}
	}
	for _, name := range []string{c.SourceKeyFieldA, c.SourceKeyFieldB} {
		if name == "" {
			continue
		}
		if _, err := sqlgen.Ident(name); err != nil {
			return fmt.Errorf("control %s: %w", c.Name, err)
		}
	}
	if err := c.Rules.validate(c.Name); err != nil {
		return err
	}
	for _, it := range c.Iterations {
		if !it.Active {
			continue
		}
		if !it.PeriodType.Valid() {
			return fmt.Errorf("control %s: iteration %d: unknown period type %q",
				c.Name, it.ID, it.PeriodType)
		}
	}
	return nil
}

func (r *RuleConfig) validate(controlName string) error {
	if len(r.CorrelationConfig) == 0 {
		return fmt.Errorf("control %s: correlation config is empty", controlName)
	}
	if !r.Normalization.Valid() {
		return fmt.Errorf("control %s: unknown normalization type %q",
			controlName, r.Normalization)
	}
	if r.TimeShiftFrom > r.TimeShiftTo {
		return fmt.Errorf("control %s: time shift bounds are inverted [%d, %d]",
			controlName, r.TimeShiftFrom, r.TimeShiftTo)
	}
	for i, rule := range r.CorrelationConfig {
		if rule.FieldA == "" || rule.FieldB == "" {
			return fmt.Errorf("control %s: correlation rule %d misses a field",
				controlName, i+1)
		}
		if !rule.FormulaMode {
			for _, field := range []string{rule.FieldA, rule.FieldB} {
				if _, err := sqlgen.Ident(field); err != nil {
					return fmt.Errorf("control %s: correlation rule %d: %w",
						controlName, i+1, err)
				}
			}
		}
	}
	for i, rule := range r.DiscrepancyConfig {
		if rule.FieldA == "" || rule.FieldB == "" {
			return fmt.Errorf("control %s: discrepancy rule %d misses a field",
				controlName, i+1)
		}
		if rule.ToleranceFrom > rule.ToleranceTo {
			return fmt.Errorf("control %s: discrepancy rule %d: tolerance bounds are inverted",
				controlName, i+1)
		}
		if !rule.FormulaMode {
			for _, field := range []string{rule.FieldA, rule.FieldB} {
				if _, err := sqlgen.Ident(field); err != nil {
					return fmt.Errorf("control %s: discrepancy rule %d: %w",
						controlName, i+1, err)
				}
			}
		}
		if rule.FormulaMode && rule.FormulaAlias != "" {
			if _, err := sqlgen.Ident(rule.FormulaAlias); err != nil {
				return fmt.Errorf("control %s: discrepancy rule %d: %w",
					controlName, i+1, err)
			}
		}
	}
	return nil
}
