package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t3eHawk/rapo/internal/window"
)

func validConfig() *Config {
	return &Config{
		ID:               1,
		Name:             "cdr_vs_billing",
		Kind:             Reconciliation,
		SourceNameA:      "cdr_traffic",
		SourceDateFieldA: "call_date",
		SourceNameB:      "billing_events",
		SourceDateFieldB: "event_date",
		PeriodBack:       1,
		PeriodNumber:     1,
		PeriodType:       window.Day,
		Rules: RuleConfig{
			Normalization: NormalizationNone,
			CorrelationConfig: []CorrelationRule{
				{FieldA: "msisdn", FieldB: "subscriber"},
			},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_EmptyCorrelation(t *testing.T) {
	cfg := validConfig()
	cfg.Rules.CorrelationConfig = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation config is empty")
}

func TestValidate_UnknownPeriodType(t *testing.T) {
	cfg := validConfig()
	cfg.PeriodType = "Y"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown period type")
}

func TestValidate_UnknownNormalization(t *testing.T) {
	cfg := validConfig()
	cfg.Rules.Normalization = "sigmoid"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown normalization type")
}

func TestValidate_WrongKind(t *testing.T) {
	cfg := validConfig()
	cfg.Kind = Analysis
	require.Error(t, cfg.Validate())
}

func TestValidate_InjectionInField(t *testing.T) {
	cfg := validConfig()
	cfg.Rules.CorrelationConfig = []CorrelationRule{
		{FieldA: "msisdn; drop table x", FieldB: "subscriber"},
	}
	require.Error(t, cfg.Validate())
}

func TestValidate_FormulaFieldsSkipIdentCheck(t *testing.T) {
	cfg := validConfig()
	cfg.Rules.DiscrepancyConfig = []DiscrepancyRule{
		{
			FieldA:       "round(amount / 100.0, 2)",
			FieldB:       "charge",
			ToleranceTo:  1,
			FormulaMode:  true,
			FormulaAlias: "amount_major",
		},
	}
	require.NoError(t, cfg.Validate())
}

func TestValidate_InvertedTolerances(t *testing.T) {
	cfg := validConfig()
	cfg.Rules.DiscrepancyConfig = []DiscrepancyRule{
		{FieldA: "amount", FieldB: "charge", ToleranceFrom: 5, ToleranceTo: -5},
	}
	require.Error(t, cfg.Validate())
}

func TestVariables_Apply(t *testing.T) {
	v := Variables{ControlName: "cdr_vs_billing", ProcessID: 42}
	got := v.Apply("owner = '{control_name}' and run = {process_id}")
	assert.Equal(t, "owner = 'cdr_vs_billing' and run = 42", got)
}

func TestOutputNames(t *testing.T) {
	cfg := validConfig()
	cfg.Name = "CDR_vs_Billing"
	assert.Equal(t, "rapo_resa_cdr_vs_billing", cfg.OutputNameA())
	assert.Equal(t, "rapo_resb_cdr_vs_billing", cfg.OutputNameB())
}
