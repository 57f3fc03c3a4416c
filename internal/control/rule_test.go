package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuleConfig_Empty(t *testing.T) {
	rules, err := ParseRuleConfig("", AlgorithmDefaults{})
	require.NoError(t, err)
	assert.False(t, rules.AllowDuplicates)
	assert.False(t, rules.FuzzyOptimization)
	assert.Equal(t, NormalizationNone, rules.Normalization)
	assert.Empty(t, rules.CorrelationConfig)
}

func TestParseRuleConfig_Full(t *testing.T) {
	raw := `{
		"need_issues_a": true,
		"need_issues_b": true,
		"need_recons_a": true,
		"need_recons_b": false,
		"allow_duplicates": true,
		"fuzzy_optimization": true,
		"discrepancy_matching": true,
		"normalization_type": "minmax",
		"time_shift_from": -120,
		"time_shift_to": 120,
		"time_tolerance_from": -5,
		"time_tolerance_to": 5,
		"correlation_limit": 2500,
		"output_limit_a": 100,
		"correlation_config": [
			{"field_a": "MSISDN", "field_b": "Subscriber", "allow_null": true}
		],
		"discrepancy_config": [
			{"field_a": "Amount", "field_b": "Charge",
			 "numeric_tolerance_from": -5, "numeric_tolerance_to": 5,
			 "percentage_mode": true}
		]
	}`
	rules, err := ParseRuleConfig(raw, AlgorithmDefaults{})
	require.NoError(t, err)

	assert.True(t, rules.NeedIssuesA)
	assert.True(t, rules.NeedReconsA)
	assert.False(t, rules.NeedReconsB)
	assert.True(t, rules.AllowDuplicates)
	assert.True(t, rules.FuzzyOptimization)
	assert.True(t, rules.DiscrepancyMatching)
	assert.Equal(t, NormalizationMinMax, rules.Normalization)
	assert.Equal(t, -120, rules.TimeShiftFrom)
	assert.Equal(t, 120, rules.TimeShiftTo)
	assert.True(t, rules.TimeChecked())
	assert.Equal(t, CorrelationLimit{Enabled: true, Cap: 2500}, rules.CorrelationLimit)
	assert.Equal(t, 100, rules.OutputLimitA)

	require.Len(t, rules.CorrelationConfig, 1)
	assert.Equal(t, "msisdn", rules.CorrelationConfig[0].FieldA)
	assert.Equal(t, "subscriber", rules.CorrelationConfig[0].FieldB)
	assert.True(t, rules.CorrelationConfig[0].AllowNull)

	require.Len(t, rules.DiscrepancyConfig, 1)
	assert.Equal(t, "amount", rules.DiscrepancyConfig[0].FieldA)
	assert.True(t, rules.DiscrepancyConfig[0].PercentageMode)
	assert.Equal(t, "amount", rules.DiscrepancyConfig[0].Name())
}

func TestParseRuleConfig_GlobalDefaults(t *testing.T) {
	defaults := AlgorithmDefaults{
		FuzzyOptimization:   true,
		NormalizationKind:   NormalizationZNorm,
		DiscrepancyMatching: true,
	}

	rules, err := ParseRuleConfig(`{"correlation_config": [{"field_a": "k", "field_b": "k"}]}`, defaults)
	require.NoError(t, err)
	assert.True(t, rules.FuzzyOptimization, "omitted toggle takes the global default")
	assert.True(t, rules.DiscrepancyMatching)
	assert.Equal(t, NormalizationZNorm, rules.Normalization)

	rules, err = ParseRuleConfig(`{
		"fuzzy_optimization": false,
		"discrepancy_matching": false,
		"normalization_type": "none",
		"correlation_config": [{"field_a": "k", "field_b": "k"}]
	}`, defaults)
	require.NoError(t, err)
	assert.False(t, rules.FuzzyOptimization, "explicit toggle overrides the global default")
	assert.False(t, rules.DiscrepancyMatching)
	assert.Equal(t, NormalizationNone, rules.Normalization)
}

func TestParseRuleConfig_UnknownKey(t *testing.T) {
	_, err := ParseRuleConfig(`{"alow_duplicates": true}`, AlgorithmDefaults{})
	require.Error(t, err, "misspelled keys must not be silently dropped")
}

func TestCorrelationLimit_Unmarshal(t *testing.T) {
	rules, err := ParseRuleConfig(`{"correlation_limit": false}`, AlgorithmDefaults{})
	require.NoError(t, err)
	assert.Equal(t, CorrelationLimit{}, rules.CorrelationLimit)

	rules, err = ParseRuleConfig(`{"correlation_limit": true}`, AlgorithmDefaults{})
	require.NoError(t, err)
	assert.Equal(t, CorrelationLimit{Enabled: true}, rules.CorrelationLimit)

	_, err = ParseRuleConfig(`{"correlation_limit": -3}`, AlgorithmDefaults{})
	require.Error(t, err)

	_, err = ParseRuleConfig(`{"correlation_limit": "many"}`, AlgorithmDefaults{})
	require.Error(t, err)
}

func TestCorrelationLimit_Resolve(t *testing.T) {
	disabled := CorrelationLimit{}
	assert.Equal(t, int64(0), disabled.Resolve(1000, 500))

	auto := CorrelationLimit{Enabled: true}
	assert.Equal(t, int64(2500), auto.Resolve(1000, 500), "2.5 x the larger source")
	assert.Equal(t, int64(2500), auto.Resolve(300, 1000))
	assert.Equal(t, int64(3), auto.Resolve(1, 1), "fractional caps round up")

	explicit := CorrelationLimit{Enabled: true, Cap: 42}
	assert.Equal(t, int64(42), explicit.Resolve(1000, 1000))
}

func TestTimeChecked(t *testing.T) {
	rules := RuleConfig{}
	assert.False(t, rules.TimeChecked(), "zero envelope disables the time check")

	rules.TimeToleranceFrom = -5
	rules.TimeToleranceTo = 5
	assert.True(t, rules.TimeChecked())
}

func TestParseIterationConfig(t *testing.T) {
	raw := `[
		{"iteration_id": 1, "period_back": 30, "period_number": 1, "period_type": "d", "status": "Y"},
		{"iteration_id": 2, "period_back": 1, "period_number": 1, "period_type": "M", "status": "N"}
	]`
	iterations, err := ParseIterationConfig(raw)
	require.NoError(t, err)
	require.Len(t, iterations, 2)

	assert.True(t, iterations[0].Active)
	assert.Equal(t, "D", string(iterations[0].PeriodType))
	assert.False(t, iterations[1].Active)
}

func TestParseIterationConfig_Empty(t *testing.T) {
	iterations, err := ParseIterationConfig("")
	require.NoError(t, err)
	assert.Empty(t, iterations)
}
