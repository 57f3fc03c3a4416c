package setup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t3eHawk/rapo/internal/control"
)

func TestParse(t *testing.T) {
	data := []byte(`
database:
  path: /var/lib/rapo/rapo.db
algorithm:
  fuzzy_optimization: true
  normalization_type: minmax
  discrepancy_matching: true
debug: true
`)
	s, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/rapo/rapo.db", s.Database.Path)
	assert.True(t, s.Debug)

	defaults := s.Defaults()
	assert.True(t, defaults.FuzzyOptimization)
	assert.Equal(t, control.NormalizationMinMax, defaults.NormalizationKind)
	assert.True(t, defaults.DiscrepancyMatching)
}

func TestParse_EmptyDefaultsToNone(t *testing.T) {
	s, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, control.NormalizationNone, s.Defaults().NormalizationKind)
	assert.False(t, s.Debug)
}

func TestParse_UnknownNormalization(t *testing.T) {
	_, err := Parse([]byte("algorithm:\n  normalization_type: sigmoid\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown normalization type")
}
