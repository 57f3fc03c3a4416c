package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t3eHawk/rapo/internal/engine"
	"github.com/t3eHawk/rapo/internal/store"
	"github.com/t3eHawk/rapo/internal/testutil"
)

// controlName is the catalogue name every scenario control runs
// under.
const controlName = "scenario"

// Run executes one scenario against a fresh in-memory store and
// asserts its expectations.
func Run(t *testing.T, s *Scenario) {
	t.Helper()
	ctx := context.Background()

	clock := testutil.NewClock(testutil.DefaultNow)
	st := testutil.OpenStore(t, clock)
	eng := engine.New(st,
		engine.WithClock(clock.Now),
		engine.WithLogger(testutil.DiscardLogger()))

	testutil.CreateSource(t, st, "src_a", "k INTEGER, d TEXT, v INTEGER")
	testutil.CreateSource(t, st, "src_b", "k INTEGER, d TEXT, v INTEGER")
	for _, row := range s.SourceA {
		testutil.InsertRow(t, st, "src_a", row...)
	}
	for _, row := range s.SourceB {
		testutil.InsertRow(t, st, "src_b", row...)
	}

	_, err := st.CreateControl(ctx, store.ControlRecord{
		Name: controlName, Type: "REC",
		SourceNameA: "src_a", SourceDateFieldA: "d", SourceKeyFieldA: "rec_id",
		SourceNameB: "src_b", SourceDateFieldB: "d", SourceKeyFieldB: "rec_id",
		PeriodBack: 1, PeriodNumber: 1, PeriodType: "D",
		NeedA: true, NeedB: true,
		OutputLimit: s.OutputLimit,
		RuleConfig:  s.Rule,
	})
	require.NoError(t, err)

	result, runErr := eng.Run(ctx, controlName)

	if s.Expect.ErrorCode != "" {
		require.Error(t, runErr, "scenario %s expects a run error", s.Name)
		assert.Equal(t, s.Expect.ErrorCode, string(engine.CodeOf(runErr)),
			"scenario %s error code", s.Name)
	} else {
		require.NoError(t, runErr, "scenario %s", s.Name)
	}
	if s.Expect.Status != "" {
		require.NotNil(t, result)
		assert.Equal(t, s.Expect.Status, result.Status,
			"scenario %s terminal status", s.Name)
	}

	if s.Expect.NoResults {
		for _, table := range []string{"rapo_resa_" + controlName, "rapo_resb_" + controlName} {
			exists, err := st.TableExists(ctx, table)
			require.NoError(t, err)
			assert.False(t, exists, "scenario %s must not write %s", s.Name, table)
		}
		return
	}

	assertCounts(t, st, s.Name, "rapo_resa_"+controlName, s.Expect.ResultA)
	assertCounts(t, st, s.Name, "rapo_resb_"+controlName, s.Expect.ResultB)
}

// assertCounts compares a result table tally against the expected
// map; nil expects an empty table.
func assertCounts(t *testing.T, st *store.Store, scenario, table string, expected map[string]int) {
	t.Helper()
	rows, err := st.Query(context.Background(),
		"SELECT rapo_result_type, count(*) FROM "+table+" GROUP BY rapo_result_type")
	require.NoError(t, err)
	defer rows.Close()

	got := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		require.NoError(t, rows.Scan(&kind, &n))
		got[kind] = n
	}
	require.NoError(t, rows.Err())

	if expected == nil {
		expected = map[string]int{}
	}
	assert.Equal(t, expected, got, "scenario %s: %s tallies", scenario, table)
}
