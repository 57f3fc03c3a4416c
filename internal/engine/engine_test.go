package engine

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t3eHawk/rapo/internal/store"
	"github.com/t3eHawk/rapo/internal/testutil"
)

// baseRule is the rule document most scenarios start from: one key
// rule on k, one numeric rule on v with a [-5, 5] tolerance, results
// written for both sides.
const baseRule = `{
	"need_issues_a": true, "need_issues_b": true,
	"need_recons_a": true, "need_recons_b": true,
	"correlation_config": [{"field_a": "k", "field_b": "k"}],
	"discrepancy_config": [{"field_a": "v", "field_b": "v",
		"numeric_tolerance_from": -5, "numeric_tolerance_to": 5}]
}`

// newTestEngine wires an engine over an in-memory store with the
// clock pinned at 2025-03-15 12:00; the default day-back window is
// [2025-03-14, 2025-03-15).
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Store, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(testutil.DefaultNow)
	s := testutil.OpenStore(t, clock)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{WithClock(clock.Now), WithLogger(logger)}
	e := New(s, append(base, opts...)...)
	return e, s, clock
}

// seedControl creates the two source tables (k, d, v) and one
// reconciliation control over them.
func seedControl(t *testing.T, s *store.Store, rule string, mutate func(*store.ControlRecord)) {
	t.Helper()
	testutil.CreateSource(t, s, "src_a", "k INTEGER, d TEXT, v INTEGER")
	testutil.CreateSource(t, s, "src_b", "k INTEGER, d TEXT, v INTEGER")
	rec := store.ControlRecord{
		Name: "c1", Type: "REC",
		SourceNameA: "src_a", SourceDateFieldA: "d", SourceKeyFieldA: "rec_id",
		SourceNameB: "src_b", SourceDateFieldB: "d", SourceKeyFieldB: "rec_id",
		PeriodBack: 1, PeriodNumber: 1, PeriodType: "D",
		NeedA: true, NeedB: true,
		RuleConfig: rule,
	}
	if mutate != nil {
		mutate(&rec)
	}
	_, err := s.CreateControl(context.Background(), rec)
	require.NoError(t, err)
}

// typeCounts tallies a result table by rapo_result_type.
func typeCounts(t *testing.T, s *store.Store, table string) map[string]int {
	t.Helper()
	rows, err := s.Query(context.Background(),
		"SELECT rapo_result_type, count(*) FROM "+table+" GROUP BY rapo_result_type")
	require.NoError(t, err)
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		require.NoError(t, rows.Scan(&kind, &n))
		counts[kind] = n
	}
	require.NoError(t, rows.Err())
	return counts
}

func tableExists(t *testing.T, s *store.Store, name string) bool {
	t.Helper()
	exists, err := s.TableExists(context.Background(), name)
	require.NoError(t, err)
	return exists
}

func TestRun_PerfectMatch(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_a", 2, "2025-03-14 11:00:00", 20)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", 2, "2025-03-14 11:00:00", 20)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusDone, result.Status)
	assert.Equal(t, int64(2), result.FetchedA)
	assert.Equal(t, int64(2), result.FetchedB)
	assert.Equal(t, int64(2), result.SuccessA)
	assert.Equal(t, int64(2), result.SuccessB)
	assert.Zero(t, result.ErrorA)
	assert.Zero(t, result.ErrorB)

	assert.Equal(t, map[string]int{"Success": 2}, typeCounts(t, s, "rapo_resa_c1"))
	assert.Equal(t, map[string]int{"Success": 2}, typeCounts(t, s, "rapo_resb_c1"))

	// Temporary relations are gone after the terminal state.
	for _, name := range temporaries(result.ProcessID).all() {
		assert.False(t, tableExists(t, s, name), "%s must be cleaned up", name)
	}
}

func TestRun_PureLoss(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 10)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.ErrorA)
	assert.Zero(t, result.SuccessA)
	assert.Zero(t, result.ErrorB)
	assert.Equal(t, map[string]int{"Loss": 1}, typeCounts(t, s, "rapo_resa_c1"))
	assert.Empty(t, typeCounts(t, s, "rapo_resb_c1"))

	var discrepancyID sql.NullInt64
	err = s.DB().QueryRow(
		"SELECT rapo_discrepancy_id FROM rapo_resa_c1").Scan(&discrepancyID)
	require.NoError(t, err)
	assert.False(t, discrepancyID.Valid, "a lost record has no counterpart")
}

func TestRun_DiscrepancyWithinTolerance(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 100)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 103)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.SuccessA)
	assert.Zero(t, result.ErrorA)
	assert.Equal(t, map[string]int{"Success": 1}, typeCounts(t, s, "rapo_resa_c1"))
}

func TestRun_DiscrepancyOutsideTolerance(t *testing.T) {
	rule := `{
		"need_issues_a": true, "need_issues_b": true,
		"need_recons_a": true, "need_recons_b": true,
		"correlation_config": [{"field_a": "k", "field_b": "k"}],
		"discrepancy_config": [{"field_a": "v", "field_b": "v",
			"numeric_tolerance_from": -2, "numeric_tolerance_to": 2}]
	}`
	e, s, _ := newTestEngine(t)
	seedControl(t, s, rule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 100)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 103)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.ErrorA)
	assert.Equal(t, int64(1), result.ErrorB)
	assert.Zero(t, result.SuccessA)

	var resultType, description string
	var discrepancyID int64
	err = s.DB().QueryRow(`
		SELECT rapo_result_type, rapo_discrepancy_id, rapo_discrepancy_description
		FROM rapo_resa_c1`).
		Scan(&resultType, &discrepancyID, &description)
	require.NoError(t, err)
	assert.Equal(t, "Discrepancy", resultType)
	assert.Equal(t, int64(1), discrepancyID, "points at the offending B record")
	assert.Equal(t, "v[3]", description)
}

func TestRun_TimeShiftFuzzyCluster(t *testing.T) {
	rule := `{
		"need_issues_a": true, "need_issues_b": true,
		"need_recons_a": true, "need_recons_b": true,
		"fuzzy_optimization": true,
		"time_shift_from": -120, "time_shift_to": 120,
		"correlation_config": [{"field_a": "k", "field_b": "k"}],
		"discrepancy_config": [{"field_a": "v", "field_b": "v",
			"numeric_tolerance_from": -5, "numeric_tolerance_to": 5}]
	}`
	e, s, _ := newTestEngine(t)
	seedControl(t, s, rule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:02:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:01:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:03:00", 10)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.SuccessA, "both pairs resolve positionally")
	assert.Equal(t, int64(2), result.SuccessB)
	assert.Zero(t, result.ErrorA)
	assert.Zero(t, result.ErrorB)
	assert.Equal(t, map[string]int{"Success": 2}, typeCounts(t, s, "rapo_resa_c1"))
	assert.Equal(t, map[string]int{"Success": 2}, typeCounts(t, s, "rapo_resb_c1"))
}

func TestRun_OneToManyDiscrepancyMatching(t *testing.T) {
	rule := `{
		"need_issues_a": true, "need_issues_b": true,
		"need_recons_a": true, "need_recons_b": true,
		"allow_duplicates": true,
		"discrepancy_matching": true,
		"correlation_config": [{"field_a": "k", "field_b": "k"}],
		"discrepancy_config": [{"field_a": "v", "field_b": "v",
			"numeric_tolerance_from": 0, "numeric_tolerance_to": 0}]
	}`
	e, s, _ := newTestEngine(t)
	seedControl(t, s, rule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 99)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.SuccessA)
	assert.Equal(t, int64(1), result.SuccessB)
	assert.Equal(t, map[string]int{"Success": 1}, typeCounts(t, s, "rapo_resa_c1"))

	// The second B record loses to its peer and carries a numeric
	// discrepancy: discrepancy matching reclassifies it from
	// Duplicate to Loss, so duplicate suppression does not hide it.
	assert.Equal(t, map[string]int{"Success": 1, "Loss": 1},
		typeCounts(t, s, "rapo_resb_c1"))
}

func TestRun_CorrelationLimit(t *testing.T) {
	rule := `{
		"need_issues_a": true, "need_issues_b": true,
		"correlation_limit": true,
		"correlation_config": [{"field_a": "k", "field_b": "k"}]
	}`
	e, s, _ := newTestEngine(t)
	seedControl(t, s, rule, nil)
	for i := 0; i < 60; i++ {
		testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", i)
		testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", i)
	}

	result, err := e.Run(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, IsCorrelationLimit(err))
	assert.Equal(t, store.StatusError, result.Status)

	// No partial result tables and no leftover temporaries.
	assert.False(t, tableExists(t, s, "rapo_resa_c1"))
	assert.False(t, tableExists(t, s, "rapo_resb_c1"))
	for _, name := range temporaries(result.ProcessID).all() {
		assert.False(t, tableExists(t, s, name))
	}

	rec, err := s.GetRun(context.Background(), result.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, rec.Status)
	assert.Contains(t, rec.Error.String, "CORRELATION_LIMIT_EXCEEDED")
}

func TestRun_ManyToManyStabilization(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)
	// Three As against two Bs under one key: an M cluster. The
	// stabilizer pairs the two best mutual choices; the leftover A
	// is a duplicate.
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 20)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 30)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 20)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.SuccessA)
	assert.Equal(t, int64(2), result.SuccessB)
	assert.Equal(t, int64(1), result.ErrorA)
	assert.Zero(t, result.ErrorB)
	assert.Equal(t, map[string]int{"Success": 2, "Duplicate": 1},
		typeCounts(t, s, "rapo_resa_c1"))
	assert.Equal(t, map[string]int{"Success": 2}, typeCounts(t, s, "rapo_resb_c1"))
}

func TestRun_DuplicateSuppression(t *testing.T) {
	rule := `{
		"need_issues_a": true, "need_issues_b": true,
		"need_recons_a": true, "need_recons_b": true,
		"allow_duplicates": true,
		"correlation_config": [{"field_a": "k", "field_b": "k"}]
	}`
	e, s, _ := newTestEngine(t)
	seedControl(t, s, rule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 10)

	_, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	for _, table := range []string{"rapo_resa_c1", "rapo_resb_c1"} {
		counts := typeCounts(t, s, table)
		assert.Zero(t, counts["Duplicate"],
			"allow_duplicates must suppress Duplicate rows in %s", table)
	}
}

func TestRun_EmptySources(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusDone, result.Status)
	assert.Zero(t, result.FetchedA)
	assert.Zero(t, result.FetchedB)

	// Result tables are created on first write even when empty.
	assert.True(t, tableExists(t, s, "rapo_resa_c1"))
	assert.True(t, tableExists(t, s, "rapo_resb_c1"))
	assert.Empty(t, typeCounts(t, s, "rapo_resa_c1"))
}

func TestRun_Idempotent(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 100)
	testutil.InsertRow(t, s, "src_a", 2, "2025-03-14 11:00:00", 50)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 150)

	first, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)
	second, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)
	require.NotEqual(t, first.ProcessID, second.ProcessID)

	read := func(processID int64) []string {
		rows, err := s.Query(context.Background(), fmt.Sprintf(`
			SELECT k || '|' || coalesce(v, '') || '|' || rapo_result_type ||
			       '|' || coalesce(rapo_discrepancy_description, '')
			FROM rapo_resa_c1 WHERE rapo_process_id = %d
			ORDER BY 1`, processID))
		require.NoError(t, err)
		defer rows.Close()
		var out []string
		for rows.Next() {
			var line string
			require.NoError(t, rows.Scan(&line))
			out = append(out, line)
		}
		require.NoError(t, rows.Err())
		return out
	}
	assert.Equal(t, read(first.ProcessID), read(second.ProcessID),
		"two runs over the same frozen window must produce identical rows")
}

func TestRun_Symmetry(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)
	// Mirror control with A and B swapped.
	_, err := s.CreateControl(context.Background(), store.ControlRecord{
		Name: "c1_mirror", Type: "REC",
		SourceNameA: "src_b", SourceDateFieldA: "d", SourceKeyFieldA: "rec_id",
		SourceNameB: "src_a", SourceDateFieldB: "d", SourceKeyFieldB: "rec_id",
		PeriodBack: 1, PeriodNumber: 1, PeriodType: "D",
		NeedA: true, NeedB: true,
		RuleConfig: baseRule,
	})
	require.NoError(t, err)

	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 100)
	testutil.InsertRow(t, s, "src_a", 2, "2025-03-14 11:00:00", 50)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 190)

	direct, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)
	mirror, err := e.Run(context.Background(), "c1_mirror")
	require.NoError(t, err)

	assert.Equal(t, direct.FetchedA, mirror.FetchedB)
	assert.Equal(t, direct.FetchedB, mirror.FetchedA)
	assert.Equal(t, direct.ErrorA, mirror.ErrorB)
	assert.Equal(t, direct.ErrorB, mirror.ErrorA)
	assert.Equal(t, direct.SuccessA, mirror.SuccessB)
	assert.Equal(t, direct.SuccessB, mirror.SuccessA)
}

func TestRun_OutputLimit(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, func(rec *store.ControlRecord) {
		rec.OutputLimit = 2
	})
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_a", 2, "2025-03-14 11:00:00", 20)
	testutil.InsertRow(t, s, "src_a", 3, "2025-03-14 12:00:00", 30)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.ErrorA, "the log counts every classified error")
	assert.Equal(t, map[string]int{"Loss": 2}, typeCounts(t, s, "rapo_resa_c1"),
		"the saved rows are capped by the output limit")
}

func TestRun_MinMaxNormalization(t *testing.T) {
	rule := `{
		"need_issues_a": true, "need_issues_b": true,
		"need_recons_a": true, "need_recons_b": true,
		"normalization_type": "minmax",
		"correlation_config": [{"field_a": "k", "field_b": "k"}],
		"discrepancy_config": [{"field_a": "v", "field_b": "v",
			"numeric_tolerance_from": -2, "numeric_tolerance_to": 2}]
	}`
	e, s, _ := newTestEngine(t)
	seedControl(t, s, rule, nil)
	// Raw delta is -3, outside [-2, 2]; scaled over the observed
	// range of 3 it collapses to -1 and passes.
	testutil.InsertRow(t, s, "src_a", 1, "2025-03-14 10:00:00", 100)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 103)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.SuccessA)
	assert.Zero(t, result.ErrorA)
}

func TestRun_AllowNullMatching(t *testing.T) {
	rule := `{
		"need_issues_a": true, "need_issues_b": true,
		"need_recons_a": true, "need_recons_b": true,
		"correlation_config": [{"field_a": "k", "field_b": "k", "allow_null": true}]
	}`
	e, s, _ := newTestEngine(t)
	seedControl(t, s, rule, nil)
	testutil.InsertRow(t, s, "src_a", nil, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", nil, "2025-03-14 10:00:00", 10)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.SuccessA, "null = null matches when the rule allows it")
	assert.Zero(t, result.ErrorA)
}

func TestRun_NullFilteredWhenNotAllowed(t *testing.T) {
	e, s, _ := newTestEngine(t)
	seedControl(t, s, baseRule, nil)
	testutil.InsertRow(t, s, "src_a", nil, "2025-03-14 10:00:00", 10)
	testutil.InsertRow(t, s, "src_b", 1, "2025-03-14 10:00:00", 10)

	result, err := e.Run(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, result.FetchedA, "null-keyed rows never enter the source relation")
	assert.Equal(t, int64(1), result.ErrorB, "the unmatched B row is a loss")
}
