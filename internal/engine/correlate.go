package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/t3eHawk/rapo/internal/control"
	"github.com/t3eHawk/rapo/internal/sqlgen"
)

// correlate materializes the candidate pair relation (COMB) and its
// working copy (MOD).
//
// A pair enters COMB when every correlation key rule holds and the
// dates sit within the time shift envelope. Each pair carries its
// per-field discrepancy features, its time-shift group, the group's
// match totals, and the initial topology label:
//
//	O - one-to-one        F - fuzzy (n x n)
//	A - one A, many Bs    B - many As, one B    M - anything else
//
// O pairs resolve immediately (status R, indicator X); everything
// else waits for the duplicate resolver and the stabilizer. COMB is
// never updated afterwards; MOD is the copy later stages mark.
func (p *process) correlate(ctx context.Context) error {
	sc, err := p.computeScales(ctx)
	if err != nil {
		return err
	}

	limit := p.rules.CorrelationLimit.Resolve(p.result.FetchedA, p.result.FetchedB)
	statement := p.buildCorrelate(sc, limit)
	p.log.Debug("creating pair relation", "table", p.names.Comb)
	if err := p.store.Exec(ctx, statement); err != nil {
		return newDBError(p.cfg.Name, p.processID,
			fmt.Errorf("correlate: %w", err))
	}

	pairs, err := p.store.Count(ctx, p.names.Comb)
	if err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	p.log.Info("candidate pairs correlated", "pairs", pairs)
	if limit > 0 && pairs >= limit {
		return &RunError{
			Code:      ErrCodeCorrelationLimit,
			Message:   fmt.Sprintf("candidate pairs reached the cap of %d", limit),
			Control:   p.cfg.Name,
			ProcessID: p.processID,
		}
	}

	mod := fmt.Sprintf("create table %s as\nselect * from %s",
		p.names.Mod, p.names.Comb)
	if err := p.store.Exec(ctx, mod); err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	for _, column := range []string{"a_id", "b_id"} {
		if err := p.store.CreateIndex(ctx, p.names.Mod, column); err != nil {
			return newDBError(p.cfg.Name, p.processID, err)
		}
	}
	return nil
}

// buildCorrelate renders the COMB statement.
func (p *process) buildCorrelate(sc scales, limit int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "create table %s as\nwith ", p.names.Comb)

	rankCTEs, rankJoins := p.rankNormalization()
	for _, cte := range rankCTEs {
		b.WriteString(cte)
		b.WriteString(",\n")
	}

	// pairs: the raw join with per-pair features.
	b.WriteString("pairs as (\n")
	fmt.Fprintf(&b, "  select %s%s as a_id,\n", p.hint(), aCol(p.sourceA.keyField))
	fmt.Fprintf(&b, "         %s as b_id,\n", bCol(p.sourceB.keyField))
	fmt.Fprintf(&b, "         %s as key_value,\n", p.keyValueExpr())
	fmt.Fprintf(&b, "         %s as date_value_a,\n", aCol(p.sourceA.dateField))
	fmt.Fprintf(&b, "         %s as date_value_b,\n", bCol(p.sourceB.dateField))
	fmt.Fprintf(&b, "         %s as time_shift_value",
		sqlgen.Seconds(
			sqlgen.Col{Table: "a", Name: p.sourceA.dateField},
			sqlgen.Col{Table: "b", Name: p.sourceB.dateField}).SQL())
	values, indicators := p.discrepancyExprs(sc)
	for i := range p.rules.DiscrepancyConfig {
		fmt.Fprintf(&b, ",\n         %s as discrepancy_%d_value", values[i], i+1)
		fmt.Fprintf(&b, ",\n         %s as discrepancy_%d_indicator", indicators[i], i+1)
	}
	fmt.Fprintf(&b, "\n  from %s a\n  join %s b\n    on ",
		p.sourceA.temp, p.sourceB.temp)
	b.WriteString(p.joinPredicate())
	for _, join := range rankJoins {
		b.WriteString("\n  ")
		b.WriteString(join)
	}
	if limit > 0 {
		fmt.Fprintf(&b, "\n  limit %d", limit)
	}
	b.WriteString("\n),\n")

	// features: aggregates over the pair's own columns.
	b.WriteString("features as (\n")
	b.WriteString("  select p.*,\n")
	fmt.Fprintf(&b, "         %s as discrepancy_sum_value,\n", p.discrepancySum())
	fmt.Fprintf(&b, "         %s as discrepancy_fields_value,\n", p.discrepancyFields())
	fmt.Fprintf(&b, "         %s as discrepancy_time_value,\n", p.discrepancyTime())
	b.WriteString("         max(date_value_a, date_value_b) as event_date\n")
	b.WriteString("  from pairs p\n),\n")

	// flagged/grouped: time-shift clustering. A new group starts when
	// the gap to the previous event in key order leaves the shift
	// envelope.
	b.WriteString("flagged as (\n")
	b.WriteString("  select f.*,\n")
	fmt.Fprintf(&b, `         case when lag(event_date) over w is null then 1
              when cast(round((julianday(event_date) - julianday(lag(event_date) over w)) * 86400) as integer) between %d and %d then 0
              else 1 end as group_start`,
		p.rules.TimeShiftFrom, p.rules.TimeShiftTo)
	b.WriteString("\n  from features f\n")
	b.WriteString("  window w as (partition by key_value order by event_date, a_id, b_id)\n),\n")

	b.WriteString("grouped as (\n")
	b.WriteString("  select g.*,\n")
	b.WriteString("         sum(group_start) over (partition by key_value order by event_date, a_id, b_id rows unbounded preceding) as time_shift_group_number\n")
	b.WriteString("  from flagged g\n),\n")

	b.WriteString("group_totals as (\n")
	b.WriteString("  select key_value, time_shift_group_number,\n")
	b.WriteString("         count(distinct b_id) as total_match_number_a,\n")
	b.WriteString("         count(distinct a_id) as total_match_number_b\n")
	b.WriteString("  from grouped\n")
	b.WriteString("  group by key_value, time_shift_group_number\n),\n")

	b.WriteString("labeled as (\n")
	b.WriteString("  select g.*,\n")
	b.WriteString("         t.total_match_number_a,\n")
	b.WriteString("         t.total_match_number_b,\n")
	b.WriteString(`         case when t.total_match_number_a = 1 and t.total_match_number_b = 1 then 'O'
              when t.total_match_number_a = t.total_match_number_b then 'F'
              when t.total_match_number_b = 1 then 'A'
              when t.total_match_number_a = 1 then 'B'
              else 'M' end as correlation_type`)
	b.WriteString("\n  from grouped g\n")
	b.WriteString("  join group_totals t\n")
	b.WriteString("    on t.key_value = g.key_value\n")
	b.WriteString("   and t.time_shift_group_number = g.time_shift_group_number\n)\n")

	b.WriteString(`select l.*,
       dense_rank() over (partition by a_id order by abs(time_shift_value)) as time_shift_rank_a,
       dense_rank() over (partition by b_id order by abs(time_shift_value)) as time_shift_rank_b,
       dense_rank() over (partition by a_id order by discrepancy_sum_value) as discrepancy_rank_a,
       dense_rank() over (partition by b_id order by discrepancy_sum_value) as discrepancy_rank_b,
       row_number() over (partition by a_id order by abs(time_shift_value), b_id) as match_position_a,
       row_number() over (partition by b_id order by abs(time_shift_value), a_id) as match_position_b,
       case when correlation_type = 'O' then 'R' end as correlation_status,
       case when correlation_type = 'O' then 'X' end as correlation_indicator
from labeled l`)

	return b.String()
}

// joinPredicate renders the conjunction of every correlation key rule
// and the date proximity rule.
func (p *process) joinPredicate() string {
	var rules []string
	for i, rule := range p.rules.CorrelationConfig {
		left := sqlgen.Col{Table: "a", Name: p.sourceA.corrFields[i]}
		right := sqlgen.Col{Table: "b", Name: p.sourceB.corrFields[i]}
		if rule.AllowNull {
			rules = append(rules, sqlgen.NullEq{L: left, R: right}.SQL())
		} else {
			rules = append(rules, sqlgen.Eq{L: left, R: right}.SQL())
		}
	}
	dateA := sqlgen.Col{Table: "a", Name: p.sourceA.dateField}
	dateB := sqlgen.Col{Table: "b", Name: p.sourceB.dateField}
	rules = append(rules, sqlgen.Between{
		X:  sqlgen.Raw(fmt.Sprintf("datetime(%s)", dateA.SQL())),
		Lo: sqlgen.ShiftedDate(dateB, p.rules.TimeShiftFrom),
		Hi: sqlgen.ShiftedDate(dateB, p.rules.TimeShiftTo),
	}.SQL())
	return strings.Join(rules, "\n   and ")
}

// keyValueExpr renders the stable, separator-safe concatenation of
// the correlation key values.
func (p *process) keyValueExpr() string {
	exprs := make([]sqlgen.Expr, len(p.rules.CorrelationConfig))
	for i := range p.rules.CorrelationConfig {
		value := fmt.Sprintf("cast(coalesce(a.%s, b.%s) as text)",
			p.sourceA.corrFields[i], p.sourceB.corrFields[i])
		// A length prefix keeps values that contain the separator apart.
		exprs[i] = sqlgen.Raw(fmt.Sprintf("length(%[1]s) || ':' || %[1]s", value))
	}
	return sqlgen.Concat("|", exprs...).SQL()
}

// discrepancyExprs renders the per-rule delta and tolerance-violation
// expressions over the pair aliases a and b.
func (p *process) discrepancyExprs(sc scales) (values, indicators []string) {
	for i, rule := range p.rules.DiscrepancyConfig {
		rawA := "a." + p.sourceA.discFields[i]
		rawB := "b." + p.sourceB.discFields[i]
		ra := fmt.Sprintf("cast(%s as real)", rawA)
		rb := fmt.Sprintf("cast(%s as real)", rawB)

		var delta string
		switch {
		case rule.PercentageMode:
			delta = fmt.Sprintf(
				"case when %s is null or %s = 0 then null else round((%s - %s) * 100.0 / abs(%s), 6) end",
				rb, rb, ra, rb, rb)
		case p.rules.Normalization == control.NormalizationRank:
			delta = fmt.Sprintf("(ra_%d.rnk - rb_%d.rnk)", i+1, i+1)
		case sc != nil && sc[i] > 0:
			delta = fmt.Sprintf("round((%s - %s) / %s, 6)",
				ra, rb, sqlgen.Float(sc[i]).SQL())
		default:
			delta = fmt.Sprintf("(%s - %s)", ra, rb)
		}
		values = append(values, delta)

		indicator := fmt.Sprintf(`case when %s is null and %s is null then 0
              when %s is null then 1
              when %s between %s and %s then 0
              else 1 end`,
			rawA, rawB, delta, delta,
			sqlgen.Float(rule.ToleranceFrom).SQL(),
			sqlgen.Float(rule.ToleranceTo).SQL())
		indicators = append(indicators, indicator)
	}
	return values, indicators
}

// rankNormalization renders the dense-rank mapping CTEs used when
// rank normalization is configured.
func (p *process) rankNormalization() (ctes, joins []string) {
	if p.rules.Normalization != control.NormalizationRank {
		return nil, nil
	}
	for i := range p.rules.DiscrepancyConfig {
		fieldA := p.sourceA.discFields[i]
		fieldB := p.sourceB.discFields[i]
		cte := fmt.Sprintf(`rapo_rank_%[1]d as (
  select v, dense_rank() over (order by v) as rnk
  from (select distinct cast(%[2]s as real) as v from %[3]s where %[2]s is not null
        union
        select distinct cast(%[4]s as real) from %[5]s where %[4]s is not null)
)`, i+1, fieldA, p.sourceA.temp, fieldB, p.sourceB.temp)
		ctes = append(ctes, cte)
		joins = append(joins,
			fmt.Sprintf("left join rapo_rank_%[1]d ra_%[1]d on ra_%[1]d.v = cast(a.%[2]s as real)",
				i+1, fieldA),
			fmt.Sprintf("left join rapo_rank_%[1]d rb_%[1]d on rb_%[1]d.v = cast(b.%[2]s as real)",
				i+1, fieldB))
	}
	return ctes, joins
}

// discrepancySum renders the total absolute discrepancy of a pair.
func (p *process) discrepancySum() string {
	if len(p.rules.DiscrepancyConfig) == 0 {
		return "0"
	}
	parts := make([]string, len(p.rules.DiscrepancyConfig))
	for i := range p.rules.DiscrepancyConfig {
		parts[i] = fmt.Sprintf("coalesce(abs(p.discrepancy_%d_value), 0)", i+1)
	}
	return strings.Join(parts, " + ")
}

// discrepancyFields renders the count of violated numeric rules.
func (p *process) discrepancyFields() string {
	if len(p.rules.DiscrepancyConfig) == 0 {
		return "0"
	}
	parts := make([]string, len(p.rules.DiscrepancyConfig))
	for i := range p.rules.DiscrepancyConfig {
		parts[i] = fmt.Sprintf("p.discrepancy_%d_indicator", i+1)
	}
	return strings.Join(parts, " + ")
}

// discrepancyTime renders the time envelope violation flag. A zero
// tolerance envelope disables the check.
func (p *process) discrepancyTime() string {
	if !p.rules.TimeChecked() {
		return "0"
	}
	return fmt.Sprintf(
		"case when p.time_shift_value between %d and %d then 0 else 1 end",
		p.rules.TimeToleranceFrom, p.rules.TimeToleranceTo)
}

// aCol and bCol qualify a column with the pair aliases.
func aCol(name string) string { return "a." + name }
func bCol(name string) string { return "b." + name }
