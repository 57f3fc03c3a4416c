package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/t3eHawk/rapo/internal/sqlgen"
)

// classifySide parameterizes the classifier for one side; the other
// side is the mirror.
type classifySide struct {
	src        *sourceMeta
	org        string
	errorTable string
	stageTable string
	selfID     string // key column of this side in MOD
	otherID    string // counterpart key column
	selfRank   string // discrepancy rank column of this side
	selfShift  string // time shift rank column of this side
}

func (p *process) sideA() classifySide {
	return classifySide{
		src: p.sourceA, org: p.names.OrgA,
		errorTable: p.names.ErrorA, stageTable: p.names.StageA,
		selfID: "a_id", otherID: "b_id",
		selfRank: "discrepancy_rank_a", selfShift: "time_shift_rank_a",
	}
}

func (p *process) sideB() classifySide {
	return classifySide{
		src: p.sourceB, org: p.names.OrgB,
		errorTable: p.names.ErrorB, stageTable: p.names.StageB,
		selfID: "b_id", otherID: "a_id",
		selfRank: "discrepancy_rank_b", selfShift: "time_shift_rank_b",
	}
}

// classify assigns every source record its final outcome.
//
// A record whose key owns a resolved pair is Success, or Discrepancy
// when any of its resolved pairs violates the time envelope or a
// numeric tolerance. A record whose key never correlated is Loss. A
// record that correlated but lost every pair to a peer is Duplicate;
// with discrepancy matching on, a Duplicate carrying a numeric
// discrepancy against its candidates is reclassified as Loss. With
// allow_duplicates on, Duplicate rows are suppressed from the error
// relation entirely.
func (p *process) classify(ctx context.Context) error {
	for _, side := range []classifySide{p.sideA(), p.sideB()} {
		errorStmt := p.buildError(side)
		p.log.Debug("creating error relation", "table", side.errorTable)
		if err := p.store.Exec(ctx, errorStmt); err != nil {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("classify %s: %w", side.selfID, err))
		}
		stageStmt := p.buildStage(side)
		p.log.Debug("creating stage relation", "table", side.stageTable)
		if err := p.store.Exec(ctx, stageStmt); err != nil {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("classify %s: %w", side.selfID, err))
		}
	}

	var err error
	if p.result.ErrorA, err = p.store.Count(ctx, p.names.ErrorA); err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	if p.result.ErrorB, err = p.store.Count(ctx, p.names.ErrorB); err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	if p.result.SuccessA, err = p.store.Count(ctx, p.names.StageA); err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	if p.result.SuccessB, err = p.store.Count(ctx, p.names.StageB); err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	p.log.Info("records classified",
		"error_a", p.result.ErrorA, "error_b", p.result.ErrorB,
		"success_a", p.result.SuccessA, "success_b", p.result.SuccessB)
	return nil
}

// buildError renders one side's negative-outcome relation.
func (p *process) buildError(side classifySide) string {
	targetTypes := []string{"'Loss'", "'Discrepancy'"}
	if !p.rules.AllowDuplicates {
		targetTypes = append(targetTypes, "'Duplicate'")
	}
	reclassify := "0"
	if p.rules.DiscrepancyMatching {
		reclassify = "1"
	}
	return fmt.Sprintf(`create table %[1]s as
with resolved as (
  select * from %[2]s where correlation_indicator = 'X'
),
verdict as (
  select %[3]s,
         max(case when discrepancy_time_value > 0 or discrepancy_fields_value > 0 then 1 else 0 end) as has_discrepancy
  from resolved
  group by %[3]s
),
offender as (
  select %[3]s, %[4]s,
         %[5]s as discrepancy_description,
         row_number() over (partition by %[3]s order by %[6]s, %[7]s, %[4]s) as rn
  from resolved
  where discrepancy_time_value > 0 or discrepancy_fields_value > 0
),
peers as (
  select %[3]s,
         max(case when discrepancy_fields_value > 0 then 1 else 0 end) as has_field_discrepancy
  from %[2]s
  group by %[3]s
),
classified as (
  select s.*,
         case
           when o.%[3]s is null then 'Loss'
           when o.correlation_indicator = 'X' and coalesce(v.has_discrepancy, 0) > 0 then 'Discrepancy'
           when o.correlation_indicator = 'X' then 'Success'
           when %[9]s = 1 and coalesce(pe.has_field_discrepancy, 0) > 0 then 'Loss'
           else 'Duplicate'
         end as rapo_result_type,
         f.%[4]s as rapo_discrepancy_id,
         f.discrepancy_description as rapo_discrepancy_description
  from %[10]s s
  left join %[11]s o on o.%[3]s = s.%[12]s
  left join verdict v on v.%[3]s = s.%[12]s
  left join (select * from offender where rn = 1) f on f.%[3]s = s.%[12]s
  left join peers pe on pe.%[3]s = s.%[12]s
)
select %[8]s* from classified
where rapo_result_type in (%[13]s)`,
		side.errorTable, p.names.Mod, side.selfID, side.otherID,
		p.descriptionExpr(), side.selfRank, side.selfShift,
		p.hint(), reclassify,
		side.src.temp, side.org, side.src.keyField,
		strings.Join(targetTypes, ", "))
}

// buildStage renders one side's positive-outcome relation.
func (p *process) buildStage(side classifySide) string {
	return fmt.Sprintf(`create table %[1]s as
with resolved as (
  select * from %[2]s where correlation_indicator = 'X'
),
verdict as (
  select %[3]s,
         max(case when discrepancy_time_value > 0 or discrepancy_fields_value > 0 then 1 else 0 end) as has_discrepancy
  from resolved
  group by %[3]s
)
select %[4]ss.*,
       'Success' as rapo_result_type,
       null as rapo_discrepancy_id,
       null as rapo_discrepancy_description
from %[5]s s
join %[6]s o on o.%[3]s = s.%[7]s and o.correlation_indicator = 'X'
left join verdict v on v.%[3]s = s.%[7]s
where coalesce(v.has_discrepancy, 0) = 0`,
		side.stageTable, p.names.Mod, side.selfID,
		p.hint(), side.src.temp, side.org, side.src.keyField)
}

// descriptionExpr renders the discrepancy description of one pair:
// every violated numeric rule as "<field>[<delta>]" plus the time
// shift when it breaks the envelope, comma separated.
func (p *process) descriptionExpr() string {
	var parts []string
	for i, rule := range p.rules.DiscrepancyConfig {
		value := fmt.Sprintf("abs(discrepancy_%d_value)", i+1)
		// A null delta (one side missing the value) still reads as a
		// violation; keep the concatenation non-null.
		rendered := fmt.Sprintf("coalesce(%s, 'null')", trimNumber(value))
		parts = append(parts, fmt.Sprintf(
			"case when discrepancy_%d_indicator = 1 then ', ' || %s || '[' || %s || ']' else '' end",
			i+1, sqlgen.QuoteString(rule.Name()), rendered))
	}
	if p.rules.TimeChecked() {
		parts = append(parts,
			"case when discrepancy_time_value > 0 then ', time_shift[' || cast(time_shift_value as text) || ']' else '' end")
	}
	if len(parts) == 0 {
		return "null"
	}
	return "substr(" + strings.Join(parts, " || ") + ", 3)"
}

// trimNumber renders a numeric expression as text without a trailing
// fractional zero tail: 3.0 prints as 3, 3.14 stays 3.14.
func trimNumber(expr string) string {
	text := fmt.Sprintf("cast(%s as text)", expr)
	return fmt.Sprintf(
		"case when instr(%[1]s, '.') > 0 then rtrim(rtrim(%[1]s, '0'), '.') else %[1]s end",
		text)
}
