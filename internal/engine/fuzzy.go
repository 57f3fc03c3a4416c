package engine

import (
	"context"
	"fmt"
	"strings"
)

// resolveDuplicates pairs records positionally inside fuzzy clusters.
//
// An F cluster holds equally many A and B records that all correlate
// with each other, typically the same logical events drifted in time.
// Each side is ordered by (date, sum of the record's numeric
// discrepancy fields, key) and the k-th A record pairs with the k-th
// B record, provided that pair actually correlates. Resolved pairs
// land in DUP and are marked in MOD and both organizers.
//
// The stage only acts when fuzzy optimization is on; the DUP relation
// exists either way so downstream stages have a stable shape.
func (p *process) resolveDuplicates(ctx context.Context) error {
	create := fmt.Sprintf(`create table %s as
select a_id, b_id, key_value, time_shift_group_number
from %s
where 1 = 0`, p.names.Dup, p.names.Mod)
	if err := p.store.Exec(ctx, create); err != nil {
		return newDBError(p.cfg.Name, p.processID,
			fmt.Errorf("resolve duplicates: %w", err))
	}
	if !p.rules.FuzzyOptimization {
		return nil
	}

	insert := p.buildFuzzyPairs()
	p.log.Debug("pairing fuzzy clusters", "table", p.names.Dup)
	if err := p.store.Exec(ctx, insert); err != nil {
		return newDBError(p.cfg.Name, p.processID,
			fmt.Errorf("resolve duplicates: %w", err))
	}

	resolved, err := p.store.Count(ctx, p.names.Dup)
	if err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	p.log.Info("fuzzy pairs resolved", "pairs", resolved)
	if resolved == 0 {
		return nil
	}

	marks := []string{
		fmt.Sprintf(`update %[1]s
   set correlation_status = 'R', correlation_indicator = 'X'
 where exists (select 1 from %[2]s d
                where d.a_id = %[1]s.a_id and d.b_id = %[1]s.b_id)`,
			p.names.Mod, p.names.Dup),
		fmt.Sprintf(`update %s
   set correlation_status = 'R', correlation_indicator = 'X'
 where a_id in (select a_id from %s)`, p.names.OrgA, p.names.Dup),
		fmt.Sprintf(`update %s
   set correlation_status = 'R', correlation_indicator = 'X'
 where b_id in (select b_id from %s)`, p.names.OrgB, p.names.Dup),
	}
	for _, statement := range marks {
		if err := p.store.Exec(ctx, statement); err != nil {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("resolve duplicates: %w", err))
		}
	}
	return nil
}

// buildFuzzyPairs renders the positional pairing statement.
func (p *process) buildFuzzyPairs() string {
	return fmt.Sprintf(`insert into %[1]s (a_id, b_id, key_value, time_shift_group_number)
with fuzzy as (
  select a_id, b_id, key_value, time_shift_group_number
  from %[2]s
  where correlation_type = 'F' and correlation_indicator is null
),
side_a as (
  select f.a_id, f.key_value, f.time_shift_group_number,
         row_number() over (partition by f.key_value, f.time_shift_group_number
                            order by s.%[3]s, %[4]s, f.a_id) as cluster_position_number
  from (select distinct a_id, key_value, time_shift_group_number from fuzzy) f
  join %[5]s s on s.%[6]s = f.a_id
),
side_b as (
  select f.b_id, f.key_value, f.time_shift_group_number,
         row_number() over (partition by f.key_value, f.time_shift_group_number
                            order by s.%[7]s, %[8]s, f.b_id) as cluster_position_number
  from (select distinct b_id, key_value, time_shift_group_number from fuzzy) f
  join %[9]s s on s.%[10]s = f.b_id
)
select %[11]sf.a_id, f.b_id, f.key_value, f.time_shift_group_number
from fuzzy f
join side_a sa
  on sa.a_id = f.a_id
 and sa.key_value = f.key_value
 and sa.time_shift_group_number = f.time_shift_group_number
join side_b sb
  on sb.b_id = f.b_id
 and sb.key_value = f.key_value
 and sb.time_shift_group_number = f.time_shift_group_number
where sa.cluster_position_number = sb.cluster_position_number`,
		p.names.Dup, p.names.Mod,
		p.sourceA.dateField, numericSum(p.sourceA),
		p.sourceA.temp, p.sourceA.keyField,
		p.sourceB.dateField, numericSum(p.sourceB),
		p.sourceB.temp, p.sourceB.keyField,
		p.hint())
}

// numericSum renders a record's own numeric-field total, the second
// ordering term of positional pairing.
func numericSum(meta *sourceMeta) string {
	if len(meta.discFields) == 0 {
		return "0"
	}
	parts := make([]string, len(meta.discFields))
	for i, field := range meta.discFields {
		parts[i] = fmt.Sprintf("coalesce(cast(s.%s as real), 0)", field)
	}
	return "(" + strings.Join(parts, " + ") + ")"
}
