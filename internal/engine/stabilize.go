package engine

import (
	"context"
	"fmt"
)

// stabilize runs the fixed-point matching loop over the pairs the
// duplicate resolver left open.
//
// Each iteration selects the pairs that are mutually preferred first
// choices: ordering every side's open candidates by (discrepancy
// rank, time shift rank, counterpart key), a pair wins when it ranks
// first for both of its endpoints simultaneously. Winners are marked
// resolved in MOD and both organizers, shrinking the candidate set,
// and the loop repeats until no pair can be selected.
//
// Every round resolves at least one key on each selected pair, so the
// unresolved population strictly decreases and the loop converges in
// at most min(|A|, |B|) iterations.
func (p *process) stabilize(ctx context.Context) error {
	create := fmt.Sprintf(
		"create table %s as\nselect a_id, b_id from %s where 1 = 0",
		p.names.Mac, p.names.Mod)
	if err := p.store.Exec(ctx, create); err != nil {
		return newDBError(p.cfg.Name, p.processID,
			fmt.Errorf("stabilize: %w", err))
	}

	maxIterations := p.result.FetchedA
	if p.result.FetchedB < maxIterations {
		maxIterations = p.result.FetchedB
	}

	selection := p.buildSelection()
	marks := []string{
		fmt.Sprintf(`update %[1]s
   set correlation_status = 'R', correlation_indicator = 'X'
 where exists (select 1 from %[2]s m
                where m.a_id = %[1]s.a_id and m.b_id = %[1]s.b_id)`,
			p.names.Mod, p.names.Mac),
		fmt.Sprintf(`update %s
   set correlation_status = 'R', correlation_indicator = 'X'
 where a_id in (select a_id from %s)`, p.names.OrgA, p.names.Mac),
		fmt.Sprintf(`update %s
   set correlation_status = 'R', correlation_indicator = 'X'
 where b_id in (select b_id from %s)`, p.names.OrgB, p.names.Mac),
	}

	for iteration := int64(0); ; iteration++ {
		if err := p.barrier(ctx); err != nil {
			return err
		}
		if err := p.store.Truncate(ctx, p.names.Mac); err != nil {
			return newDBError(p.cfg.Name, p.processID, err)
		}
		if err := p.store.Exec(ctx, selection); err != nil {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("stabilize: %w", err))
		}
		selected, err := p.store.Count(ctx, p.names.Mac)
		if err != nil {
			return newDBError(p.cfg.Name, p.processID, err)
		}
		if selected == 0 {
			p.log.Info("matching stabilized", "iterations", iteration)
			return nil
		}
		if iteration >= maxIterations {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("stabilizer did not converge after %d iterations", iteration))
		}
		p.log.Debug("stabilizer round",
			"iteration", iteration+1, "selected", selected)
		for _, statement := range marks {
			if err := p.store.Exec(ctx, statement); err != nil {
				return newDBError(p.cfg.Name, p.processID,
					fmt.Errorf("stabilize: %w", err))
			}
		}
	}
}

// buildSelection renders the winner-selection statement of one
// stabilizer round.
func (p *process) buildSelection() string {
	return fmt.Sprintf(`insert into %[1]s (a_id, b_id)
with open_pairs as (
  select m.a_id, m.b_id,
         m.discrepancy_rank_a, m.discrepancy_rank_b,
         m.time_shift_rank_a, m.time_shift_rank_b
  from %[2]s m
  join %[3]s oa on oa.a_id = m.a_id
  join %[4]s ob on ob.b_id = m.b_id
  where m.correlation_type in ('A', 'B', 'M')
    and m.correlation_indicator is null
    and oa.correlation_indicator is null
    and ob.correlation_indicator is null
),
ranked as (
  select o.*,
         row_number() over (partition by a_id order by discrepancy_rank_a, time_shift_rank_a, b_id) as rn_a,
         row_number() over (partition by b_id order by discrepancy_rank_b, time_shift_rank_b, a_id) as rn_b
  from open_pairs o
)
select %[5]sa_id, b_id
from ranked
where rn_a = 1 and rn_b = 1`,
		p.names.Mac, p.names.Mod, p.names.OrgA, p.names.OrgB, p.hint())
}
