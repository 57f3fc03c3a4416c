package engine

import (
	"context"
	"fmt"
)

// organize summarizes the matching topology per source key. The
// per-key correlation type is the best label among the key's pairs in
// priority order O > F > A > B > M; the indicator is X as soon as the
// key owns at least one resolved pair. Keys that never correlated
// have no row here at all.
func (p *process) organize(ctx context.Context) error {
	sides := []struct {
		table string
		key   string
	}{
		{p.names.OrgA, "a_id"},
		{p.names.OrgB, "b_id"},
	}
	for _, side := range sides {
		statement := fmt.Sprintf(`create table %s as
select %s%s,
       case min(case correlation_type when 'O' then 1 when 'F' then 2 when 'A' then 3 when 'B' then 4 else 5 end)
            when 1 then 'O' when 2 then 'F' when 3 then 'A' when 4 then 'B' else 'M' end as correlation_type,
       max(case when correlation_type = 'O' then 'R' end) as correlation_status,
       max(case when correlation_type = 'O' then 'X' end) as correlation_indicator
from %s
group by %s`,
			side.table, p.hint(), side.key, p.names.Mod, side.key)
		p.log.Debug("creating organizer relation", "table", side.table)
		if err := p.store.Exec(ctx, statement); err != nil {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("organize: %w", err))
		}
		if err := p.store.CreateIndex(ctx, side.table, side.key); err != nil {
			return newDBError(p.cfg.Name, p.processID, err)
		}
	}
	return nil
}
