package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/t3eHawk/rapo/internal/control"
)

// scales carries the per-rule scaling divisors for minmax and z_norm
// normalization. A zero divisor degenerates to the plain difference.
type scales []float64

// computeScales derives the normalization statistics for every
// discrepancy rule from the union of both fetched sources. The
// statistics are computed once per run and inlined as constants into
// the correlation statement.
func (p *process) computeScales(ctx context.Context) (scales, error) {
	kind := p.rules.Normalization
	if kind != control.NormalizationMinMax && kind != control.NormalizationZNorm {
		return nil, nil
	}
	out := make(scales, len(p.rules.DiscrepancyConfig))
	for i := range p.rules.DiscrepancyConfig {
		fieldA := p.sourceA.discFields[i]
		fieldB := p.sourceB.discFields[i]
		query := fmt.Sprintf(`
			select min(v), max(v), avg(v), avg(v * v)
			from (select cast(%[1]s as real) as v from %[2]s where %[1]s is not null
			      union all
			      select cast(%[3]s as real) from %[4]s where %[3]s is not null)`,
			fieldA, p.sourceA.temp, fieldB, p.sourceB.temp)

		var minV, maxV, avgV, avgSq sql.NullFloat64
		err := p.store.DB().QueryRowContext(ctx, query).
			Scan(&minV, &maxV, &avgV, &avgSq)
		if err != nil {
			return nil, newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("normalization statistics: %w", err))
		}
		if !minV.Valid {
			continue // no values on either side
		}
		switch kind {
		case control.NormalizationMinMax:
			out[i] = maxV.Float64 - minV.Float64
		case control.NormalizationZNorm:
			variance := avgSq.Float64 - avgV.Float64*avgV.Float64
			if variance > 0 {
				out[i] = math.Sqrt(variance)
			}
		}
	}
	return out, nil
}
