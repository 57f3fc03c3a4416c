package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/t3eHawk/rapo/internal/store"
)

// mandatoryColumns are appended to every result table after the
// source's own columns.
var mandatoryColumns = []string{
	"rapo_result_type",
	"rapo_discrepancy_id",
	"rapo_discrepancy_description",
	"rapo_process_id",
}

// save appends the run's outcomes to the per-control result tables.
// A result table is created on the first write, even when the run
// produced nothing; later runs append, keyed by rapo_process_id.
func (p *process) save(ctx context.Context) error {
	counts := store.Counters{
		SuccessA: sql.NullInt64{Int64: p.result.SuccessA, Valid: true},
		SuccessB: sql.NullInt64{Int64: p.result.SuccessB, Valid: true},
		ErrorA:   sql.NullInt64{Int64: p.result.ErrorA, Valid: true},
		ErrorB:   sql.NullInt64{Int64: p.result.ErrorB, Valid: true},
	}
	if err := p.store.SaveResultCounts(ctx, p.processID, counts); err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}

	if p.cfg.NeedA {
		err := p.saveSide(ctx, p.cfg.OutputNameA(), p.sourceA,
			p.names.ErrorA, p.names.StageA,
			p.rules.NeedIssuesA, p.rules.NeedReconsA, p.rules.OutputLimitA)
		if err != nil {
			return err
		}
	}
	if p.cfg.NeedB {
		err := p.saveSide(ctx, p.cfg.OutputNameB(), p.sourceB,
			p.names.ErrorB, p.names.StageB,
			p.rules.NeedIssuesB, p.rules.NeedReconsB, p.rules.OutputLimitB)
		if err != nil {
			return err
		}
	}
	return nil
}

// saveSide prepares one side's result table and appends the selected
// outcome relations.
func (p *process) saveSide(ctx context.Context, output string, meta *sourceMeta,
	errorTemp, stageTemp string, needIssues, needRecons bool, sideLimit int) error {

	columns := p.outputColumns(meta)
	if err := p.prepareOutputTable(ctx, output, errorTemp, columns); err != nil {
		return err
	}

	limit := sideLimit
	if limit == 0 {
		limit = p.cfg.OutputLimit
	}

	var inputs []string
	if needIssues {
		inputs = append(inputs, errorTemp)
	}
	if needRecons {
		inputs = append(inputs, stageTemp)
	}
	for _, input := range inputs {
		statement := p.buildAppend(output, input, meta, columns, limit)
		p.log.Debug("saving results", "output", output, "input", input)
		if err := p.store.Exec(ctx, statement); err != nil {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("save %s: %w", output, err))
		}
	}
	return nil
}

// outputColumns lists one side's result columns: the source's own
// columns plus the synthesized key when row identity backs it.
func (p *process) outputColumns(meta *sourceMeta) []string {
	columns := make([]string, 0, len(meta.columns)+1)
	columns = append(columns, meta.columns...)
	if meta.synthesized {
		columns = append(columns, meta.keyField)
	}
	return columns
}

// prepareOutputTable applies the deletion/drop modes and creates the
// result table when it does not exist yet.
func (p *process) prepareOutputTable(ctx context.Context, output, shapeSource string, columns []string) error {
	exists, err := p.store.TableExists(ctx, output)
	if err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	if exists && p.cfg.WithDrop {
		if err := p.store.DropTable(ctx, output); err != nil {
			return newDBError(p.cfg.Name, p.processID, err)
		}
		exists = false
	}
	if exists && p.cfg.WithDeletion {
		if err := p.store.Truncate(ctx, output); err != nil {
			return newDBError(p.cfg.Name, p.processID, err)
		}
	}
	if exists {
		return nil
	}

	projected := make([]string, 0, len(columns)+len(mandatoryColumns))
	projected = append(projected, columns...)
	projected = append(projected,
		"rapo_result_type", "rapo_discrepancy_id", "rapo_discrepancy_description",
		"0 as rapo_process_id")
	create := fmt.Sprintf("create table %s as\nselect %s\nfrom %s\nwhere 1 = 0",
		output, strings.Join(projected, ", "), shapeSource)
	p.log.Info("creating result table", "table", output)
	if err := p.store.Exec(ctx, create); err != nil {
		return newDBError(p.cfg.Name, p.processID,
			fmt.Errorf("prepare output %s: %w", output, err))
	}
	return p.store.CreateIndex(ctx, output, "rapo_process_id")
}

// buildAppend renders the insert of one outcome relation into the
// result table, ordered by (date, key) and capped by the output
// limit.
func (p *process) buildAppend(output, input string, meta *sourceMeta, columns []string, limit int) string {
	target := make([]string, 0, len(columns)+len(mandatoryColumns))
	target = append(target, columns...)
	target = append(target, mandatoryColumns...)

	source := make([]string, 0, len(target))
	source = append(source, columns...)
	source = append(source,
		"rapo_result_type", "rapo_discrepancy_id", "rapo_discrepancy_description",
		fmt.Sprintf("%d", p.processID))

	statement := fmt.Sprintf(
		"insert into %s (%s)\nselect %s%s\nfrom %s\norder by %s, %s",
		output, strings.Join(target, ", "),
		p.hint(), strings.Join(source, ", "),
		input, meta.dateField, meta.keyField)
	if limit > 0 {
		statement += fmt.Sprintf("\nlimit %d", limit)
	}
	return statement
}
