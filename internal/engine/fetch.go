package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/t3eHawk/rapo/internal/sqlgen"
)

// syntheticKey names the row-identity column exposed when a source
// declares no key field of its own.
const syntheticKey = "rapo_record_id"

// sourceMeta is the resolved shape of one side's source: its declared
// columns, the key column (native or synthesized from row identity),
// and the temp-table columns every configured rule field maps to.
// Formula-mode fields are materialized as extra columns at fetch
// time, so later stages only ever reference plain columns.
type sourceMeta struct {
	side        string
	object      string
	temp        string
	columns     []string
	dateField   string
	keyField    string
	synthesized bool
	filter      string

	// corrFields[i] / discFields[i] name the temp column carrying
	// the i-th rule field for this side.
	corrFields []string
	discFields []string
}

// fetch materializes both windowed, filtered, keyed sources and
// records the fetched counts. Empty sources are legal.
func (p *process) fetch(ctx context.Context) error {
	var err error
	p.sourceA, err = p.resolveSource(ctx, "a")
	if err != nil {
		return err
	}
	p.sourceB, err = p.resolveSource(ctx, "b")
	if err != nil {
		return err
	}

	for _, meta := range []*sourceMeta{p.sourceA, p.sourceB} {
		statement := p.buildFetch(meta)
		p.log.Debug("creating source relation", "table", meta.temp)
		if err := p.store.Exec(ctx, statement); err != nil {
			return newDBError(p.cfg.Name, p.processID,
				fmt.Errorf("fetch source %s: %w", meta.side, err))
		}
		if err := p.store.CreateIndex(ctx, meta.temp, meta.keyField); err != nil {
			return newDBError(p.cfg.Name, p.processID, err)
		}
	}

	fetchedA, err := p.store.Count(ctx, p.sourceA.temp)
	if err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	fetchedB, err := p.store.Count(ctx, p.sourceB.temp)
	if err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	p.result.FetchedA, p.result.FetchedB = fetchedA, fetchedB
	p.log.Info("records fetched", "fetched_a", fetchedA, "fetched_b", fetchedB)
	return p.store.SaveFetched(ctx, p.processID, fetchedA, fetchedB)
}

// resolveSource inspects one side's source object and works out its
// column mapping.
func (p *process) resolveSource(ctx context.Context, side string) (*sourceMeta, error) {
	meta := &sourceMeta{side: side}
	switch side {
	case "a":
		meta.object = strings.ToLower(p.cfg.SourceNameA)
		meta.dateField = strings.ToLower(p.cfg.SourceDateFieldA)
		meta.keyField = strings.ToLower(p.cfg.SourceKeyFieldA)
		meta.filter = p.cfg.SourceFilterA
		meta.temp = p.names.SourceA
	default:
		meta.object = strings.ToLower(p.cfg.SourceNameB)
		meta.dateField = strings.ToLower(p.cfg.SourceDateFieldB)
		meta.keyField = strings.ToLower(p.cfg.SourceKeyFieldB)
		meta.filter = p.cfg.SourceFilterB
		meta.temp = p.names.SourceB
	}

	exists, err := p.store.TableExists(ctx, meta.object)
	if err != nil {
		return nil, newDBError(p.cfg.Name, p.processID, err)
	}
	if !exists {
		return nil, newConfigError(p.cfg.Name,
			fmt.Errorf("source %s is not defined", meta.object))
	}
	columns, err := p.store.ColumnNames(ctx, meta.object)
	if err != nil {
		return nil, newDBError(p.cfg.Name, p.processID, err)
	}
	for _, c := range columns {
		meta.columns = append(meta.columns, strings.ToLower(c))
	}
	if !containsFold(meta.columns, meta.dateField) {
		return nil, newConfigError(p.cfg.Name,
			fmt.Errorf("source %s has no date field %s", meta.object, meta.dateField))
	}

	isView, err := p.store.IsView(ctx, meta.object)
	if err != nil {
		return nil, newDBError(p.cfg.Name, p.processID, err)
	}
	switch {
	case meta.keyField != "" && containsFold(meta.columns, meta.keyField):
		// Native unique column, used verbatim.
	case isView:
		return nil, newConfigError(p.cfg.Name,
			fmt.Errorf("source %s is a view and needs a real key field", meta.object))
	default:
		// Row identity exposed under the configured alias.
		if meta.keyField == "" {
			meta.keyField = syntheticKey
		}
		meta.synthesized = true
	}

	for i, rule := range p.rules.CorrelationConfig {
		name, err := meta.resolveField(sideField(rule.FieldA, rule.FieldB, side),
			rule.FormulaMode, fmt.Sprintf("rapo_corr_%d", i+1))
		if err != nil {
			return nil, newConfigError(p.cfg.Name, err)
		}
		meta.corrFields = append(meta.corrFields, name)
	}
	for i, rule := range p.rules.DiscrepancyConfig {
		name, err := meta.resolveField(sideField(rule.FieldA, rule.FieldB, side),
			rule.FormulaMode, fmt.Sprintf("rapo_disc_%d", i+1))
		if err != nil {
			return nil, newConfigError(p.cfg.Name, err)
		}
		meta.discFields = append(meta.discFields, name)
	}
	return meta, nil
}

// resolveField maps one configured rule field to its temp column.
func (m *sourceMeta) resolveField(field string, formulaMode bool, alias string) (string, error) {
	if formulaMode {
		return alias, nil
	}
	if !containsFold(m.columns, field) {
		return "", fmt.Errorf("source %s has no field %s", m.object, field)
	}
	return field, nil
}

// buildFetch renders the CTAS materializing one side.
func (p *process) buildFetch(meta *sourceMeta) string {
	var items []sqlgen.SelectItem
	for _, col := range meta.columns {
		if col == meta.dateField {
			items = append(items, sqlgen.Item(normalizedDate("t", col), col))
			continue
		}
		items = append(items, sqlgen.Item(sqlgen.Col{Table: "t", Name: col}, ""))
	}
	if meta.synthesized {
		items = append(items,
			sqlgen.Item(sqlgen.Col{Table: "t", Name: "rowid"}, meta.keyField))
	}
	for i, rule := range p.rules.CorrelationConfig {
		if rule.FormulaMode {
			items = append(items,
				sqlgen.Item(sqlgen.Raw(sideField(rule.FieldA, rule.FieldB, meta.side)),
					meta.corrFields[i]))
		}
	}
	for i, rule := range p.rules.DiscrepancyConfig {
		if rule.FormulaMode {
			items = append(items,
				sqlgen.Item(sqlgen.Raw(sideField(rule.FieldA, rule.FieldB, meta.side)),
					meta.discFields[i]))
		}
	}

	where := sqlgen.And{}
	if meta.filter != "" {
		where = append(where, sqlgen.RawPred(p.variables().Apply(meta.filter)))
	}
	const layout = "2006-01-02 15:04:05"
	dateExpr := normalizedDate("t", meta.dateField)
	where = append(where,
		sqlgen.RawPred(fmt.Sprintf("%s >= %s",
			dateExpr.SQL(), sqlgen.QuoteString(p.win.From.Format(layout)))),
		sqlgen.RawPred(fmt.Sprintf("%s < %s",
			dateExpr.SQL(), sqlgen.QuoteString(p.win.To.Format(layout)))),
	)
	for i, rule := range p.rules.CorrelationConfig {
		if rule.AllowNull {
			continue
		}
		field := sideField(rule.FieldA, rule.FieldB, meta.side)
		if rule.FormulaMode {
			where = append(where, sqlgen.NotNull{X: sqlgen.Raw(field)})
		} else {
			where = append(where, sqlgen.NotNull{X: sqlgen.Col{Table: "t", Name: meta.corrFields[i]}})
		}
	}

	selectSQL := fmt.Sprintf("select %s%s\nfrom %s t\nwhere %s",
		p.hint(), sqlgen.SelectList(items), meta.object, renderConjunction(where))
	return sqlgen.CreateTableAs(meta.temp, selectSQL)
}

// normalizedDate coerces a date column to the canonical TEXT
// timestamp: fractional seconds drop, 1-second resolution stays.
func normalizedDate(alias, column string) sqlgen.Expr {
	return sqlgen.Raw(fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:%%M:%%S', %s.%s)", alias, column))
}

// renderConjunction renders one predicate per line for readable
// statement logs.
func renderConjunction(preds sqlgen.And) string {
	if len(preds) == 0 {
		return "1 = 1"
	}
	parts := make([]string, len(preds))
	for i, pred := range preds {
		parts[i] = pred.SQL()
	}
	return strings.Join(parts, "\n  and ")
}

// sideField picks the configured field for a side.
func sideField(fieldA, fieldB, side string) string {
	if side == "a" {
		return fieldA
	}
	return fieldB
}

// containsFold reports membership ignoring case.
func containsFold(list []string, name string) bool {
	for _, item := range list {
		if strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}
