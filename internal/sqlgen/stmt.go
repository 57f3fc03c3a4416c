package sqlgen

import (
	"fmt"
	"strings"
)

// ParallelHint renders the query-level parallelism hint comment for
// the given degree. SQLite ignores the comment; engines that honor
// hints pick it up unchanged.
func ParallelHint(degree int) string {
	if degree <= 1 {
		return ""
	}
	return fmt.Sprintf("/*+ parallel(%d) */ ", degree)
}

// CreateTableAs renders a CTAS statement materializing the select
// into the named table.
func CreateTableAs(table, selectSQL string) string {
	return fmt.Sprintf("create table %s as\n%s", table, selectSQL)
}

// SelectItem is a projected column with an optional alias.
type SelectItem struct {
	Expr  Expr
	Alias string
}

func (s SelectItem) SQL() string {
	if s.Alias == "" {
		return s.Expr.SQL()
	}
	return s.Expr.SQL() + " as " + s.Alias
}

// SelectList renders a projection list, one item per line for
// readable statement logs.
func SelectList(items []SelectItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = "       " + it.SQL()
	}
	return strings.TrimLeft(strings.Join(parts, ",\n"), " ")
}

// Item is shorthand for a SelectItem over an expression.
func Item(e Expr, alias string) SelectItem {
	return SelectItem{Expr: e, Alias: alias}
}
