package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a renderable SQL scalar expression.
type Expr interface {
	SQL() string
}

// Col references a column, optionally qualified with a table alias.
type Col struct {
	Table string
	Name  string
}

func (c Col) SQL() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// Raw is a preassembled SQL fragment. Formula-mode rule fields land
// here; everything else should use the typed nodes.
type Raw string

func (r Raw) SQL() string { return "(" + string(r) + ")" }

// Int is an integer literal.
type Int int64

func (i Int) SQL() string { return strconv.FormatInt(int64(i), 10) }

// Float is a numeric literal.
type Float float64

func (f Float) SQL() string { return strconv.FormatFloat(float64(f), 'g', -1, 64) }

// Str is a TEXT literal.
type Str string

func (s Str) SQL() string { return QuoteString(string(s)) }

// Null is the SQL NULL literal.
type Null struct{}

func (Null) SQL() string { return "null" }

// Pred is a renderable SQL predicate.
type Pred interface {
	SQL() string
}

// Eq compares two expressions with plain equality: nulls never match.
type Eq struct {
	L, R Expr
}

func (e Eq) SQL() string { return e.L.SQL() + " = " + e.R.SQL() }

// NullEq compares two expressions treating null = null as a match.
type NullEq struct {
	L, R Expr
}

func (e NullEq) SQL() string {
	l, r := e.L.SQL(), e.R.SQL()
	return fmt.Sprintf("(%s = %s or (%s is null and %s is null))", l, r, l, r)
}

// Between is an inclusive range predicate.
type Between struct {
	X, Lo, Hi Expr
}

func (b Between) SQL() string {
	return b.X.SQL() + " between " + b.Lo.SQL() + " and " + b.Hi.SQL()
}

// IsNull tests an expression for null.
type IsNull struct {
	X Expr
}

func (p IsNull) SQL() string { return p.X.SQL() + " is null" }

// NotNull tests an expression for non-null.
type NotNull struct {
	X Expr
}

func (p NotNull) SQL() string { return p.X.SQL() + " is not null" }

// And joins predicates conjunctively. An empty conjunction renders as
// the always-true predicate so callers can build it incrementally.
type And []Pred

func (a And) SQL() string {
	if len(a) == 0 {
		return "1 = 1"
	}
	parts := make([]string, len(a))
	for i, p := range a {
		parts[i] = p.SQL()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " and ") + ")"
}

// Or joins predicates disjunctively. An empty disjunction renders as
// the always-false predicate.
type Or []Pred

func (o Or) SQL() string {
	if len(o) == 0 {
		return "1 = 0"
	}
	parts := make([]string, len(o))
	for i, p := range o {
		parts[i] = p.SQL()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

// RawPred is a preassembled predicate fragment, used for
// catalogue-supplied source filters.
type RawPred string

func (r RawPred) SQL() string { return "(" + string(r) + ")" }

// Seconds renders the signed distance between two date expressions in
// whole seconds. Dates are TEXT timestamps, so the distance goes
// through julianday() and is rounded to 1-second resolution.
func Seconds(a, b Expr) Expr {
	return Raw(fmt.Sprintf(
		"cast(round((julianday(%s) - julianday(%s)) * 86400) as integer)",
		a.SQL(), b.SQL()))
}

// ShiftedDate renders a date expression moved by a whole number of
// seconds, in the canonical TEXT timestamp layout.
func ShiftedDate(x Expr, seconds int) Expr {
	if seconds == 0 {
		return Raw(fmt.Sprintf("datetime(%s)", x.SQL()))
	}
	return Raw(fmt.Sprintf("datetime(%s, '%+d seconds')", x.SQL(), seconds))
}

// Concat renders the double-pipe concatenation of the given
// expressions with a separator literal between them, coalescing nulls
// to empty strings so the result stays stable.
func Concat(sep string, exprs ...Expr) Expr {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = "coalesce(cast(" + e.SQL() + " as text), '')"
	}
	return Raw(strings.Join(parts, " || "+QuoteString(sep)+" || "))
}
