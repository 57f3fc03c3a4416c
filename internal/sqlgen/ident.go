package sqlgen

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Ident normalizes a catalogue-supplied identifier for embedding in
// generated SQL: NFC form, Unicode lower case, then a strict charset
// check. The catalogue stores object and field names in mixed case,
// while every generated statement references them in lower case.
func Ident(name string) (string, error) {
	folded := lower.String(norm.NFC.String(strings.TrimSpace(name)))
	if folded == "" {
		return "", fmt.Errorf("empty identifier")
	}
	for i, r := range folded {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return "", fmt.Errorf("identifier %q starts with a digit", name)
			}
		default:
			return "", fmt.Errorf("identifier %q contains unsupported character %q", name, r)
		}
	}
	return folded, nil
}

// MustIdent is Ident for identifiers already validated upstream.
// It panics on invalid input and exists for literal names owned by
// this package's callers, never for catalogue data.
func MustIdent(name string) string {
	id, err := Ident(name)
	if err != nil {
		panic(err)
	}
	return id
}

// QuoteString renders a TEXT literal with single-quote escaping.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
