package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/t3eHawk/rapo/internal/store"
)

// DefaultNow is the pinned instant test stores open at. The matching
// day-back window is [2025-03-14, 2025-03-15).
var DefaultNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

// OpenStore opens an in-memory store on the given clock and closes it
// with the test.
func OpenStore(t *testing.T, clock *Clock) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Exec runs a statement, failing the test on error.
func Exec(t *testing.T, s *store.Store, statement string, args ...any) {
	t.Helper()
	require.NoError(t, s.Exec(context.Background(), statement, args...))
}

// CreateSource creates a plain source table with the given column
// DDL, e.g. "k INTEGER, d TEXT, v INTEGER".
func CreateSource(t *testing.T, s *store.Store, name, columns string) {
	t.Helper()
	Exec(t, s, "CREATE TABLE "+name+" ("+columns+")")
}

// InsertRow appends one row of positional values to a table.
func InsertRow(t *testing.T, s *store.Store, table string, values ...any) {
	t.Helper()
	placeholders := ""
	for i := range values {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}
	Exec(t, s, "INSERT INTO "+table+" VALUES ("+placeholders+")", values...)
}
