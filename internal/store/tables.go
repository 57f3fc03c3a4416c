package store

import (
	"context"
	"fmt"
)

// TableExists reports whether a table or view with the given name
// exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM sqlite_master
		WHERE type IN ('table', 'view') AND name = ?
	`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return count > 0, nil
}

// IsView reports whether the named object is a view. Views carry no
// row identity, so they need an explicit key field.
func (s *Store) IsView(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM sqlite_master
		WHERE type = 'view' AND name = ?
	`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is view %s: %w", name, err)
	}
	return count > 0, nil
}

// ColumnNames lists the declared columns of a table or view in
// declaration order.
func (s *Store) ColumnNames(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", name))
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", name, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		columns = append(columns, colName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns of %s: %w", name, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("columns of %s: object not found", name)
	}
	return columns, nil
}

// Count returns the row count of a table.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s", name)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return count, nil
}

// DropTable removes a table if it exists.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	return nil
}

// Truncate removes every row of a table.
func (s *Store) Truncate(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s", name)); err != nil {
		return fmt.Errorf("truncate %s: %w", name, err)
	}
	return nil
}

// CreateIndex builds a plain index over one column of a temp source
// relation.
func (s *Store) CreateIndex(ctx context.Context, table, column string) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_ix ON %s (%s)",
		table, column, table, column)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("index %s(%s): %w", table, column, err)
	}
	return nil
}

// DeleteProcessRows removes one run's rows from a result table.
func (s *Store) DeleteProcessRows(ctx context.Context, table string, processID int64) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE rapo_process_id = ?", table)
	if _, err := s.db.ExecContext(ctx, stmt, processID); err != nil {
		return fmt.Errorf("delete process rows %s: %w", table, err)
	}
	return nil
}
