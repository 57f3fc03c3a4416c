package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses as recorded in rapo_log.
const (
	StatusAdded     = "A"
	StatusWaiting   = "Q"
	StatusStarted   = "S"
	StatusProgress  = "P"
	StatusDone      = "D"
	StatusError     = "E"
	StatusCancelled = "C"
	StatusRevoked   = "X"
)

// ErrInstanceLimit reports that a control already runs at its
// configured concurrency.
var ErrInstanceLimit = errors.New("instance limit reached")

// activeStatuses are the non-terminal run states counted against
// instance_limit.
const activeStatuses = "('A', 'Q', 'S', 'P')"

// AddRun registers a new run for a control and returns its process
// id. The whole check-and-insert happens in one transaction so two
// concurrent starters cannot both pass the instance limit.
func (s *Store) AddRun(ctx context.Context, controlID int64, runToken string, instanceLimit int, dateFrom, dateTo time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add run: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM rapo_log
		WHERE control_id = ? AND status IN `+activeStatuses,
		controlID).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("add run: %w", err)
	}
	if instanceLimit > 0 && active >= instanceLimit {
		return 0, ErrInstanceLimit
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rapo_log
		(control_id, run_token, added, status, date_from, date_to)
		VALUES (?, ?, ?, ?, ?, ?)
	`, controlID, runToken, s.timestamp(s.now()), StatusAdded,
		s.timestamp(dateFrom), s.timestamp(dateTo))
	if err != nil {
		return 0, fmt.Errorf("add run: %w", err)
	}
	processID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add run: %w", err)
	}
	return processID, nil
}

// updateRun applies one set of column updates to a run record,
// stamping updated. Every caller is one small transaction.
func (s *Store) updateRun(ctx context.Context, processID int64, set string, args ...any) error {
	args = append(args, s.timestamp(s.now()), processID)
	query := fmt.Sprintf(
		"UPDATE rapo_log SET %s, updated = ? WHERE process_id = ?", set)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update run %d: %w", processID, err)
	}
	return nil
}

// SetStatus moves a run into the given state.
func (s *Store) SetStatus(ctx context.Context, processID int64, status string) error {
	return s.updateRun(ctx, processID, "status = ?", status)
}

// SetStarted marks a queued run started and stamps start_date. The
// transition only fires from the added/waiting states, so a
// cancellation that already landed is never clobbered.
func (s *Store) SetStarted(ctx context.Context, processID int64) error {
	now := s.timestamp(s.now())
	_, err := s.db.ExecContext(ctx, `
		UPDATE rapo_log SET status = ?, start_date = ?, updated = ?
		WHERE process_id = ? AND status IN ('A', 'Q')
	`, StatusStarted, now, now, processID)
	if err != nil {
		return fmt.Errorf("update run %d: %w", processID, err)
	}
	return nil
}

// SetProgress moves a started run into P. A no-op when cancellation
// already landed; the engine observes that at its next barrier.
func (s *Store) SetProgress(ctx context.Context, processID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rapo_log SET status = ?, updated = ?
		WHERE process_id = ? AND status = ?
	`, StatusProgress, s.timestamp(s.now()), processID, StatusStarted)
	if err != nil {
		return fmt.Errorf("update run %d: %w", processID, err)
	}
	return nil
}

// SetFinished moves a run into a terminal state and stamps end_date.
func (s *Store) SetFinished(ctx context.Context, processID int64, status string) error {
	return s.updateRun(ctx, processID,
		"status = ?, end_date = ?", status, s.timestamp(s.now()))
}

// RunStatus reads the current status of a run. Cancellation is
// observed through this between pipeline stages.
func (s *Store) RunStatus(ctx context.Context, processID int64) (string, error) {
	var status sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM rapo_log WHERE process_id = ?", processID).
		Scan(&status)
	if err != nil {
		return "", fmt.Errorf("run status %d: %w", processID, err)
	}
	return status.String, nil
}

// Counters are the per-run record counts saved to the log.
type Counters struct {
	FetchedA sql.NullInt64
	FetchedB sql.NullInt64
	SuccessA sql.NullInt64
	SuccessB sql.NullInt64
	ErrorA   sql.NullInt64
	ErrorB   sql.NullInt64
}

// SaveFetched records the fetched counts.
func (s *Store) SaveFetched(ctx context.Context, processID, fetchedA, fetchedB int64) error {
	return s.updateRun(ctx, processID,
		"fetched_number_a = ?, fetched_number_b = ?", fetchedA, fetchedB)
}

// SaveResultCounts records the success and error counts.
func (s *Store) SaveResultCounts(ctx context.Context, processID int64, c Counters) error {
	return s.updateRun(ctx, processID,
		`success_number_a = ?, success_number_b = ?,
		 error_number_a = ?, error_number_b = ?`,
		c.SuccessA, c.SuccessB, c.ErrorA, c.ErrorB)
}

// SavePrerequisiteValue records the scalar a prerequisite statement
// returned.
func (s *Store) SavePrerequisiteValue(ctx context.Context, processID int64, value int64) error {
	return s.updateRun(ctx, processID, "prerequisite_value = ?", value)
}

// SaveTextMessage records an operator-facing message for the run.
func (s *Store) SaveTextMessage(ctx context.Context, processID int64, message string) error {
	return s.updateRun(ctx, processID, "text_message = ?", message)
}

// SaveTextError records the error text of a failed run.
func (s *Store) SaveTextError(ctx context.Context, processID int64, text string) error {
	return s.updateRun(ctx, processID, "text_error = ?", text)
}

// RunRecord is a run log row read back for inspection.
type RunRecord struct {
	ProcessID int64
	ControlID int64
	RunToken  string
	Status    string
	DateFrom  string
	DateTo    string
	Counters  Counters
	Message   sql.NullString
	Error     sql.NullString
	Prereq    sql.NullInt64
}

// GetRun reads one run log record.
func (s *Store) GetRun(ctx context.Context, processID int64) (*RunRecord, error) {
	var r RunRecord
	var status sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT process_id, control_id, run_token, status,
		       coalesce(date_from, ''), coalesce(date_to, ''),
		       fetched_number_a, fetched_number_b,
		       success_number_a, success_number_b,
		       error_number_a, error_number_b,
		       text_message, text_error, prerequisite_value
		FROM rapo_log WHERE process_id = ?
	`, processID).Scan(
		&r.ProcessID, &r.ControlID, &r.RunToken, &status,
		&r.DateFrom, &r.DateTo,
		&r.Counters.FetchedA, &r.Counters.FetchedB,
		&r.Counters.SuccessA, &r.Counters.SuccessB,
		&r.Counters.ErrorA, &r.Counters.ErrorB,
		&r.Message, &r.Error, &r.Prereq,
	)
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", processID, err)
	}
	r.Status = status.String
	return &r, nil
}

// OutdatedRuns lists process ids of a control whose runs were added
// before the retention horizon.
func (s *Store) OutdatedRuns(ctx context.Context, controlID int64, horizon time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id FROM rapo_log
		WHERE control_id = ? AND added < ?
		ORDER BY process_id
	`, controlID, s.timestamp(horizon))
	if err != nil {
		return nil, fmt.Errorf("outdated runs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("outdated runs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
