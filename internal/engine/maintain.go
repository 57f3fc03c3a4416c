package engine

import (
	"context"
	"fmt"

	"github.com/t3eHawk/rapo/internal/store"
)

// Delete removes one run's rows from its control's result tables.
func (e *Engine) Delete(ctx context.Context, name string, processID int64) error {
	cfg, err := e.loadControl(ctx, name)
	if err != nil {
		return err
	}
	for _, table := range []string{cfg.OutputNameA(), cfg.OutputNameB()} {
		exists, err := e.store.TableExists(ctx, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := e.store.DeleteProcessRows(ctx, table, processID); err != nil {
			return err
		}
	}
	return nil
}

// Revoke marks a run revoked and removes its result rows.
func (e *Engine) Revoke(ctx context.Context, name string, processID int64) error {
	if err := e.Delete(ctx, name, processID); err != nil {
		return err
	}
	return e.store.SetStatus(ctx, processID, store.StatusRevoked)
}

// Clean removes result rows past the control's retention horizon.
// A zero retention truncates the result tables entirely.
func (e *Engine) Clean(ctx context.Context, name string) error {
	cfg, err := e.loadControl(ctx, name)
	if err != nil {
		return err
	}
	tables := []string{cfg.OutputNameA(), cfg.OutputNameB()}

	if cfg.DaysRetention == 0 {
		for _, table := range tables {
			exists, err := e.store.TableExists(ctx, table)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			e.log.Info("deleting all results", "control", cfg.Name, "table", table)
			if err := e.store.Truncate(ctx, table); err != nil {
				return err
			}
		}
		return nil
	}

	horizon := e.now().AddDate(0, 0, -cfg.DaysRetention)
	outdated, err := e.store.OutdatedRuns(ctx, cfg.ID, horizon)
	if err != nil {
		return err
	}
	if len(outdated) == 0 {
		e.log.Info("no control results to clean", "control", cfg.Name)
		return nil
	}
	for _, table := range tables {
		exists, err := e.store.TableExists(ctx, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		for _, processID := range outdated {
			e.log.Info("deleting outdated results",
				"control", cfg.Name, "table", table, "process_id", processID)
			if err := e.store.DeleteProcessRows(ctx, table, processID); err != nil {
				return fmt.Errorf("clean %s: %w", table, err)
			}
		}
	}
	return nil
}
