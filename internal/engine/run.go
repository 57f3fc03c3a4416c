package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/t3eHawk/rapo/internal/control"
	"github.com/t3eHawk/rapo/internal/sqlgen"
	"github.com/t3eHawk/rapo/internal/store"
	"github.com/t3eHawk/rapo/internal/window"
)

// process is one run of one control over one window.
type process struct {
	engine    *Engine
	store     *store.Store
	cfg       *control.Config
	rules     *control.RuleConfig
	win       window.Window
	processID int64
	names     tempNames
	log       *slog.Logger

	sourceA *sourceMeta
	sourceB *sourceMeta

	result Result
}

// variables returns the substitution set for catalogue-supplied
// texts.
func (p *process) variables() control.Variables {
	return control.Variables{
		ControlName: p.cfg.Name,
		ProcessID:   p.processID,
		DateFrom:    p.win.From,
		DateTo:      p.win.To,
	}
}

// hint is the query-level parallelism hint for generated statements.
func (p *process) hint() string {
	return sqlgen.ParallelHint(p.cfg.Parallelism)
}

// execute drives the run from STARTED to a terminal state. Every
// database round-trip is a suspension point; cancellation is observed
// at stage boundaries.
func (p *process) execute(ctx context.Context) (*Result, error) {
	p.result = Result{ProcessID: p.processID}

	if err := p.store.SetStarted(ctx, p.processID); err != nil {
		return p.escape(ctx, newDBError(p.cfg.Name, p.processID, err))
	}
	p.log.Info("control started")

	if stop, err := p.prepare(ctx); err != nil || stop {
		return p.escape(ctx, err)
	}
	if stop, err := p.prerequisite(ctx); err != nil || stop {
		return p.escape(ctx, err)
	}
	if stop, err := p.prerunHook(ctx); err != nil || stop {
		return p.escape(ctx, err)
	}

	if err := p.store.SetProgress(ctx, p.processID); err != nil {
		return p.escape(ctx, newDBError(p.cfg.Name, p.processID, err))
	}

	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"fetch", p.fetch},
		{"correlate", p.correlate},
		{"organize", p.organize},
		{"resolve duplicates", p.resolveDuplicates},
		{"stabilize", p.stabilize},
		{"classify", p.classify},
		{"save", p.save},
	}
	for _, stage := range stages {
		if err := p.barrier(ctx); err != nil {
			return p.cancelled(ctx, err)
		}
		p.log.Debug("running stage", "stage", stage.name)
		if err := stage.run(ctx); err != nil {
			return p.escape(ctx, err)
		}
	}

	if p.cfg.CompletionSQL != "" {
		statement := p.variables().Apply(p.cfg.CompletionSQL)
		if err := p.store.Exec(ctx, statement); err != nil {
			return p.escape(ctx, newDBError(p.cfg.Name, p.processID, err))
		}
	}

	p.cleanup(ctx)
	if err := p.store.SetFinished(ctx, p.processID, store.StatusDone); err != nil {
		return p.escape(ctx, newDBError(p.cfg.Name, p.processID, err))
	}
	p.result.Status = store.StatusDone
	p.log.Info("control done",
		"fetched_a", p.result.FetchedA, "fetched_b", p.result.FetchedB,
		"error_a", p.result.ErrorA, "error_b", p.result.ErrorB)
	p.postrunHook(ctx)
	return &p.result, nil
}

// prepare runs the control preparation statement, if any. A failure
// records a text message and stops the run with a database error.
func (p *process) prepare(ctx context.Context) (stop bool, err error) {
	if p.cfg.PreparationSQL == "" {
		return false, nil
	}
	statement := p.variables().Apply(p.cfg.PreparationSQL)
	if err := p.store.Exec(ctx, statement); err != nil {
		message := "control execution stopped because the preparation failed"
		if saveErr := p.store.SaveTextMessage(ctx, p.processID, message); saveErr != nil {
			p.log.Error("save text message", "error", saveErr)
		}
		return true, newDBError(p.cfg.Name, p.processID, err)
	}
	return false, nil
}

// prerequisite evaluates the prerequisite statement. A zero or empty
// scalar stops the run.
func (p *process) prerequisite(ctx context.Context) (stop bool, err error) {
	if p.cfg.PrerequisiteSQL == "" {
		return false, nil
	}
	statement := p.variables().Apply(p.cfg.PrerequisiteSQL)
	value, err := p.store.Scalar(ctx, statement)
	if err != nil {
		return true, newDBError(p.cfg.Name, p.processID, err)
	}
	passed := scalarTruthy(value)
	if saveErr := p.store.SavePrerequisiteValue(ctx, p.processID, boolToInt(passed)); saveErr != nil {
		p.log.Error("save prerequisite value", "error", saveErr)
	}
	if passed {
		return false, nil
	}
	message := "control execution stopped because the prerequisite check not passed"
	if saveErr := p.store.SaveTextMessage(ctx, p.processID, message); saveErr != nil {
		p.log.Error("save text message", "error", saveErr)
	}
	return true, &RunError{
		Code:      ErrCodePrerequisiteFailed,
		Message:   message,
		Control:   p.cfg.Name,
		ProcessID: p.processID,
	}
}

// prerunHook fires the prerun callback when the control enables it.
func (p *process) prerunHook(ctx context.Context) (stop bool, err error) {
	if p.engine.hooks == nil || !p.cfg.NeedHook || !p.cfg.NeedPrerunHook {
		return false, nil
	}
	code, err := p.engine.hooks.Prerun(ctx, p.processID)
	if err != nil {
		return true, newDBError(p.cfg.Name, p.processID, err)
	}
	if code == "" || code == "OK" {
		return false, nil
	}
	message := fmt.Sprintf(
		"control execution stopped because the prerun hook evaluated as not OK [%s]", code)
	if saveErr := p.store.SaveTextMessage(ctx, p.processID, message); saveErr != nil {
		p.log.Error("save text message", "error", saveErr)
	}
	return true, &RunError{
		Code:      ErrCodePrerequisiteFailed,
		Message:   message,
		Control:   p.cfg.Name,
		ProcessID: p.processID,
	}
}

// postrunHook fires the postrun callback after any terminal state.
func (p *process) postrunHook(ctx context.Context) {
	if p.engine.hooks == nil || !p.cfg.NeedHook || !p.cfg.NeedPostrunHook {
		return
	}
	if err := p.engine.hooks.Postrun(ctx, p.processID); err != nil {
		p.log.Error("postrun hook failed", "error", err)
	}
}

// barrier is the stage boundary check: context expiry and external
// cancellation are observed here, never mid-statement.
func (p *process) barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &RunError{
				Code:      ErrCodeTimeout,
				Message:   "run exceeded its configured timeout",
				Control:   p.cfg.Name,
				ProcessID: p.processID,
				Err:       err,
			}
		}
		return &RunError{
			Code:      ErrCodeCancelled,
			Message:   "run context cancelled",
			Control:   p.cfg.Name,
			ProcessID: p.processID,
			Err:       err,
		}
	}
	status, err := p.store.RunStatus(context.WithoutCancel(ctx), p.processID)
	if err != nil {
		return newDBError(p.cfg.Name, p.processID, err)
	}
	if status == store.StatusCancelled {
		return &RunError{
			Code:      ErrCodeCancelled,
			Message:   "cancellation request received",
			Control:   p.cfg.Name,
			ProcessID: p.processID,
		}
	}
	return nil
}

// escape moves the run to its failure terminal state, records the
// error text, cleans temporaries and fires the postrun hook.
func (p *process) escape(ctx context.Context, err error) (*Result, error) {
	// Cleanup and bookkeeping must not die with the caller's context.
	ctx = context.WithoutCancel(ctx)

	var re *RunError
	if err != nil && !errors.As(err, &re) {
		err = newDBError(p.cfg.Name, p.processID, err)
		errors.As(err, &re)
	}

	if IsCancelled(err) {
		return p.cancelled(ctx, err)
	}
	if err != nil {
		if saveErr := p.store.SaveTextError(ctx, p.processID, err.Error()); saveErr != nil {
			p.log.Error("save text error", "error", saveErr)
		}
	}
	p.cleanup(ctx)
	if setErr := p.store.SetFinished(ctx, p.processID, store.StatusError); setErr != nil {
		p.log.Error("set status", "error", setErr)
	}
	p.result.Status = store.StatusError
	p.log.Error("control ended with error", "error", err)
	p.postrunHook(ctx)
	return &p.result, err
}

// cancelled ends a cancelled or timed out run: cleanup, removal of
// the run's partial result rows, terminal status C.
func (p *process) cancelled(ctx context.Context, err error) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	p.cleanup(ctx)
	p.deleteOutputRows(ctx)
	if setErr := p.store.SetFinished(ctx, p.processID, store.StatusCancelled); setErr != nil {
		p.log.Error("set status", "error", setErr)
	}
	p.result.Status = store.StatusCancelled
	p.log.Info("control cancelled")
	p.postrunHook(ctx)
	return &p.result, err
}

// cleanup irrevocably deletes the run's temporary relations unless
// debug mode retains them.
func (p *process) cleanup(ctx context.Context) {
	if p.engine.debug {
		p.log.Debug("debug mode keeps temporary relations")
		return
	}
	for _, name := range p.names.all() {
		if err := p.store.DropTable(ctx, name); err != nil {
			p.log.Error("drop temporary relation", "table", name, "error", err)
		}
	}
}

// deleteOutputRows removes the run's rows from the result tables.
func (p *process) deleteOutputRows(ctx context.Context) {
	for _, table := range []string{p.cfg.OutputNameA(), p.cfg.OutputNameB()} {
		exists, err := p.store.TableExists(ctx, table)
		if err != nil || !exists {
			continue
		}
		if err := p.store.DeleteProcessRows(ctx, table, p.processID); err != nil {
			p.log.Error("delete output rows", "table", table, "error", err)
		}
	}
}

// scalarTruthy interprets a prerequisite scalar: nil, zero and empty
// values fail the check.
func scalarTruthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != "" && v != "0"
	case []byte:
		return len(v) > 0 && string(v) != "0"
	case bool:
		return v
	}
	return true
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
