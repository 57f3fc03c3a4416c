package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/t3eHawk/rapo/internal/control"
	"github.com/t3eHawk/rapo/internal/store"
	"github.com/t3eHawk/rapo/internal/window"
)

// Engine runs reconciliation controls against the shared store.
type Engine struct {
	store    *store.Store
	defaults control.AlgorithmDefaults
	hooks    Hooks
	log      *slog.Logger
	now      func() time.Time
	debug    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaults sets the global algorithm defaults folded into every
// control's rule configuration.
func WithDefaults(d control.AlgorithmDefaults) Option {
	return func(e *Engine) { e.defaults = d }
}

// WithHooks installs the pre/post run callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock replaces the wall clock, pinning window resolution for
// tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDebug retains every temporary relation after runs terminate.
func WithDebug(debug bool) Option {
	return func(e *Engine) { e.debug = debug }
}

// New creates an Engine over the given store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarizes one terminated run.
type Result struct {
	ProcessID int64
	Status    string
	FetchedA  int64
	FetchedB  int64
	SuccessA  int64
	SuccessB  int64
	ErrorA    int64
	ErrorB    int64
}

// Run executes a control synchronously: the base window first, then
// every active iteration as a distinct run. Iteration failures are
// recorded in the run log but do not abort the remaining iterations.
// The control's timeout is not honored on this path.
func (e *Engine) Run(ctx context.Context, name string) (*Result, error) {
	cfg, err := e.loadControl(ctx, name)
	if err != nil {
		return nil, err
	}
	result, err := e.runProcess(ctx, cfg, cfg.WindowParams())
	for _, it := range cfg.Iterations {
		if !it.Active {
			continue
		}
		e.log.Info("iterating control",
			"control", cfg.Name, "iteration_id", it.ID)
		if _, itErr := e.runProcess(ctx, cfg, it.WindowParams()); itErr != nil {
			e.log.Error("iteration failed",
				"control", cfg.Name, "iteration_id", it.ID, "error", itErr)
		}
	}
	return result, err
}

// Async is a handle over a launched run.
type Async struct {
	done   chan struct{}
	result *Result
	err    error
}

// Wait blocks until the launched run terminates.
func (a *Async) Wait() (*Result, error) {
	<-a.done
	return a.result, a.err
}

// Launch executes a control asynchronously. The control's timeout, if
// configured, bounds the run; expiry cancels it with status C.
// Iterations are not launched on this path.
func (e *Engine) Launch(ctx context.Context, name string) (*Async, error) {
	cfg, err := e.loadControl(ctx, name)
	if err != nil {
		return nil, err
	}
	a := &Async{done: make(chan struct{})}
	go func() {
		defer close(a.done)
		runCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx,
				time.Duration(cfg.Timeout)*time.Second)
			defer cancel()
		}
		a.result, a.err = e.runProcess(runCtx, cfg, cfg.WindowParams())
	}()
	return a, nil
}

// Cancel requests cancellation of an active run. The running process
// observes the request at its next stage boundary.
func (e *Engine) Cancel(ctx context.Context, processID int64) error {
	status, err := e.store.RunStatus(ctx, processID)
	if err != nil {
		return err
	}
	switch status {
	case store.StatusDone, store.StatusError,
		store.StatusCancelled, store.StatusRevoked:
		return fmt.Errorf("run %d already terminated with status %s",
			processID, status)
	}
	return e.store.SetStatus(ctx, processID, store.StatusCancelled)
}

// loadControl reads and validates a control configuration.
func (e *Engine) loadControl(ctx context.Context, name string) (*control.Config, error) {
	cfg, err := e.store.GetControl(ctx, name, e.defaults)
	if err != nil {
		return nil, newConfigError(name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, newConfigError(name, err)
	}
	return cfg, nil
}

// runProcess executes one run of a control over one window
// parameterization.
func (e *Engine) runProcess(ctx context.Context, cfg *control.Config, params window.Params) (*Result, error) {
	win, err := window.Resolve(e.now(), params)
	if err != nil {
		return nil, newConfigError(cfg.Name, err)
	}

	token := uuid.Must(uuid.NewV7()).String()
	processID, err := e.store.AddRun(ctx, cfg.ID, token,
		cfg.InstanceLimit, win.From, win.To)
	if errors.Is(err, store.ErrInstanceLimit) {
		return nil, &RunError{
			Code:    ErrCodeInstanceLimit,
			Message: fmt.Sprintf("control already runs %d instance(s)", cfg.InstanceLimit),
			Control: cfg.Name,
			Err:     err,
		}
	}
	if err != nil {
		return nil, newDBError(cfg.Name, 0, err)
	}

	p := &process{
		engine:    e,
		store:     e.store,
		cfg:       cfg,
		rules:     &cfg.Rules,
		win:       win,
		processID: processID,
		names:     temporaries(processID),
		log: e.log.With(
			slog.String("control", cfg.Name),
			slog.Int64("process_id", processID)),
	}
	p.log.Info("control owns process", "run_token", token, "window", win.String())

	// The checkpoint serializes the start section across processes
	// of the same control.
	cp, err := e.store.AcquireCheckpoint(ctx, cfg.ID, processID)
	if err != nil {
		return p.escape(ctx, newDBError(cfg.Name, processID, err))
	}
	err = e.store.SetStatus(ctx, processID, store.StatusWaiting)
	if relErr := cp.Release(ctx); relErr != nil && err == nil {
		err = relErr
	}
	if err != nil {
		return p.escape(ctx, newDBError(cfg.Name, processID, err))
	}

	return p.execute(ctx)
}
