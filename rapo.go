// Package rapo is a revenue assurance control engine: it executes
// periodic data-quality checks over a relational database to detect
// losses, duplicates and discrepancies between two data sources that
// should mirror each other.
//
// The package is a thin facade over the internal engine. A Service
// owns the shared store (control catalogue, run log) and runs
// reconciliation controls by catalogue name:
//
//	svc, err := rapo.New("rapo.yml", nil)
//	...
//	result, err := svc.Run(ctx, "cdr_vs_billing")
package rapo

import (
	"context"

	"github.com/t3eHawk/rapo/internal/engine"
	"github.com/t3eHawk/rapo/internal/setup"
	"github.com/t3eHawk/rapo/internal/store"
)

// Result summarizes one terminated control run.
type Result = engine.Result

// Hooks are the optional pre/post run callbacks.
type Hooks = engine.Hooks

// Service runs controls against one shared database.
type Service struct {
	settings *setup.Settings
	store    *store.Store
	engine   *engine.Engine
}

// New loads the settings file, opens the database and wires the
// engine.
func New(settingsPath string, hooks Hooks) (*Service, error) {
	settings, err := setup.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	return NewWithSettings(settings, hooks)
}

// NewWithSettings wires a service over already-parsed settings.
func NewWithSettings(settings *setup.Settings, hooks Hooks) (*Service, error) {
	path := settings.Database.Path
	if path == "" {
		path = "rapo.db"
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithDefaults(settings.Defaults()),
		engine.WithDebug(settings.Debug),
	}
	if hooks != nil {
		opts = append(opts, engine.WithHooks(hooks))
	}
	return &Service{
		settings: settings,
		store:    st,
		engine:   engine.New(st, opts...),
	}, nil
}

// Close releases the underlying database.
func (s *Service) Close() error {
	return s.store.Close()
}

// Run executes a control synchronously: the base window, then every
// active iteration.
func (s *Service) Run(ctx context.Context, name string) (*Result, error) {
	return s.engine.Run(ctx, name)
}

// Launch executes a control asynchronously, honoring its configured
// timeout. The returned handle waits for termination.
func (s *Service) Launch(ctx context.Context, name string) (*engine.Async, error) {
	return s.engine.Launch(ctx, name)
}

// Cancel requests cancellation of an active run.
func (s *Service) Cancel(ctx context.Context, processID int64) error {
	return s.engine.Cancel(ctx, processID)
}

// Revoke removes a run's results and marks it revoked.
func (s *Service) Revoke(ctx context.Context, name string, processID int64) error {
	return s.engine.Revoke(ctx, name, processID)
}

// Clean removes results past a control's retention horizon.
func (s *Service) Clean(ctx context.Context, name string) error {
	return s.engine.Clean(ctx, name)
}
