package engine

import "context"

// Hooks are the optional callbacks fired around a run. They are
// external collaborators: the engine only defines the contract.
type Hooks interface {
	// Prerun fires after the prerequisite check. A non-empty code
	// other than "OK" aborts the run with the code recorded in the
	// run's text_message.
	Prerun(ctx context.Context, processID int64) (code string, err error)

	// Postrun fires after the run reached a terminal state.
	Postrun(ctx context.Context, processID int64) error
}
