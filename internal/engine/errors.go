package engine

import (
	"errors"
	"fmt"
)

// RunErrorCode categorizes run failures.
type RunErrorCode string

const (
	// ErrCodeConfigInvalid indicates a malformed control
	// configuration: unknown period or normalization type, empty
	// correlation config, missing sources.
	ErrCodeConfigInvalid RunErrorCode = "CONFIG_INVALID"

	// ErrCodePrerequisiteFailed indicates the prerequisite statement
	// returned zero or the prerun hook evaluated not OK.
	ErrCodePrerequisiteFailed RunErrorCode = "PREREQUISITE_FAILED"

	// ErrCodeCorrelationLimit indicates the correlator reached the
	// configured candidate-pair cap.
	ErrCodeCorrelationLimit RunErrorCode = "CORRELATION_LIMIT_EXCEEDED"

	// ErrCodeInstanceLimit indicates the control already runs at its
	// configured concurrency; the run refused to start.
	ErrCodeInstanceLimit RunErrorCode = "INSTANCE_LIMIT_REACHED"

	// ErrCodeDB wraps an underlying database failure.
	ErrCodeDB RunErrorCode = "DB_ERROR"

	// ErrCodeTimeout indicates an asynchronous launch exceeded its
	// configured timeout.
	ErrCodeTimeout RunErrorCode = "TIMEOUT"

	// ErrCodeCancelled indicates the run was cancelled externally.
	ErrCodeCancelled RunErrorCode = "CANCELLED"
)

// RunError is a failure that terminates the current run.
type RunError struct {
	Code      RunErrorCode
	Message   string
	Control   string
	ProcessID int64
	Err       error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	switch {
	case e.ProcessID != 0:
		return fmt.Sprintf("%s: %s (control=%s, process=%d)",
			e.Code, e.Message, e.Control, e.ProcessID)
	case e.Control != "":
		return fmt.Sprintf("%s: %s (control=%s)", e.Code, e.Message, e.Control)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the run error code, or "" for foreign errors.
func CodeOf(err error) RunErrorCode {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsConfigInvalid reports a configuration failure.
func IsConfigInvalid(err error) bool { return CodeOf(err) == ErrCodeConfigInvalid }

// IsInstanceLimit reports a refused start.
func IsInstanceLimit(err error) bool { return CodeOf(err) == ErrCodeInstanceLimit }

// IsCorrelationLimit reports a candidate-pair cap hit.
func IsCorrelationLimit(err error) bool { return CodeOf(err) == ErrCodeCorrelationLimit }

// IsCancelled reports an external cancellation or timeout.
func IsCancelled(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeCancelled || code == ErrCodeTimeout
}

func newConfigError(control string, err error) *RunError {
	return &RunError{
		Code:    ErrCodeConfigInvalid,
		Message: err.Error(),
		Control: control,
		Err:     err,
	}
}

func newDBError(control string, processID int64, err error) *RunError {
	return &RunError{
		Code:      ErrCodeDB,
		Message:   err.Error(),
		Control:   control,
		ProcessID: processID,
		Err:       err,
	}
}
