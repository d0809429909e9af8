package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout         = errors.New("execution timed out")
	ErrMemoryExceeded  = errors.New("memory limit exceeded")
	ErrExecutionFailed = errors.New("execution failed")
	ErrInvalidRequest  = errors.New("invalid execution request")
	ErrEngineClosed    = errors.New("engine is shut down")
	ErrCapacity        = errors.New("execution capacity exhausted")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsMemoryExceeded returns true if the error is a memory ceiling breach.
func IsMemoryExceeded(err error) bool {
	return errors.Is(err, ErrMemoryExceeded)
}
