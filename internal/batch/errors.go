package batch

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the parent of every error caused by a caller passing an
// unusable batch. These are the only errors Run returns on its own account.
var ErrConfiguration = errors.New("batch configuration error")

var (
	ErrInvalidLimit = fmt.Errorf("%w: concurrency limit must be at least 1", ErrConfiguration)
	ErrEmptyBatch   = fmt.Errorf("%w: no jobs to run", ErrConfiguration)
)

var (
	// ErrRetryExhausted is returned by Retry only if its attempt loop falls
	// through without a result, which cannot happen for any policy.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrNotStarted marks a Result whose job was never admitted because the
	// batch context was cancelled first.
	ErrNotStarted = errors.New("job not started")
)

// PanicError is the error recorded for a job that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}
