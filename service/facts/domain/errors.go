package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBadHandle rejects missing or malformed handles.
	ErrBadHandle = errors.New("facts: missing or invalid handle")

	// ErrNotFound reports that the upstream knows no such profile or has
	// no qualifying content for it.
	ErrNotFound = errors.New("facts: not found upstream")

	// ErrNoScore reports that no usable integer could be recovered from
	// the model output.
	ErrNoScore = errors.New("facts: no usable score in model output")
)

// OverloadError is returned by upstream calls rejected for quota reasons.
// RetryAfter carries the upstream-advertised reset when known, zero
// otherwise.
type OverloadError struct {
	Op         UpstreamOp
	RetryAfter time.Duration
}

func (e *OverloadError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("facts: upstream %s overloaded, reset in %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("facts: upstream %s overloaded", e.Op)
}
