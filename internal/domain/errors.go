package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// ValidationError is returned when a request carries no usable items.
type ValidationError struct {
	Message string
	Dropped int
}

func (e *ValidationError) Error() string {
	if e.Dropped > 0 {
		return fmt.Sprintf("%s (%d invalid items dropped)", e.Message, e.Dropped)
	}
	return e.Message
}

// ErrRateLimited marks upstream throttling that survived the client's own retries.
var ErrRateLimited = errors.New("upstream rate limited")
