package fetch

import (
	"errors"
	"fmt"
)

// ErrBadStatus is returned for non-retryable HTTP statuses (4xx other
// than 429).
var ErrBadStatus = errors.New("unexpected response status")

// FetchExhaustedError is returned once every retry attempt has failed.
// Cause holds the last underlying failure.
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf(
		"fetch exhausted after %d attempts: %s: %v",
		e.Attempts, e.URL, e.Cause,
	)
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.Cause
}
