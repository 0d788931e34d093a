// pkg/jns_err/types.go

package jns_err

import (
	cerr "github.com/cockroachdb/errors"
)

// UserError marks an error as expected and fixable by the caller (bad arguments).
type UserError struct {
	cause error
}

func (e *UserError) Error() string {
	return e.cause.Error()
}

func (e *UserError) Unwrap() error {
	return e.cause
}

// NewExpectedError wraps an error for softer UX handling.
func NewExpectedError(err error) error {
	if err == nil {
		return nil
	}
	return &UserError{cause: err}
}

// IsExpectedUserError checks if the error is marked as expected.
func IsExpectedUserError(err error) bool {
	var e *UserError
	return cerr.As(err, &e)
}
