package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, a human-facing message, and an underlying
// error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// OpOf returns the operation name of the outermost AppError in err's
// chain, or "" when there is none.
func OpOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Op
	}
	return ""
}
