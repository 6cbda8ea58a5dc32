package storage

import (
	"errors"
	"fmt"
)

// IOError is returned for every failure of the underlying files. A chain
// transition that fails with an IOError must not be retried silently.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func ioErr(op string, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %s: %s", e.Op, e.Path, e.Err)
}

// Unwrap provides access to the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError checks if an error of type IOError exists.
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}
