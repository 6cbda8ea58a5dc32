// Package errs carries the errors handlers return to the error middleware
// and the document the node answers with.
package errs

import (
	"errors"
	"net/http"
)

// Response is the document written for a failed request. The admin tooling
// decodes the same document.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is an error whose message is safe to show to the caller, sent
// with the given status.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps the error with the status the caller gets. Handlers use
// it for the failures they expect: bad input, unknown blocks, a halted or
// busy coordinator.
func NewTrusted(err error, status int) error {
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	return &Trusted{Err: err, Status: status}
}

// Error implements the error interface.
func (t *Trusted) Error() string {
	return t.Err.Error()
}

// Unwrap gives errors.Is access to the wrapped error.
func (t *Trusted) Unwrap() error {
	return t.Err
}

// Response returns the document sent to the caller.
func (t *Trusted) Response() Response {
	return Response{Error: t.Err.Error()}
}

// IsTrusted checks if the chain of the error holds a Trusted.
func IsTrusted(err error) bool {
	var t *Trusted
	return errors.As(err, &t)
}

// GetTrusted returns the Trusted of the chain or nil.
func GetTrusted(err error) *Trusted {
	var t *Trusted
	if !errors.As(err, &t) {
		return nil
	}
	return t
}
