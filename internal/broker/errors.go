package broker

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies collaborator fetch failures.
type FetchErrorKind string

const (
	// FetchTransient marks failures worth retrying with backoff (timeouts,
	// connection resets, rate limits, 5xx responses).
	FetchTransient FetchErrorKind = "transient"
	// FetchAuth marks authentication or authorization failures. Never retried.
	FetchAuth FetchErrorKind = "auth"
	// FetchNotFound marks requests for data the broker does not have. Never retried.
	FetchNotFound FetchErrorKind = "not_found"
)

// FetchError wraps a failure from a broker data call with its retry class.
type FetchError struct {
	Kind FetchErrorKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s fetch error: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a classified fetch error for the given operation.
func NewFetchError(kind FetchErrorKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// IsTransient reports whether err is a fetch error that may be retried.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTransient
}

// OrderError wraps a failure from order placement. Order errors are never
// retried automatically: a duplicate multi-leg order is worse than a missed one.
type OrderError struct {
	Tag string
	Err error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order placement failed for strategy %s: %v", e.Tag, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// APIError represents a broker HTTP error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}
