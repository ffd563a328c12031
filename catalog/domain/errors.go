package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest means a request could not be built, usually a bad URL.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidResponse means the server answered with something that is not
	// an HTTP response we can inspect.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrNotFound means the local store holds nothing for the lookup.
	ErrNotFound = errors.New("not found")
)

// HTTPStatusError is returned for any non-2xx response.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http error with status code: %d", e.Code)
}

// DecodeError wraps a failure to decode a response body.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError wraps a failure to complete an exchange with a server,
// including downloads whose payload failed validation.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
