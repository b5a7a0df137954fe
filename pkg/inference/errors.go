package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEngineType is returned when a configured engine type has no factory.
	ErrUnknownEngineType = errors.New("unknown inference engine type")
	// ErrResponseCount is returned when an engine answers a different number
	// of requests than it was given.
	ErrResponseCount = errors.New("inference response count mismatch")
)

// HTTPError is a non-2xx answer from an inference server.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("inference request to %s failed with HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the server may succeed on a later attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// RequestError ties a failure to the index of the request that produced it.
type RequestError struct {
	Index int
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d: %v", e.Index, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
