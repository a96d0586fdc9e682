package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Class is the outcome category of a failed summarization attempt.
type Class int

const (
	// ClassTerminal failures end the current unit of work without retrying.
	ClassTerminal Class = iota
	// ClassRetryable failures (5xx, timeouts, connection errors) are retried
	// with backoff.
	ClassRetryable
	// ClassFatal failures (authentication, authorization, rate limiting) trip
	// the circuit breaker.
	ClassFatal
	// ClassTruncated marks a reply cut short by the output token budget.
	ClassTruncated
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	case ClassTruncated:
		return "truncated"
	default:
		return "terminal"
	}
}

var (
	// ErrCircuitOpen is returned for every call made after the breaker trips.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrTruncated reports a reply that hit the output token limit.
	ErrTruncated = errors.New("response truncated")
)

// APIError is a classified transport failure.
type APIError struct {
	Class  Class
	Status int
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (HTTP %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// ClassOf reports the class of err. Unclassified errors are terminal.
func ClassOf(err error) Class {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassTerminal
}

// IsFatal reports whether err should trip the circuit breaker.
func IsFatal(err error) bool {
	return ClassOf(err) == ClassFatal
}

// classifyStatus maps an HTTP status code to a failure class.
func classifyStatus(code int) Class {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return ClassFatal
	case code == http.StatusRequestTimeout, code >= 500:
		return ClassRetryable
	case code == 0:
		return ClassRetryable
	default:
		return ClassTerminal
	}
}

// classify wraps an error returned by a provider SDK in an APIError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	status := 0
	var (
		oaiAPI    *openai.APIError
		oaiReq    *openai.RequestError
		gemAPI    genai.APIError
		gemAPIPtr *genai.APIError
		netErr    net.Error
	)
	switch {
	case errors.As(err, &oaiAPI):
		status = oaiAPI.HTTPStatusCode
	case errors.As(err, &oaiReq):
		status = oaiReq.HTTPStatusCode
	case errors.As(err, &gemAPI):
		status = gemAPI.Code
	case errors.As(err, &gemAPIPtr):
		status = gemAPIPtr.Code
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return &APIError{Class: ClassRetryable, Err: err}
	default:
		return &APIError{Class: ClassTerminal, Err: err}
	}
	return &APIError{Class: classifyStatus(status), Status: status, Err: err}
}
