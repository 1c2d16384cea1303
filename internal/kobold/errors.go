package kobold

import (
	"errors"
	"fmt"
	"net/http"
)

// RequestError is the only error returned by Generate and Status. Status is
// the HTTP status the gateway should report: 400 for validation failures and
// backend rejections, 500 for exhausted retries and unclassified failures.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
	return "generation failed"
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(message string) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: message}
}

func serverError(err error) *RequestError {
	return &RequestError{Status: http.StatusInternalServerError, Err: err}
}

// FailureKind separates transport failures worth retrying from the rest.
type FailureKind int

const (
	// Fatal failures abort the retry loop immediately.
	Fatal FailureKind = iota
	// Transient failures are retried after the configured delay.
	Transient
)

func (k FailureKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// Failure is a classified transport error.
type Failure struct {
	Kind FailureKind
	Code int
	Err  error
}

func (f *Failure) Error() string {
	if f.Code != 0 {
		return fmt.Sprintf("%s failure (status %d): %v", f.Kind, f.Code, f.Err)
	}
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// StatusCoder is implemented by transport errors that carry an upstream HTTP
// status, such as a proxy refusing the connection.
type StatusCoder interface {
	StatusCode() int
}

// TransportError is a transport-level failure tagged with an HTTP status.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error %d: %v", e.Status, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode implements StatusCoder.
func (e *TransportError) StatusCode() int {
	return e.Status
}

// Classify maps a transport error to a Failure. Only errors tagged with 403
// or 503 are transient.
func Classify(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		switch code {
		case http.StatusForbidden, http.StatusServiceUnavailable:
			return &Failure{Kind: Transient, Code: code, Err: err}
		}
		return &Failure{Kind: Fatal, Code: code, Err: err}
	}
	return &Failure{Kind: Fatal, Err: err}
}
