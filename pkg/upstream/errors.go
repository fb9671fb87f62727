package upstream

import (
	"errors"
	"fmt"

	"github.com/eranova-digital/datacore/pkg/entity"
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses from the upstream.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// NotFoundError indicates the upstream confirmed the entity (or the entity's
// statement for a given year) does not exist. Year is zero for profile lookups.
type NotFoundError struct {
	ID   entity.ID
	Year int
}

func (e *NotFoundError) Error() string {
	if e.Year > 0 {
		return fmt.Sprintf("entity %s: no statement for year %d", e.ID, e.Year)
	}
	return fmt.Sprintf("entity %s not found", e.ID)
}

// IsNotFound reports whether err is a confirmed-absence error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ResponseMismatchError indicates a batch response omitted an id that was part
// of the request. Unlike NotFoundError this does not confirm absence; it
// signals a response/queue mismatch.
type ResponseMismatchError struct {
	ID entity.ID
}

func (e *ResponseMismatchError) Error() string {
	return fmt.Sprintf("entity %s not present in upstream response", e.ID)
}

// UpstreamError represents a transport failure or non-success status from the
// registry service.
type UpstreamError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// classify categorizes a status code or transport error.
func classify(statusCode int, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	switch {
	case statusCode == 429:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
