package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of GitHub API errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (validation, auth, not found).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents primary or secondary rate limit rejections.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures without an HTTP status.
	ErrorClassNetwork ErrorClass = "network"
)

// ErrNoSearchResource is returned when /rate_limit carries no search bucket.
var ErrNoSearchResource = errors.New("rate limit response has no search resource")

// APIError is a GitHub API error response with its HTTP status.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("github %s error (status %d): %s (URL: %s)",
			e.ErrorClass, e.StatusCode, e.Message, e.URL)
	}
	return fmt.Sprintf("github %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not
// an *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsForbidden checks if the error is an HTTP 403.
func IsForbidden(err error) bool {
	return StatusCode(err) == http.StatusForbidden
}

// classifyStatus maps an HTTP status to an ErrorClass.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
