// Package interfaces defines the core interfaces and shared structures for the proxy.
// These types provide a common contract between the upstream client, the stream
// translator and the HTTP handlers.
package interfaces

import (
	"errors"
	"net/http"
)

// ErrorKind classifies failures so every surface renders them the same way.
type ErrorKind string

const (
	// KindAdapter marks malformed or empty conversations and upload failures.
	KindAdapter ErrorKind = "adapter_error"
	// KindBackend marks upstream call failures (auth, unknown model, quota, transport).
	KindBackend ErrorKind = "backend_error"
	// KindParse marks malformed tool-call arguments. Always recovered locally.
	KindParse ErrorKind = "parse_error"
	// KindStreamAbort marks a client disconnect. Never reported.
	KindStreamAbort ErrorKind = "stream_abort"
)

// ErrorMessage encapsulates an error with an associated HTTP status code.
// This structure is used to provide detailed error information including
// both the HTTP status and the underlying error.
type ErrorMessage struct {
	// StatusCode is the HTTP status code to return to the client.
	StatusCode int

	// Error is the underlying error that occurred.
	Error error

	// Kind classifies the failure.
	Kind ErrorKind

	// Type overrides the OpenAI error type derived from StatusCode when non-empty.
	Type string
}

// NewErrorMessage builds an ErrorMessage from err, recovering a status code from
// errors implementing StatusCode() int.
func NewErrorMessage(kind ErrorKind, status int, err error) *ErrorMessage {
	var se interface{ StatusCode() int }
	if errors.As(err, &se) && se.StatusCode() > 0 {
		status = se.StatusCode()
	}
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	return &ErrorMessage{StatusCode: status, Error: err, Kind: kind}
}

// ErrorTypeForStatus maps an HTTP status to the OpenAI error type string.
func ErrorTypeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "invalid_request_error"
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusPaymentRequired:
		return "insufficient_fund"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}
