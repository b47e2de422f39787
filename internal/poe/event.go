package poe

import (
	"fmt"
	"net/http"
)

// EventKind identifies the variant carried by an Event.
type EventKind int

const (
	// EventText appends Text to the response.
	EventText EventKind = iota
	// EventReplace carries a replace_response payload; its Text is appended like EventText.
	EventReplace
	// EventAttachment carries a file produced by the bot.
	EventAttachment
	// EventToolCalls carries a JSON payload with protocol-level tool calls in Data.
	EventToolCalls
	// EventMeta carries metadata that is not part of the answer.
	EventMeta
	// EventError is terminal; Err describes the failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventReplace:
		return "replace_response"
	case EventAttachment:
		return "file"
	case EventToolCalls:
		return "tool_calls"
	case EventMeta:
		return "meta"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one partial response. The stream channel is closed after the bot
// signals completion, so there is no done variant.
type Event struct {
	Kind       EventKind
	Text       string
	Attachment Attachment
	Data       []byte
	Err        *StatusError
}

// TextEvent returns an EventText carrying text.
func TextEvent(text string) Event { return Event{Kind: EventText, Text: text} }

// ErrorEvent returns an EventError carrying err.
func ErrorEvent(err *StatusError) Event { return Event{Kind: EventError, Err: err} }

// StatusError is a backend failure with the HTTP status it maps to.
type StatusError struct {
	Code       int
	Message    string
	ErrorType  string
	AllowRetry bool
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StatusCode implements the status carrier used by the HTTP layer.
func (e *StatusError) StatusCode() int {
	if e == nil || e.Code == 0 {
		return http.StatusBadGateway
	}
	return e.Code
}

// mapUpstreamStatus converts a Poe HTTP status into the status reported to clients.
func mapUpstreamStatus(status int) int {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return http.StatusUnauthorized
	case http.StatusPaymentRequired, http.StatusNotFound, http.StatusTooManyRequests, http.StatusBadRequest:
		return status
	}
	return http.StatusBadGateway
}

// statusForErrorType maps the error_type of an in-stream error event.
func statusForErrorType(errorType string) int {
	switch errorType {
	case "insufficient_fund":
		return http.StatusPaymentRequired
	case "rate_limit_exceeded":
		return http.StatusTooManyRequests
	case "user_message_too_long", "invalid_request":
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
