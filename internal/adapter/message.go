// Package adapter converts OpenAI-style conversations into Poe protocol messages.
package adapter

import (
	"net/http"
)

// PartKind identifies the variant of a ContentPart.
type PartKind int

const (
	// PartText is plain text.
	PartText PartKind = iota
	// PartImage references an image by http(s), data: or file:// URL.
	PartImage
)

// ContentPart is one element of a message body.
type ContentPart struct {
	Kind PartKind
	Text string
	URL  string
}

// TextPart returns a PartText.
func TextPart(text string) ContentPart { return ContentPart{Kind: PartText, Text: text} }

// ImagePart returns a PartImage.
func ImagePart(url string) ContentPart { return ContentPart{Kind: PartImage, URL: url} }

// ToolCallRef is a function call previously made by the assistant.
type ToolCallRef struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one inbound conversation turn.
type Message struct {
	Role       string
	Parts      []ContentPart
	ToolCalls  []ToolCallRef
	ToolCallID string
	Name       string
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{TextPart(text)}}
}

// Text joins the text parts of m with newlines, ignoring images.
func (m Message) Text() string {
	var out []byte
	for _, p := range m.Parts {
		if p.Kind != PartText {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, p.Text...)
	}
	return string(out)
}

// Error is a conversation that cannot be sent to the backend.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// StatusCode reports adapter failures as client errors.
func (e *Error) StatusCode() int { return http.StatusBadRequest }

// ErrEmptyConversation is returned for a conversation with no messages.
var ErrEmptyConversation = &Error{Message: "At least one message is required."}
