// Package poe implements the client side of the Poe bot protocol: streaming
// queries over server-sent events and attachment uploads.
package poe

import "encoding/json"

// ProtocolVersion is the query protocol version sent with every request.
const ProtocolVersion = "1.2"

// Protocol roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleBot    = "bot"
)

// Attachment references a file that has already been uploaded to Poe.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Name        string `json:"name"`
}

// ProtocolMessage is one turn of the conversation sent to a bot.
type ProtocolMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	ContentType string       `json:"content_type"`
	Attachments []Attachment `json:"attachments"`
}

// ToolDefinition is an OpenAI-shaped function tool forwarded to bots that
// support protocol-level function calling.
type ToolDefinition struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function"`
}

// QueryRequest is the body of a bot query.
type QueryRequest struct {
	// Bot is the bot name used in the request path. It is not serialized.
	Bot string `json:"-"`

	Version        string            `json:"version"`
	Type           string            `json:"type"`
	Query          []ProtocolMessage `json:"query"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Temperature    *float64          `json:"temperature,omitempty"`
	StopSequences  []string          `json:"stop_sequences"`
	Tools          []ToolDefinition  `json:"tools,omitempty"`
}
