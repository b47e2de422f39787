// Package translator turns Poe partial-response events into OpenAI chat
// completion chunks and responses.
package translator

import (
	"github.com/poeproxy/poe-openai-proxy/internal/interfaces"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/tooling"
	"github.com/tidwall/sjson"
)

const (
	chunkTemplate    = `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	responseTemplate = `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":null},"logprobs":null,"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
	errorTemplate    = `{"error":{"message":"","type":"","code":null}}`

	// ThinkingMarker is the literal progress text Poe reasoning bots emit.
	ThinkingMarker = "Thinking..."
	// ThinkingStarted is the single chunk shown while a bot is reasoning.
	ThinkingStarted = "*Thinking...*"

	thinkingSeparator = "\n\n"
)

// Options identifies the response the chunks belong to.
type Options struct {
	ID      string
	Model   string
	Created int64
	// Tools is set when the request defined tools.
	Tools bool
	// Native selects protocol-level tool calls over the inline XML path.
	Native bool
	// Reasoning marks models whose output is cleaned and estimated.
	Reasoning bool
}

// Chunk is one server-sent event payload. Done marks the terminal sentinel.
// Err is set on the in-band error chunk.
type Chunk struct {
	Payload []byte
	Done    bool
	Err     *poe.StatusError
}

func (o Options) chunk() ([]byte, error) {
	out, err := sjson.SetBytes([]byte(chunkTemplate), "id", o.ID)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "created", o.Created); err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "model", o.Model)
}

func (o Options) contentChunk(text string) ([]byte, error) {
	out, err := o.chunk()
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "choices.0.delta.content", text)
}

func (o Options) toolCallChunk(call tooling.ToolCall) ([]byte, error) {
	out, err := o.chunk()
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(out, "choices.0.delta.tool_calls", toolCallsJSON([]tooling.ToolCall{call}, true))
}

func (o Options) finishChunk(reason string) ([]byte, error) {
	out, err := o.chunk()
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "choices.0.finish_reason", reason)
}

// ErrorChunk renders a backend failure as an in-band stream error.
func ErrorChunk(err *poe.StatusError) []byte {
	errType := err.ErrorType
	if errType == "" {
		errType = interfaces.ErrorTypeForStatus(err.StatusCode())
	}
	out, _ := sjson.SetBytes([]byte(errorTemplate), "error.message", err.Message)
	out, _ = sjson.SetBytes(out, "error.type", errType)
	return out
}

func toolCallsJSON(calls []tooling.ToolCall, withIndex bool) []byte {
	out := []byte("[]")
	for _, call := range calls {
		item := []byte(`{"id":"","type":"function","function":{"name":"","arguments":""}}`)
		if withIndex {
			item, _ = sjson.SetBytes(item, "index", call.Index)
		}
		item, _ = sjson.SetBytes(item, "id", call.ID)
		item, _ = sjson.SetBytes(item, "function.name", call.Name)
		item, _ = sjson.SetBytes(item, "function.arguments", call.Arguments)
		out, _ = sjson.SetRawBytes(out, "-1", item)
	}
	return out
}
