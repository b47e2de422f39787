package openai

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/adapter"
	"github.com/poeproxy/poe-openai-proxy/internal/tooling"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	"github.com/tidwall/gjson"
)

// requestError is a malformed client request.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string   { return e.message }
func (e *requestError) StatusCode() int { return e.status }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

// chatRequest is the subset of a chat completion request the proxy acts on.
type chatRequest struct {
	Model       string
	Messages    []adapter.Message
	Stream      bool
	Temperature *float64
	Stop        []string
	Tools       []tooling.Tool
	ToolChoice  tooling.Choice

	ResponseFormat gjson.Result
	MaxTokens      int64

	raw gjson.Result
}

// parseChatRequest decodes a chat completion body.
func parseChatRequest(rawJSON []byte) (*chatRequest, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, badRequest("Invalid JSON body.")
	}
	root := gjson.ParseBytes(rawJSON)
	if !root.IsObject() {
		return nil, badRequest("Request body must be a JSON object.")
	}

	req := &chatRequest{
		Model:          strings.TrimSpace(root.Get("model").String()),
		Stream:         root.Get("stream").Bool(),
		Tools:          tooling.ParseTools(root.Get("tools")),
		ToolChoice:     tooling.ParseChoice(root.Get("tool_choice")),
		ResponseFormat: root.Get("response_format"),
		raw:            root,
	}
	if req.Model == "" {
		return nil, badRequest("Missing required parameter: 'model'.")
	}

	messages := root.Get("messages")
	if !messages.IsArray() {
		return nil, badRequest("Missing required parameter: 'messages'.")
	}
	for i, m := range messages.Array() {
		msg, err := parseMessage(m)
		if err != nil {
			return nil, badRequest("Invalid message at index %d: %v", i, err)
		}
		req.Messages = append(req.Messages, msg)
	}

	if t := root.Get("temperature"); t.Exists() && t.Type == gjson.Number {
		v := t.Float()
		req.Temperature = &v
	}
	req.Stop = stopSequences(root.Get("stop"))

	if v := root.Get("max_tokens"); v.Exists() && v.Int() > 0 {
		req.MaxTokens = v.Int()
	} else if v = root.Get("max_completion_tokens"); v.Exists() && v.Int() > 0 {
		req.MaxTokens = v.Int()
	}
	return req, nil
}

func parseMessage(m gjson.Result) (adapter.Message, error) {
	if !m.IsObject() {
		return adapter.Message{}, fmt.Errorf("message must be an object")
	}
	role := m.Get("role").String()
	if role == "" {
		return adapter.Message{}, fmt.Errorf("missing role")
	}
	msg := adapter.Message{
		Role:       role,
		ToolCallID: m.Get("tool_call_id").String(),
		Name:       m.Get("name").String(),
	}

	content := m.Get("content")
	switch {
	case content.IsArray():
		for _, part := range content.Array() {
			switch part.Get("type").String() {
			case "text":
				msg.Parts = append(msg.Parts, adapter.TextPart(part.Get("text").String()))
			case "image_url":
				url := part.Get("image_url.url").String()
				if url == "" {
					url = part.Get("image_url").String()
				}
				if url != "" {
					msg.Parts = append(msg.Parts, adapter.ImagePart(url))
				}
			}
		}
	case content.Type == gjson.String:
		msg.Parts = []adapter.ContentPart{adapter.TextPart(content.String())}
	}

	for _, call := range m.Get("tool_calls").Array() {
		arguments := call.Get("function.arguments")
		args := arguments.String()
		if arguments.IsObject() {
			args = arguments.Raw
		}
		msg.ToolCalls = append(msg.ToolCalls, adapter.ToolCallRef{
			ID:        call.Get("id").String(),
			Name:      call.Get("function.name").String(),
			Arguments: args,
		})
	}
	return msg, nil
}

func stopSequences(stop gjson.Result) []string {
	switch {
	case stop.Type == gjson.String && stop.String() != "":
		return []string{stop.String()}
	case stop.IsArray():
		var out []string
		for _, s := range stop.Array() {
			if s.String() != "" {
				out = append(out, s.String())
			}
		}
		return out
	}
	return nil
}

// readChatRequest reads a JSON or multipart chat completion request. Multipart
// requests carry the JSON in the "request" field and files in "files".
func (h *OpenAIAPIHandler) readChatRequest(c *gin.Context) ([]byte, []upload.Source, error) {
	contentType := c.GetHeader("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == "multipart/form-data":
		return h.readMultipartChat(c)
	case mediaType == "application/json", contentType == "":
		rawJSON, err := c.GetRawData()
		if err != nil {
			return nil, nil, badRequest("Invalid request: %v", err)
		}
		return rawJSON, nil, nil
	}
	return nil, nil, &requestError{status: http.StatusUnsupportedMediaType, message: fmt.Sprintf("Unsupported content-type: %s", contentType)}
}

func (h *OpenAIAPIHandler) readMultipartChat(c *gin.Context) ([]byte, []upload.Source, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, badRequest("Invalid multipart body: %v", err)
	}
	values := form.Value["request"]
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return nil, nil, badRequest("Multipart request must have a 'request' field with JSON data.")
	}
	rawJSON := []byte(values[0])
	if !gjson.ValidBytes(rawJSON) {
		return nil, nil, badRequest("Invalid JSON in 'request' form field.")
	}

	sources, err := h.readFormFiles(form.File["files"])
	if err != nil {
		return nil, nil, err
	}
	return rawJSON, sources, nil
}
