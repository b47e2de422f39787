// Package tooling emulates OpenAI function calling on Poe bots. Bots without
// protocol-level tool support are instructed to emit <tool_call> blocks, which
// are parsed back into structured calls.
package tooling

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/tidwall/gjson"
)

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	// Function is the raw OpenAI function object, forwarded as is on the native path.
	Function json.RawMessage
}

// ChoiceMode is the tool_choice setting.
type ChoiceMode string

const (
	ChoiceAuto     ChoiceMode = "auto"
	ChoiceNone     ChoiceMode = "none"
	ChoiceRequired ChoiceMode = "required"
	ChoiceFunction ChoiceMode = "function"
)

// Choice is a parsed tool_choice value.
type Choice struct {
	Mode     ChoiceMode
	Function string
}

// ToolCall is a completed function call extracted from a response.
type ToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ParseTools reads an OpenAI tools array. Non-function entries are skipped.
func ParseTools(raw gjson.Result) []Tool {
	if !raw.IsArray() {
		return nil
	}
	var tools []Tool
	raw.ForEach(func(_, item gjson.Result) bool {
		if t := item.Get("type").String(); t != "" && t != "function" {
			return true
		}
		fn := item.Get("function")
		name := strings.TrimSpace(fn.Get("name").String())
		if name == "" {
			return true
		}
		tool := Tool{
			Name:        name,
			Description: fn.Get("description").String(),
			Function:    json.RawMessage(fn.Raw),
		}
		if params := fn.Get("parameters"); params.Exists() && params.Type != gjson.Null {
			tool.Parameters = json.RawMessage(params.Raw)
		}
		tools = append(tools, tool)
		return true
	})
	return tools
}

// ParseChoice reads tool_choice. Missing or unknown values mean auto.
func ParseChoice(raw gjson.Result) Choice {
	switch raw.Type {
	case gjson.String:
		switch ChoiceMode(raw.String()) {
		case ChoiceNone:
			return Choice{Mode: ChoiceNone}
		case ChoiceRequired:
			return Choice{Mode: ChoiceRequired}
		}
	case gjson.JSON:
		if raw.Get("type").String() == "function" {
			return Choice{Mode: ChoiceFunction, Function: raw.Get("function.name").String()}
		}
	}
	return Choice{Mode: ChoiceAuto}
}

// PoeDefinitions converts tools for bots with protocol-level function calling.
func PoeDefinitions(tools []Tool) []poe.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]poe.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, poe.ToolDefinition{Type: "function", Function: t.Function})
	}
	return defs
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
