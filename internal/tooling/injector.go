package tooling

import (
	"fmt"
	"strings"

	"github.com/poeproxy/poe-openai-proxy/internal/adapter"
)

const callFormat = `When using tools, respond with XML in this exact format:
<tool_call>
<name>function_name</name>
<arguments>{"param": "value"}</arguments>
</tool_call>

You can make multiple tool calls by using multiple <tool_call> blocks.
IMPORTANT: After using tools, do NOT include the XML tags in your final response to the user.
`

// BuildCatalog renders tools as the <tools> block shown to the model.
func BuildCatalog(tools []Tool) string {
	lines := []string{"<tools>"}
	for _, t := range tools {
		lines = append(lines, fmt.Sprintf(`<tool name="%s">`, t.Name))
		if t.Description != "" {
			lines = append(lines, "<description>"+t.Description+"</description>")
		}
		if params := compactJSON(t.Parameters); params != "" && params != "{}" && params != "null" {
			lines = append(lines, "<parameters>"+params+"</parameters>")
		}
		lines = append(lines, "</tool>")
	}
	lines = append(lines, "</tools>")
	return strings.Join(lines, "\n")
}

// Instruction returns the usage rule for choice.
func Instruction(choice Choice) string {
	switch choice.Mode {
	case ChoiceNone:
		return "IMPORTANT: You are FORBIDDEN from using any tools. Do NOT use <tool_call> tags. " +
			"Respond directly with natural language only."
	case ChoiceRequired:
		return "You MUST use at least one tool to answer this request."
	case ChoiceFunction:
		return fmt.Sprintf("You MUST use the '%s' function to answer this request.", choice.Function)
	}
	return "Use tools when appropriate to help answer the user's request."
}

// Directive is the full system-prompt fragment for tools and choice.
func Directive(tools []Tool, choice Choice) string {
	return "\n" + BuildCatalog(tools) + "\n\n" + Instruction(choice) + "\n\n" + callFormat
}

// InjectDirective prepends the tool directive to the first system message, or
// inserts a leading system message when there is none. The input slice is not
// modified. Applying it to an already injected list returns the list unchanged.
func InjectDirective(messages []adapter.Message, tools []Tool, choice Choice) []adapter.Message {
	if len(tools) == 0 {
		return messages
	}
	directive := Directive(tools, choice)

	out := make([]adapter.Message, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if msg.Role != "system" {
			continue
		}
		existing := msg.Text()
		if strings.HasPrefix(existing, directive) {
			return out
		}
		msg.Parts = []adapter.ContentPart{adapter.TextPart(directive + "\n\n" + existing)}
		out[i] = msg
		return out
	}
	return append([]adapter.Message{adapter.TextMessage("system", directive)}, out...)
}
