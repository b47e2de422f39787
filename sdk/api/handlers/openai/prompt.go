package openai

import (
	"fmt"

	"github.com/poeproxy/poe-openai-proxy/internal/adapter"
	"github.com/poeproxy/poe-openai-proxy/internal/tooling"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// responseFormatInstruction renders response_format as a prompt instruction.
// Poe has no structured output, so the format is requested in words.
func responseFormatInstruction(req *chatRequest) string {
	format := req.ResponseFormat
	if !format.Exists() {
		return ""
	}
	switch format.Get("type").String() {
	case "json_object":
		return "You must respond with valid JSON only. Do not include any text before or after the JSON."
	case "json_schema":
		schema := format.Get("json_schema")
		if !schema.Exists() || schema.Raw == "{}" || schema.Type == gjson.Null {
			return ""
		}
		return "You must respond with valid JSON that conforms to this schema: " + schema.Raw
	}
	return ""
}

// maxTokensInstruction renders max_tokens as a prompt instruction.
func maxTokensInstruction(limit int64) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("\nIMPORTANT: Keep your response under %d tokens.", limit)
}

// appendSystemText adds text to the first system message, or inserts a leading
// system message. messages is not modified.
func appendSystemText(messages []adapter.Message, text string) []adapter.Message {
	if text == "" {
		return messages
	}
	out := make([]adapter.Message, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if msg.Role != "system" {
			continue
		}
		parts := make([]adapter.ContentPart, len(msg.Parts))
		copy(parts, msg.Parts)
		last := -1
		for j, p := range parts {
			if p.Kind == adapter.PartText {
				last = j
			}
		}
		if last < 0 {
			parts = append(parts, adapter.TextPart(text))
		} else {
			parts[last].Text += "\n\n" + text
		}
		out[i].Parts = parts
		return out
	}
	return append([]adapter.Message{adapter.TextMessage("system", text)}, out...)
}

// prepareMessages applies prompt-side emulation in order: the tool directive for
// bots without native tools, response_format and, for non-streaming calls,
// max_tokens.
func prepareMessages(req *chatRequest, native bool) []adapter.Message {
	messages := req.Messages
	if len(req.Tools) > 0 && !native {
		messages = tooling.InjectDirective(messages, req.Tools, req.ToolChoice)
	}
	messages = appendSystemText(messages, responseFormatInstruction(req))
	if !req.Stream {
		messages = appendSystemText(messages, maxTokensInstruction(req.MaxTokens))
	}
	return messages
}

// warnUnsupported logs parameters Poe ignores or that are only emulated.
func warnUnsupported(entry *log.Entry, req *chatRequest) {
	root := req.raw
	if n := root.Get("n").Int(); n > 1 {
		entry.Warnf("Parameter 'n=%d' is not supported by Poe API. Only single completions are generated.", n)
	}
	for _, name := range []string{"presence_penalty", "frequency_penalty", "top_p", "seed"} {
		if v := root.Get(name); v.Exists() && v.Type != gjson.Null && v.Float() != 0 {
			entry.Warnf("Parameter '%s' is not supported by Poe API and will be ignored.", name)
		}
	}
	if req.MaxTokens > 0 {
		entry.Warn("Parameter 'max_tokens' is simulated via prompts. Results may vary.")
	}
	if req.ResponseFormat.Exists() && req.ResponseFormat.Type != gjson.Null {
		entry.Warn("Parameter 'response_format' is enforced via prompts. Not guaranteed to be valid JSON.")
	}
}
