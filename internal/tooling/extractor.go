package tooling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	openTag  = "<tool_call>"
	closeTag = "</tool_call>"
)

var (
	callPattern     = regexp.MustCompile(`(?s)<tool_call>\s*<name>([^<]+)</name>\s*<arguments>(.*?)</arguments>\s*</tool_call>`)
	thinkingPattern = regexp.MustCompile(`(?s)\*?Thinking\.\.\..*?\*?\s*`)
	spacePattern    = regexp.MustCompile(`\s{2,}`)
	bareKeyPattern  = regexp.MustCompile(`(\w+):`)
)

// Extractor parses <tool_call> blocks out of bot output and assigns call ids
// that are unique within one response.
type Extractor struct {
	prefix string
	seq    int
}

// NewExtractor returns an Extractor with a fresh id prefix.
func NewExtractor() *Extractor {
	return &Extractor{prefix: strings.ReplaceAll(uuid.NewString(), "-", "")[:8]}
}

// NextID returns the next call id for this response.
func (e *Extractor) NextID() string {
	e.seq++
	return fmt.Sprintf("call_%s%04d", e.prefix, e.seq)
}

// Parse extracts every complete tool call in text. When at least one call is
// found, the returned text has the blocks and thinking markers removed and
// whitespace collapsed; otherwise text is returned unchanged.
func (e *Extractor) Parse(text string) (string, []ToolCall) {
	matches := callPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	calls := make([]ToolCall, 0, len(matches))
	for _, m := range matches {
		calls = append(calls, ToolCall{
			ID:        e.NextID(),
			Name:      strings.TrimSpace(m[1]),
			Arguments: RepairArguments(strings.TrimSpace(m[2])),
		})
	}
	cleaned := strings.TrimSpace(callPattern.ReplaceAllString(text, ""))
	cleaned = thinkingPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	return cleaned, calls
}

// Feed consumes one streamed fragment. buffer holds text withheld by the
// previous call. It returns the text that may be shown now, the calls
// completed by this fragment and the text to withhold until the next one.
// A trailing partial opening tag is withheld so a split tag is not shown.
func (e *Extractor) Feed(fragment, buffer string) (string, []ToolCall, string) {
	combined := buffer + fragment
	if !strings.Contains(combined, openTag) {
		held := partialOpenTag(combined)
		return combined[:len(combined)-held], nil, combined[len(combined)-held:]
	}
	if !strings.Contains(combined, closeTag) {
		return "", nil, combined
	}
	_, calls := e.Parse(combined)
	return "", calls, strings.TrimSpace(callPattern.ReplaceAllString(combined, ""))
}

// partialOpenTag returns the length of the longest suffix of text that could
// still grow into an opening tag.
func partialOpenTag(text string) int {
	for n := min(len(text), len(openTag)-1); n > 0; n-- {
		if strings.HasSuffix(text, openTag[:n]) {
			return n
		}
	}
	return 0
}

// RepairArguments returns raw when it is valid JSON. Otherwise bare object
// keys are quoted, and if that still does not parse the raw text is encoded
// as a JSON string.
func RepairArguments(raw string) string {
	if raw == "" {
		return "{}"
	}
	if json.Valid([]byte(raw)) {
		return raw
	}
	if fixed := bareKeyPattern.ReplaceAllString(raw, `"${1}":`); json.Valid([]byte(fixed)) {
		return fixed
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(raw)
	return strings.TrimRight(buf.String(), "\n")
}

// Native reads protocol-level tool calls from a bot json event, either at the
// top level or inside an OpenAI-style chunk. Calls without an id get one.
func (e *Extractor) Native(data []byte) []ToolCall {
	list := gjson.GetBytes(data, "tool_calls")
	if !list.IsArray() {
		list = gjson.GetBytes(data, "choices.0.delta.tool_calls")
	}
	if !list.IsArray() {
		return nil
	}
	var calls []ToolCall
	list.ForEach(func(_, item gjson.Result) bool {
		name := item.Get("function.name").String()
		if name == "" {
			return true
		}
		args := item.Get("function.arguments")
		arguments := args.String()
		if args.IsObject() || args.IsArray() {
			arguments = args.Raw
		}
		id := item.Get("id").String()
		if id == "" {
			id = e.NextID()
		}
		calls = append(calls, ToolCall{ID: id, Name: name, Arguments: RepairArguments(strings.TrimSpace(arguments))})
		return true
	})
	return calls
}
