package translator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/tooling"
	"github.com/tidwall/sjson"
)

// Heuristic constants. Poe reports no token counts, so every figure derived
// from them is an estimate.
const (
	TokensPerSecond         = 75
	tokensPerThinkingMarker = 40
	charsPerToken           = 4
	wordsPerToken           = 0.75
	thinkingFiller          = "I'm thinking about your request."
)

var (
	noisePattern       = regexp.MustCompile(`\bThinking\.\.\.(?:\s*\([0-9]+s elapsed\))?\s*`)
	wideSpacePattern   = regexp.MustCompile(`\s{3,}`)
	blankLinesPattern  = regexp.MustCompile(`\n{3,}`)
	elapsedPattern     = regexp.MustCompile(`\((\d+)s elapsed\)`)
	reasoningTagRegexp = regexp.MustCompile(`(?is)<(?:thinking|think|reasoning)>(.*?)</(?:thinking|think|reasoning)>`)
	quotedThinkingHead = regexp.MustCompile(`(?i)\*Thinking\.\.\.\*\s*\n\n>`)
	reasoningPhrase    = regexp.MustCompile(`(?i)(?:Let me (?:think|analyze)|I need to consider|My reasoning|Step-by-step)`)
)

// RemoveThinkingNoise strips Poe progress markers from a complete response and
// prefixes the single "*Thinking...*" marker. A response that is nothing but
// markers becomes a filler sentence.
func RemoveThinkingNoise(raw string) string {
	if raw == "" || !strings.Contains(raw, ThinkingMarker) {
		return raw
	}
	var b strings.Builder
	last := 0
	for _, loc := range noisePattern.FindAllStringIndex(raw, -1) {
		// A marker right after a leading asterisk is the already formatted one.
		if loc[0] == 1 && raw[0] == '*' {
			continue
		}
		b.WriteString(raw[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(raw[last:])

	clean := wideSpacePattern.ReplaceAllString(b.String(), " ")
	clean = strings.TrimSpace(blankLinesPattern.ReplaceAllString(clean, "\n\n"))
	if clean == "" {
		clean = thinkingFiller
	}
	return ThinkingStarted + "\n\n" + clean
}

// EstimateReasoningTokens guesses how many tokens a reasoning bot spent
// thinking. Elapsed-time annotations win over character counting when present.
func EstimateReasoningTokens(text string) int {
	if text == "" {
		return 0
	}
	var spans []string
	spans = append(spans, joinSpans(tagSpans(text)))
	spans = append(spans, joinSpans(untilBlankLine(text, quotedThinkingHead, true)))
	spans = append(spans, joinSpans(untilBlankLine(text, reasoningPhrase, false)))
	content := strings.Join(spans, "")

	if markers := strings.Count(text, ThinkingMarker); markers > 0 {
		if elapsed := elapsedPattern.FindAllStringSubmatch(text, -1); len(elapsed) > 0 {
			maxSeconds := 0
			for _, m := range elapsed {
				if n, err := strconv.Atoi(m[1]); err == nil && n > maxSeconds {
					maxSeconds = n
				}
			}
			return maxSeconds * TokensPerSecond
		}
		content += strings.Repeat(" ", markers*tokensPerThinkingMarker)
	}
	return utf8.RuneCountInString(content) / charsPerToken
}

func joinSpans(spans []string) string { return strings.Join(spans, " ") }

func tagSpans(text string) []string {
	var spans []string
	for _, m := range reasoningTagRegexp.FindAllStringSubmatch(text, -1) {
		spans = append(spans, m[1])
	}
	return spans
}

// untilBlankLine finds each match of head and extends it to the next blank
// line or the end of text. With afterHead only the text after head is kept,
// and a blank line followed by a quote line does not end the span.
func untilBlankLine(text string, head *regexp.Regexp, afterHead bool) []string {
	var spans []string
	pos := 0
	for pos <= len(text) {
		loc := head.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, from := pos+loc[0], pos+loc[1]
		if afterHead {
			start = from
		}
		end := spanEnd(text, from, afterHead)
		spans = append(spans, text[start:end])
		if end == pos {
			end++
		}
		pos = end
	}
	return spans
}

func spanEnd(text string, from int, quoted bool) int {
	for i := from; i < len(text); i++ {
		if i == len(text)-1 && text[i] == '\n' {
			return i
		}
		if !strings.HasPrefix(text[i:], "\n\n") {
			continue
		}
		if !quoted {
			return i
		}
		if i+2 < len(text) && text[i+2] != '>' {
			return i
		}
	}
	return len(text)
}

// Finalize cleans a complete response for reasoning models and estimates the
// tokens spent thinking. Other models pass through with no estimate.
func Finalize(text string, reasoning bool) (string, int) {
	if !reasoning {
		return text, 0
	}
	tokens := EstimateReasoningTokens(text)
	if strings.Contains(text, ThinkingMarker) && !strings.HasPrefix(text, ThinkingStarted) {
		return RemoveThinkingNoise(text), tokens
	}
	return text, tokens
}

// Usage is a word-count estimate of the tokens in a request and response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ReasoningTokens  int
}

// CountTokens estimates tokens from whitespace separated words.
func CountTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * wordsPerToken)
}

// EstimateUsage estimates usage for prompts, counted per message, and completion.
func EstimateUsage(prompts []string, completion string, reasoningTokens int) Usage {
	u := Usage{CompletionTokens: CountTokens(completion), ReasoningTokens: reasoningTokens}
	for _, p := range prompts {
		u.PromptTokens += CountTokens(p)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// Result is a fully collected non-streaming response.
type Result struct {
	// Text is the response after reasoning cleanup, before tool calls are removed.
	Text            string
	Content         string
	ToolCalls       []tooling.ToolCall
	FinishReason    string
	ReasoningTokens int
}

// Collect drains events into a Result. A backend error event is returned as
// the error.
func Collect(ctx context.Context, events <-chan poe.Event, opts Options) (*Result, error) {
	extractor := tooling.NewExtractor()
	var (
		text   strings.Builder
		native []tooling.ToolCall
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return finishResult(extractor, text.String(), native, opts), nil
			}
			switch ev.Kind {
			case poe.EventError:
				return nil, ev.Err
			case poe.EventAttachment:
				fmt.Fprintf(&text, "\n![Image](%s)\n", ev.Attachment.URL)
			case poe.EventText, poe.EventReplace:
				text.WriteString(ev.Text)
			case poe.EventToolCalls:
				if opts.Tools && opts.Native {
					native = append(native, extractor.Native(ev.Data)...)
				}
			}
		}
	}
}

func finishResult(extractor *tooling.Extractor, raw string, native []tooling.ToolCall, opts Options) *Result {
	visible, reasoningTokens := Finalize(raw, opts.Reasoning)
	res := &Result{Text: visible, Content: visible, FinishReason: FinishStop, ReasoningTokens: reasoningTokens}
	calls := native
	if opts.Tools && !opts.Native {
		res.Content, calls = extractor.Parse(visible)
	}
	for i := range calls {
		calls[i].Index = i
	}
	if len(calls) > 0 {
		res.ToolCalls = calls
		res.FinishReason = FinishToolCalls
	}
	return res
}

// BuildResponse renders a chat.completion object.
func BuildResponse(opts Options, res *Result, usage Usage) []byte {
	out := []byte(responseTemplate)
	out, _ = sjson.SetBytes(out, "id", opts.ID)
	out, _ = sjson.SetBytes(out, "created", opts.Created)
	out, _ = sjson.SetBytes(out, "model", opts.Model)
	if res.Content != "" {
		out, _ = sjson.SetBytes(out, "choices.0.message.content", res.Content)
	}
	if len(res.ToolCalls) > 0 {
		out, _ = sjson.SetRawBytes(out, "choices.0.message.tool_calls", toolCallsJSON(res.ToolCalls, false))
	}
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", res.FinishReason)
	return setUsage(out, "usage", usage, opts.Reasoning)
}

func setUsage(out []byte, path string, usage Usage, reasoning bool) []byte {
	out, _ = sjson.SetBytes(out, path+".prompt_tokens", usage.PromptTokens)
	out, _ = sjson.SetBytes(out, path+".completion_tokens", usage.CompletionTokens)
	out, _ = sjson.SetBytes(out, path+".total_tokens", usage.TotalTokens)
	if reasoning {
		out, _ = sjson.SetBytes(out, path+".completion_tokens_details.reasoning_tokens", usage.ReasoningTokens)
		out, _ = sjson.SetBytes(out, path+".prompt_tokens_details.cached_tokens", 0)
	}
	return out
}
