package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/adapter"
	"github.com/poeproxy/poe-openai-proxy/internal/interfaces"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	"github.com/poeproxy/poe-openai-proxy/sdk/api/handlers"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const completionTemplate = `{"id":"","object":"text_completion","created":0,"model":"","choices":[{"text":"","index":0,"logprobs":null,"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`

// completionPrompt extracts the prompt of a completions request. Array prompts
// are joined with newlines.
func completionPrompt(root gjson.Result) string {
	prompt := root.Get("prompt")
	if prompt.IsArray() {
		var parts []string
		for _, p := range prompt.Array() {
			parts = append(parts, p.String())
		}
		return strings.Join(parts, "\n")
	}
	return prompt.String()
}

// Completions handles the /v1/completions endpoint.
// The prompt is sent to the bot as a single user message and the answer is
// returned in the text_completion format.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
func (h *OpenAIAPIHandler) Completions(c *gin.Context) {
	start := time.Now()
	const endpoint = "completions"

	rawJSON, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(rawJSON) {
		h.fail(c, endpoint, "", start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Invalid JSON body.")))
		return
	}
	root := gjson.ParseBytes(rawJSON)
	model := strings.TrimSpace(root.Get("model").String())
	if model == "" {
		h.fail(c, endpoint, "", start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Missing required parameter: 'model'.")))
		return
	}
	prompt := completionPrompt(root)
	if strings.TrimSpace(prompt) == "" {
		h.fail(c, endpoint, model, start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Missing required parameter: 'prompt'.")))
		return
	}
	info, err := h.Catalog.Lookup(model)
	if err != nil {
		h.fail(c, endpoint, model, start, interfaces.NewErrorMessage(interfaces.KindBackend, http.StatusBadRequest, err))
		return
	}

	ctx, cancel := h.GetContextWithCancel(h, c, context.Background())
	entry := logging.Entry(ctx).WithFields(log.Fields{"model": model, "bot": info.PoeName, "stream": root.Get("stream").Bool()})
	entry.Infof("completion with prompt of %d chars", len(prompt))

	query, err := h.buildQuery(ctx, info.PoeName, []adapter.Message{adapter.TextMessage("user", prompt)}, nil)
	if err != nil {
		h.fail(c, endpoint, model, start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, err))
		cancel(err)
		return
	}
	if t := root.Get("temperature"); t.Type == gjson.Number {
		v := t.Float()
		query.Temperature = &v
	}
	query.StopSequences = stopSequences(root.Get("stop"))

	opts := translator.Options{
		ID:        newID("cmpl-"),
		Model:     model,
		Created:   time.Now().Unix(),
		Reasoning: info.Reasoning,
	}
	if root.Get("stream").Bool() {
		h.handleCompletionsStreamingResponse(c, ctx, cancel, query, opts, prompt, start)
		return
	}

	res, errMsg := h.Execute(ctx, query, opts)
	if errMsg != nil {
		h.fail(c, endpoint, model, start, errMsg)
		cancel(errMsg.Error)
		return
	}
	usage := translator.EstimateUsage([]string{prompt}, res.Text, 0)
	out := []byte(completionTemplate)
	out, _ = sjson.SetBytes(out, "id", opts.ID)
	out, _ = sjson.SetBytes(out, "created", opts.Created)
	out, _ = sjson.SetBytes(out, "model", opts.Model)
	out, _ = sjson.SetBytes(out, "choices.0.text", res.Text)
	out, _ = sjson.SetBytes(out, "usage.prompt_tokens", usage.PromptTokens)
	out, _ = sjson.SetBytes(out, "usage.completion_tokens", usage.CompletionTokens)
	out, _ = sjson.SetBytes(out, "usage.total_tokens", usage.TotalTokens)
	c.Data(http.StatusOK, "application/json", out)

	h.Metrics.AddTokens(model, usage.PromptTokens, usage.CompletionTokens, res.ReasoningTokens)
	h.Metrics.ObserveRequest(endpoint, model, http.StatusOK, time.Since(start))
	cancel()
}

// handleCompletionsStreamingResponse streams chat chunks converted to the
// text_completion chunk format.
func (h *OpenAIAPIHandler) handleCompletionsStreamingResponse(c *gin.Context, ctx context.Context, cancel handlers.APIHandlerCancelFunc, query poe.QueryRequest, opts translator.Options, prompt string, start time.Time) {
	const endpoint = "completions"

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.fail(c, endpoint, opts.Model, start, &interfaces.ErrorMessage{StatusCode: http.StatusInternalServerError, Error: errors.New("Streaming not supported"), Kind: interfaces.KindBackend})
		cancel()
		return
	}

	setSSEHeaders(c)
	var (
		completion strings.Builder
		streamErr  error
	)
	h.ForwardStream(c, flusher, func(err error) { streamErr = err }, h.ExecuteStream(ctx, query, opts), handlers.StreamForwardOptions{
		WriteChunk: func(chunk translator.Chunk) {
			payload := chunk.Payload
			if chunk.Err == nil {
				payload = convertChatCompletionsStreamChunkToCompletions(chunk.Payload)
				if payload == nil {
					return
				}
				completion.WriteString(gjson.GetBytes(payload, "choices.0.text").String())
			}
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		},
		WriteDone: func() {
			_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		},
	})

	status := http.StatusOK
	var statusErr *poe.StatusError
	if errors.As(streamErr, &statusErr) {
		status = statusErr.StatusCode()
		h.Metrics.UpstreamError(status)
	} else if streamErr != nil || ctx.Err() != nil {
		status = statusClientClosed
	}
	if status == http.StatusOK {
		usage := translator.EstimateUsage([]string{prompt}, completion.String(), 0)
		h.Metrics.AddTokens(opts.Model, usage.PromptTokens, usage.CompletionTokens, 0)
	}
	h.Metrics.ObserveRequest(endpoint, opts.Model, status, time.Since(start))
	cancel(streamErr)
}

// convertChatCompletionsStreamChunkToCompletions converts a streaming chat completions chunk to completions format.
// Chunks without text or a finish reason are filtered out.
//
// Parameters:
//   - chunkData: The raw JSON bytes of a single chat completions stream chunk
//
// Returns:
//   - []byte: The converted completions stream chunk, or nil if should be filtered out
func convertChatCompletionsStreamChunkToCompletions(chunkData []byte) []byte {
	root := gjson.ParseBytes(chunkData)
	choice := root.Get("choices.0")
	text := choice.Get("delta.content").String()
	finishReason := choice.Get("finish_reason")
	hasFinish := finishReason.Exists() && finishReason.Type != gjson.Null && finishReason.String() != ""
	if text == "" && !hasFinish {
		return nil
	}

	out := `{"id":"","object":"text_completion","created":0,"model":"","choices":[{"text":"","index":0,"logprobs":null,"finish_reason":null}]}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "created", root.Get("created").Int())
	out, _ = sjson.Set(out, "model", root.Get("model").String())
	out, _ = sjson.Set(out, "choices.0.text", text)
	if hasFinish {
		out, _ = sjson.Set(out, "choices.0.finish_reason", finishReason.String())
	}
	return []byte(out)
}
