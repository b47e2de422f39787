// Package openai provides HTTP handlers for OpenAI API endpoints.
// This package implements the OpenAI-compatible API interface on top of Poe bots,
// including model listing, chat and text completions, moderations and files.
// It supports both streaming and non-streaming responses.
// The handlers translate OpenAI API requests into Poe protocol queries and
// convert partial responses back to OpenAI-compatible format.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/poeproxy/poe-openai-proxy/internal/adapter"
	"github.com/poeproxy/poe-openai-proxy/internal/interfaces"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/tooling"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	"github.com/poeproxy/poe-openai-proxy/sdk/api/handlers"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// HandlerType is the identifier of the OpenAI-compatible handler.
const HandlerType = "openai"

// statusClientClosed is recorded for requests abandoned by the client.
const statusClientClosed = 499

// OpenAIAPIHandler contains the handlers for OpenAI API endpoints.
type OpenAIAPIHandler struct {
	*handlers.BaseAPIHandler

	adapter *adapter.Adapter
	uploads *upload.Service
	files   *upload.FileRegistry
}

// NewOpenAIAPIHandler creates a new OpenAI API handlers instance.
//
// Parameters:
//   - apiHandlers: The base API handlers instance
//   - uploads: The attachment upload service
//   - files: The registry backing the files endpoints
//
// Returns:
//   - *OpenAIAPIHandler: A new OpenAI API handlers instance
func NewOpenAIAPIHandler(apiHandlers *handlers.BaseAPIHandler, uploads *upload.Service, files *upload.FileRegistry) *OpenAIAPIHandler {
	if files == nil {
		files = upload.NewFileRegistry()
	}
	return &OpenAIAPIHandler{
		BaseAPIHandler: apiHandlers,
		adapter:        adapter.New(uploads),
		uploads:        uploads,
		files:          files,
	}
}

// HandlerType returns the identifier for this handler implementation.
func (h *OpenAIAPIHandler) HandlerType() string {
	return HandlerType
}

// Models returns the OpenAI-compatible model metadata supported by this handler.
func (h *OpenAIAPIHandler) Models() []map[string]any {
	created := time.Now().Unix()
	models := h.Catalog.List()
	out := make([]map[string]any, 0, len(models))
	for _, m := range models {
		out = append(out, map[string]any{
			"id":       m.ClientName,
			"object":   "model",
			"created":  created,
			"owned_by": m.OwnedBy,
		})
	}
	return out
}

// OpenAIModels handles the /v1/models endpoint.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   h.Models(),
	})
}

// OpenAIModel handles the /v1/models/:model endpoint.
func (h *OpenAIAPIHandler) OpenAIModel(c *gin.Context) {
	name := c.Param("model")
	m, ok := h.Catalog.Resolve(name)
	if !ok {
		err := &requestError{status: http.StatusNotFound, message: fmt.Sprintf("The model '%s' does not exist", name)}
		h.WriteErrorResponse(c, interfaces.NewErrorMessage(interfaces.KindBackend, http.StatusNotFound, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       m.ClientName,
		"object":   "model",
		"created":  time.Now().Unix(),
		"owned_by": m.OwnedBy,
	})
}

// ChatCompletions handles the /v1/chat/completions endpoint.
// The request is either JSON or multipart with a "request" JSON field and
// "files" parts. It determines whether the request is for a streaming or
// non-streaming response and dispatches accordingly.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	start := time.Now()
	const endpoint = "chat.completions"

	rawJSON, sources, err := h.readChatRequest(c)
	if err != nil {
		h.fail(c, endpoint, "", start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, err))
		return
	}
	req, err := parseChatRequest(rawJSON)
	if err != nil {
		h.fail(c, endpoint, "", start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, err))
		return
	}
	info, err := h.Catalog.Lookup(req.Model)
	if err != nil {
		h.fail(c, endpoint, req.Model, start, interfaces.NewErrorMessage(interfaces.KindBackend, http.StatusBadRequest, err))
		return
	}
	if len(req.Messages) == 0 {
		h.fail(c, endpoint, req.Model, start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, adapter.ErrEmptyConversation))
		return
	}

	ctx, cancel := h.GetContextWithCancel(h, c, context.Background())
	native := len(req.Tools) > 0 && info.NativeTools
	entry := logging.Entry(ctx).WithFields(log.Fields{
		"model":        req.Model,
		"bot":          info.PoeName,
		"stream":       req.Stream,
		"tools":        len(req.Tools),
		"native_tools": native,
		"attachments":  len(sources),
	})
	entry.Infof("chat completion with %d message(s)", len(req.Messages))
	warnUnsupported(entry, req)

	var explicit []poe.Attachment
	if len(sources) > 0 {
		if explicit, err = h.uploads.UploadAll(ctx, sources); err != nil {
			h.fail(c, endpoint, req.Model, start, uploadError(err))
			cancel(err)
			return
		}
	}

	query, err := h.buildQuery(ctx, info.PoeName, prepareMessages(req, native), explicit)
	if err != nil {
		h.fail(c, endpoint, req.Model, start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, err))
		cancel(err)
		return
	}
	query.Temperature = req.Temperature
	query.StopSequences = req.Stop
	if native {
		query.Tools = tooling.PoeDefinitions(req.Tools)
	}

	opts := translator.Options{
		ID:        newID("chatcmpl-"),
		Model:     req.Model,
		Created:   time.Now().Unix(),
		Tools:     len(req.Tools) > 0,
		Native:    native,
		Reasoning: info.Reasoning,
	}
	if req.Stream {
		h.handleStreamingResponse(c, ctx, cancel, query, opts, req, start)
	} else {
		h.handleNonStreamingResponse(c, ctx, cancel, query, opts, req, start)
	}
}

// buildQuery adapts messages into a query for bot.
func (h *OpenAIAPIHandler) buildQuery(ctx context.Context, bot string, messages []adapter.Message, explicit []poe.Attachment) (poe.QueryRequest, error) {
	protocol, err := h.adapter.Adapt(ctx, messages, explicit)
	if err != nil {
		return poe.QueryRequest{}, err
	}
	return poe.QueryRequest{Bot: bot, Query: protocol}, nil
}

// handleNonStreamingResponse collects the full bot response and writes a
// chat.completion object with estimated usage.
func (h *OpenAIAPIHandler) handleNonStreamingResponse(c *gin.Context, ctx context.Context, cancel handlers.APIHandlerCancelFunc, query poe.QueryRequest, opts translator.Options, req *chatRequest, start time.Time) {
	const endpoint = "chat.completions"

	res, errMsg := h.Execute(ctx, query, opts)
	if errMsg != nil {
		h.fail(c, endpoint, req.Model, start, errMsg)
		cancel(errMsg.Error)
		return
	}

	usage := translator.EstimateUsage(promptTexts(req.Messages), res.Text, res.ReasoningTokens)
	logging.Entry(ctx).Infof("generated response with %d tokens (%d reasoning)", usage.CompletionTokens, usage.ReasoningTokens)
	c.Data(http.StatusOK, "application/json", translator.BuildResponse(opts, res, usage))

	h.Metrics.AddTokens(req.Model, usage.PromptTokens, usage.CompletionTokens, usage.ReasoningTokens)
	h.Metrics.AddToolCalls(req.Model, toolPath(opts), len(res.ToolCalls))
	h.Metrics.ObserveRequest(endpoint, req.Model, http.StatusOK, time.Since(start))
	cancel()
}

// handleStreamingResponse forwards translated chunks as server-sent events.
// Backend failures arrive in-band as an error chunk followed by the sentinel.
func (h *OpenAIAPIHandler) handleStreamingResponse(c *gin.Context, ctx context.Context, cancel handlers.APIHandlerCancelFunc, query poe.QueryRequest, opts translator.Options, req *chatRequest, start time.Time) {
	const endpoint = "chat.completions"

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.fail(c, endpoint, req.Model, start, &interfaces.ErrorMessage{
			StatusCode: http.StatusInternalServerError,
			Error:      errors.New("Streaming not supported"),
			Kind:       interfaces.KindBackend,
		})
		cancel()
		return
	}

	setSSEHeaders(c)
	var (
		completion strings.Builder
		toolCalls  int
		streamErr  error
	)
	chunks := h.ExecuteStream(ctx, query, opts)
	h.ForwardStream(c, flusher, func(err error) { streamErr = err }, chunks, handlers.StreamForwardOptions{
		WriteChunk: func(chunk translator.Chunk) {
			delta := gjson.GetBytes(chunk.Payload, "choices.0.delta")
			completion.WriteString(delta.Get("content").String())
			toolCalls += int(delta.Get("tool_calls.#").Int())
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk.Payload)
		},
		WriteDone: func() {
			_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		},
	})

	status := http.StatusOK
	var statusErr *poe.StatusError
	switch {
	case errors.As(streamErr, &statusErr):
		status = statusErr.StatusCode()
		h.Metrics.UpstreamError(status)
		logging.Entry(ctx).WithField("status", status).Warnf("stream ended with backend error: %s", statusErr.Message)
	case streamErr != nil || ctx.Err() != nil:
		status = statusClientClosed
		logging.Entry(ctx).Debug("client disconnected during stream")
	}
	if status == http.StatusOK {
		usage := translator.EstimateUsage(promptTexts(req.Messages), completion.String(), 0)
		h.Metrics.AddTokens(req.Model, usage.PromptTokens, usage.CompletionTokens, 0)
		h.Metrics.AddToolCalls(req.Model, toolPath(opts), toolCalls)
	}
	h.Metrics.ObserveRequest(endpoint, req.Model, status, time.Since(start))
	cancel(streamErr)
}

// fail writes errMsg and records the failed request.
func (h *OpenAIAPIHandler) fail(c *gin.Context, endpoint, model string, start time.Time, errMsg *interfaces.ErrorMessage) {
	status := errMsg.StatusCode
	if errMsg.Kind == interfaces.KindStreamAbort {
		status = statusClientClosed
	} else {
		logging.Entry(c.Request.Context()).WithFields(log.Fields{
			"status": status,
			"kind":   errMsg.Kind,
		}).Warnf("%s failed: %v", endpoint, errMsg.Error)
	}
	h.WriteErrorResponse(c, errMsg)
	h.Metrics.ObserveRequest(endpoint, model, status, time.Since(start))
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
}

func promptTexts(messages []adapter.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text())
	}
	return out
}

func toolPath(opts translator.Options) string {
	if opts.Native {
		return "native"
	}
	return "inline"
}

// newID returns prefix followed by 29 random hex digits.
func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:29]
}
