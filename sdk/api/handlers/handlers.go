// Package handlers provides core API handler functionality for the Poe OpenAI proxy.
// It includes common types, backend execution, keep-alive handling and error
// rendering shared by the OpenAI-compatible endpoint handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/interfaces"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/metrics"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/registry"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	"github.com/poeproxy/poe-openai-proxy/sdk/config"
)

// ErrorResponse represents a standard error response format for the API.
// It contains a single ErrorDetail field.
type ErrorResponse struct {
	// Error contains detailed information about the error that occurred.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides specific information about an error that occurred.
type ErrorDetail struct {
	// Message is a human-readable message providing more details about the error.
	Message string `json:"message"`

	// Type is the category of error that occurred (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Param names the offending request parameter, if any.
	Param string `json:"param,omitempty"`

	// Code is a short code identifying the error, if applicable.
	Code string `json:"code,omitempty"`
}

const defaultStreamingKeepAliveSeconds = 0

// BuildErrorResponseBody builds an OpenAI-compatible JSON error response body.
// An empty errType is derived from status. If errText is already valid JSON, it
// is returned as-is to preserve upstream error payloads.
func BuildErrorResponseBody(status int, errType, errText string) []byte {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	if strings.TrimSpace(errText) == "" {
		errText = http.StatusText(status)
	}

	trimmed := strings.TrimSpace(errText)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return []byte(trimmed)
	}

	if errType == "" {
		errType = interfaces.ErrorTypeForStatus(status)
	}
	payload, err := json.Marshal(ErrorResponse{
		Error: ErrorDetail{
			Message: errText,
			Type:    errType,
		},
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":{"message":%q,"type":"server_error"}}`, errText))
	}
	return payload
}

// StreamingKeepAliveInterval returns the SSE keep-alive interval for this server.
// Returning 0 disables keep-alives (default when unset).
func StreamingKeepAliveInterval(cfg *config.SDKConfig) time.Duration {
	seconds := defaultStreamingKeepAliveSeconds
	if cfg != nil {
		seconds = cfg.Streaming.KeepAliveSeconds
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// BaseAPIHandler contains the collaborators shared by all API endpoint handlers:
// the upstream backend, the model catalog and the metrics collector.
type BaseAPIHandler struct {
	// Backend streams bot responses from Poe.
	Backend translator.Backend

	// Catalog resolves client model names to Poe bots.
	Catalog *registry.Catalog

	// Metrics records request activity. It may be nil.
	Metrics *metrics.Collector

	// Cfg holds the current application configuration.
	Cfg *config.SDKConfig
}

// NewBaseAPIHandlers creates a new API handlers instance.
//
// Parameters:
//   - cfg: The application configuration
//   - backend: The upstream bot backend
//   - catalog: The model catalog
//   - collector: The metrics collector, or nil
//
// Returns:
//   - *BaseAPIHandler: A new API handlers instance
func NewBaseAPIHandlers(cfg *config.SDKConfig, backend translator.Backend, catalog *registry.Catalog, collector *metrics.Collector) *BaseAPIHandler {
	return &BaseAPIHandler{
		Cfg:     cfg,
		Backend: backend,
		Catalog: catalog,
		Metrics: collector,
	}
}

// UpdateClients updates the handlers' configuration.
// This method is called when the configuration file changes.
func (h *BaseAPIHandler) UpdateClients(cfg *config.SDKConfig) { h.Cfg = cfg }

// GetContextWithCancel creates a new context with cancellation capabilities.
// The request ID of the Gin request is propagated and the context is cancelled
// as soon as the client goes away.
//
// Parameters:
//   - handler: The API handler associated with the request.
//   - c: The Gin context of the current request.
//   - ctx: The parent context (caller values/deadlines are preserved; request context adds cancellation and request ID).
//
// Returns:
//   - context.Context: The new context with cancellation and embedded values.
//   - APIHandlerCancelFunc: A function to cancel the context and log the outcome.
func (h *BaseAPIHandler) GetContextWithCancel(handler interfaces.APIHandler, c *gin.Context, ctx context.Context) (context.Context, APIHandlerCancelFunc) {
	parentCtx := ctx
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	var requestCtx context.Context
	if c != nil && c.Request != nil {
		requestCtx = c.Request.Context()
	}

	if requestCtx != nil && logging.GetRequestID(parentCtx) == "" {
		if requestID := logging.GetRequestID(requestCtx); requestID != "" {
			parentCtx = logging.WithRequestID(parentCtx, requestID)
		} else if requestID := logging.GetGinRequestID(c); requestID != "" {
			parentCtx = logging.WithRequestID(parentCtx, requestID)
		}
	}
	newCtx, cancel := context.WithCancel(parentCtx)
	if requestCtx != nil && requestCtx != parentCtx {
		go func() {
			select {
			case <-requestCtx.Done():
				cancel()
			case <-newCtx.Done():
			}
		}()
	}
	return newCtx, func(params ...interface{}) {
		if len(params) == 1 {
			if err, ok := params[0].(error); ok && err != nil && !errors.Is(err, context.Canceled) {
				entry := logging.Entry(newCtx)
				if handler != nil {
					entry = entry.WithField("handler", handler.HandlerType())
				}
				entry.Debugf("request finished with error: %v", err)
			}
		}
		cancel()
	}
}

// ExecuteStream starts req on the backend and returns the translated chunk stream.
func (h *BaseAPIHandler) ExecuteStream(ctx context.Context, req poe.QueryRequest, opts translator.Options) <-chan translator.Chunk {
	return translator.Stream(ctx, h.Backend.Stream(ctx, req), opts)
}

// Execute runs req on the backend and collects the complete response.
func (h *BaseAPIHandler) Execute(ctx context.Context, req poe.QueryRequest, opts translator.Options) (*translator.Result, *interfaces.ErrorMessage) {
	res, err := translator.Collect(ctx, h.Backend.Stream(ctx, req), opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &interfaces.ErrorMessage{StatusCode: 499, Error: err, Kind: interfaces.KindStreamAbort}
		}
		errMsg := interfaces.NewErrorMessage(interfaces.KindBackend, http.StatusBadGateway, err)
		var statusErr *poe.StatusError
		if errors.As(err, &statusErr) {
			errMsg.Type = statusErr.ErrorType
			h.Metrics.UpstreamError(errMsg.StatusCode)
		}
		return nil, errMsg
	}
	return res, nil
}

// WriteErrorResponse writes an error message to the response writer using the HTTP status embedded in the message.
// Client disconnects are not reported.
func (h *BaseAPIHandler) WriteErrorResponse(c *gin.Context, msg *interfaces.ErrorMessage) {
	if msg != nil && msg.Kind == interfaces.KindStreamAbort {
		c.Abort()
		return
	}
	status := http.StatusInternalServerError
	if msg != nil && msg.StatusCode > 0 {
		status = msg.StatusCode
	}

	errText := http.StatusText(status)
	errType := ""
	if msg != nil {
		if msg.Error != nil {
			if v := strings.TrimSpace(msg.Error.Error()); v != "" {
				errText = v
			}
		}
		errType = msg.Type
	}

	body := BuildErrorResponseBody(status, errType, errText)
	if !c.Writer.Written() {
		c.Writer.Header().Set("Content-Type", "application/json")
	}
	c.Status(status)
	_, _ = c.Writer.Write(body)
}

// ErrorMessageFor classifies err for the HTTP layer. Errors carrying a status code
// keep it; everything else becomes a 500.
func ErrorMessageFor(kind interfaces.ErrorKind, err error) *interfaces.ErrorMessage {
	return interfaces.NewErrorMessage(kind, http.StatusInternalServerError, err)
}

// APIHandlerCancelFunc is a function type for canceling an API handler's context.
// It can optionally accept an error, which is logged at debug level.
type APIHandlerCancelFunc func(params ...interface{})
