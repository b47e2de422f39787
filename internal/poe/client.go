package poe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poeproxy/poe-openai-proxy/internal/buildinfo"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/util"
	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
)

// Client talks to the Poe bot API. It is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	uploadURL  string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a client from the poe section of cfg.
func NewClient(cfg *config.Config) *Client {
	poeCfg := cfg.Poe
	baseURL := strings.TrimRight(poeCfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultPoeBaseURL
	}
	uploadURL := poeCfg.UploadURL
	if uploadURL == "" {
		uploadURL = config.DefaultPoeUploadURL
	}
	timeout := time.Duration(poeCfg.RequestTimeoutSeconds) * time.Second
	return &Client{
		apiKey:     poeCfg.APIKey,
		baseURL:    baseURL,
		uploadURL:  uploadURL,
		timeout:    timeout,
		httpClient: util.SetProxy(cfg.ProxyURL, &http.Client{}),
		breaker:    newBreaker("poe", poeCfg.Breaker),
	}
}

// Stream sends req and returns a channel of partial responses. The channel is
// closed when the bot finishes, after an EventError, or when ctx is cancelled.
// Cancellation produces no further events.
func (c *Client) Stream(ctx context.Context, req QueryRequest) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		streamCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			streamCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		resp, err := c.open(streamCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Entry(ctx).WithField("bot", req.Bot).Warnf("poe stream failed to start: %v", err)
			emit(ctx, out, ErrorEvent(asStatusError(err)))
			return
		}
		body, err := decodeBody(resp)
		if err != nil {
			_ = resp.Body.Close()
			emit(ctx, out, ErrorEvent(asStatusError(err)))
			return
		}
		defer func() {
			if errClose := body.Close(); errClose != nil {
				logging.Entry(ctx).Debugf("poe: close response body error: %v", errClose)
			}
		}()
		c.readEvents(ctx, streamCtx, req.Bot, body, out)
	}()
	return out
}

func (c *Client) open(ctx context.Context, req QueryRequest) (*http.Response, error) {
	payload, err := json.Marshal(normalizeQuery(req))
	if err != nil {
		return nil, fmt.Errorf("poe: marshal query: %w", err)
	}
	endpoint := c.baseURL + "/bot/" + url.PathEscape(req.Bot)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if errReq != nil {
			return nil, errReq
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("User-Agent", buildinfo.UserAgent())

		httpResp, errDo := c.httpClient.Do(httpReq)
		if errDo != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &StatusError{Code: http.StatusBadGateway, Message: fmt.Sprintf("Error communicating with Poe: %v", errDo)}
		}
		if httpResp.StatusCode != http.StatusOK {
			return nil, readUpstreamError(req.Bot, httpResp)
		}
		return httpResp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &StatusError{Code: http.StatusServiceUnavailable, Message: "Poe backend temporarily unavailable: " + err.Error(), AllowRetry: true}
	}
	return resp, err
}

// readEvents parses the SSE body. ctx is the caller's context; streamCtx also
// carries the request timeout.
func (c *Client) readEvents(ctx, streamCtx context.Context, bot string, body io.Reader, out chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(nil, 1_048_576) // 1MB

	var (
		name string
		data []string
	)
	dispatch := func() bool {
		if name == "" && len(data) == 0 {
			return true
		}
		ev, done, ok := parseEvent(name, []byte(strings.Join(data, "\n")))
		name, data = "", data[:0]
		if done {
			return false
		}
		if !ok {
			return true
		}
		if !emit(ctx, out, ev) {
			return false
		}
		return ev.Kind != EventError
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if !dispatch() {
				return
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if !dispatch() {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
		emit(ctx, out, ErrorEvent(&StatusError{Code: http.StatusGatewayTimeout, Message: "Poe request timed out"}))
		return
	}
	if errScan := scanner.Err(); errScan != nil {
		logging.Entry(ctx).WithField("bot", bot).Warnf("poe stream read error: %v", errScan)
		emit(ctx, out, ErrorEvent(&StatusError{Code: http.StatusBadGateway, Message: fmt.Sprintf("Error communicating with Poe: %v", errScan)}))
	}
}

// parseEvent converts one server-sent event. done is true for the terminal
// done event; ok is false for events that carry nothing for the caller.
func parseEvent(name string, data []byte) (ev Event, done bool, ok bool) {
	switch name {
	case "text":
		return TextEvent(gjson.GetBytes(data, "text").String()), false, true
	case "replace_response":
		return Event{Kind: EventReplace, Text: gjson.GetBytes(data, "text").String()}, false, true
	case "file":
		att := Attachment{
			URL:         gjson.GetBytes(data, "url").String(),
			ContentType: gjson.GetBytes(data, "content_type").String(),
			Name:        gjson.GetBytes(data, "name").String(),
		}
		if att.URL == "" {
			return Event{}, false, false
		}
		return Event{Kind: EventAttachment, Attachment: att}, false, true
	case "json":
		if HasToolCalls(data) {
			return Event{Kind: EventToolCalls, Data: data}, false, true
		}
		return Event{Kind: EventMeta, Data: data}, false, true
	case "meta", "suggested_reply":
		return Event{Kind: EventMeta, Data: data}, false, true
	case "error":
		msg := gjson.GetBytes(data, "text").String()
		if msg == "" {
			msg = "Poe bot returned an error"
		}
		errType := gjson.GetBytes(data, "error_type").String()
		return ErrorEvent(&StatusError{
			Code:       statusForErrorType(errType),
			Message:    msg,
			ErrorType:  errType,
			AllowRetry: gjson.GetBytes(data, "allow_retry").Bool(),
		}), false, true
	case "done":
		return Event{}, true, false
	}
	return Event{}, false, false
}

// HasToolCalls reports whether a json event payload carries tool calls, either
// at the top level or in an OpenAI-style chunk.
func HasToolCalls(data []byte) bool {
	return gjson.GetBytes(data, "tool_calls").IsArray() || gjson.GetBytes(data, "choices.0.delta.tool_calls").IsArray()
}

func normalizeQuery(req QueryRequest) QueryRequest {
	if req.Version == "" {
		req.Version = ProtocolVersion
	}
	if req.Type == "" {
		req.Type = "query"
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	if req.StopSequences == nil {
		req.StopSequences = []string{}
	}
	query := make([]ProtocolMessage, len(req.Query))
	for i, msg := range req.Query {
		if msg.ContentType == "" {
			msg.ContentType = "text/markdown"
		}
		if msg.Attachments == nil {
			msg.Attachments = []Attachment{}
		}
		query[i] = msg
	}
	req.Query = query
	return req
}

func readUpstreamError(bot string, resp *http.Response) *StatusError {
	defer func() { _ = resp.Body.Close() }()
	var raw []byte
	if body, err := decodeBody(resp); err == nil {
		raw, _ = io.ReadAll(io.LimitReader(body, 64<<10))
	}
	detail := summarizeErrorBody(raw)
	status := mapUpstreamStatus(resp.StatusCode)

	var msg string
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg = fmt.Sprintf("POE API authentication failed for model '%s'.", bot)
	case http.StatusPaymentRequired:
		msg = "Insufficient funds to process this request"
	case http.StatusNotFound:
		msg = fmt.Sprintf("Model '%s' not found in POE.", bot)
	case http.StatusBadRequest:
		msg = "Invalid parameter: " + detail
	case http.StatusTooManyRequests:
		msg = "Poe rate limit exceeded: " + detail
	default:
		msg = fmt.Sprintf("Error communicating with Poe: status %d: %s", resp.StatusCode, detail)
	}
	return &StatusError{Code: status, Message: msg}
}

func summarizeErrorBody(raw []byte) string {
	for _, path := range []string{"error.message", "text", "detail", "message", "error"} {
		if v := gjson.GetBytes(raw, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}

func asStatusError(err error) *StatusError {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StatusError{Code: http.StatusGatewayTimeout, Message: "Poe request timed out"}
	}
	return &StatusError{Code: http.StatusBadGateway, Message: err.Error()}
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
