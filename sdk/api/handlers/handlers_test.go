package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/interfaces"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	sdkconfig "github.com/poeproxy/poe-openai-proxy/sdk/config"
	"github.com/tidwall/gjson"
)

type scriptedBackend struct {
	events []poe.Event
}

func (b scriptedBackend) Stream(ctx context.Context, _ poe.QueryRequest) <-chan poe.Event {
	out := make(chan poe.Event, len(b.events))
	for _, ev := range b.events {
		out <- ev
	}
	close(out)
	return out
}

func TestBuildErrorResponseBody(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		errType  string
		text     string
		wantType string
		wantMsg  string
	}{
		{"derived from status", http.StatusTooManyRequests, "", "slow down", "rate_limit_error", "slow down"},
		{"explicit type", http.StatusPaymentRequired, "insufficient_fund", "no points", "insufficient_fund", "no points"},
		{"empty text", http.StatusBadGateway, "", "", "server_error", "Bad Gateway"},
		{"zero status", 0, "", "boom", "server_error", "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := BuildErrorResponseBody(tt.status, tt.errType, tt.text)
			if got := gjson.GetBytes(body, "error.type").String(); got != tt.wantType {
				t.Fatalf("type = %q, want %q", got, tt.wantType)
			}
			if got := gjson.GetBytes(body, "error.message").String(); got != tt.wantMsg {
				t.Fatalf("message = %q, want %q", got, tt.wantMsg)
			}
		})
	}

	raw := `{"error":{"message":"upstream","type":"x"}}`
	if got := string(BuildErrorResponseBody(http.StatusBadRequest, "", raw)); got != raw {
		t.Fatalf("JSON payload should pass through, got %s", got)
	}
}

func TestWriteErrorResponseUsesStatusAndType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	handler := NewBaseAPIHandlers(nil, nil, nil, nil)
	handler.WriteErrorResponse(c, &interfaces.ErrorMessage{
		StatusCode: http.StatusUnauthorized,
		Error:      errors.New("bad key"),
		Kind:       interfaces.KindBackend,
	})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if got := gjson.Get(recorder.Body.String(), "error.type").String(); got != "authentication_error" {
		t.Fatalf("type = %q", got)
	}
}

func TestWriteErrorResponseSkipsStreamAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	NewBaseAPIHandlers(nil, nil, nil, nil).WriteErrorResponse(c, &interfaces.ErrorMessage{Kind: interfaces.KindStreamAbort, Error: context.Canceled})
	if recorder.Body.Len() != 0 {
		t.Fatalf("expected no body, got %q", recorder.Body.String())
	}
}

func TestStreamingKeepAliveInterval(t *testing.T) {
	if got := StreamingKeepAliveInterval(nil); got != 0 {
		t.Fatalf("nil config = %v, want 0", got)
	}
	cfg := &sdkconfig.SDKConfig{}
	cfg.Streaming.KeepAliveSeconds = 15
	if got := StreamingKeepAliveInterval(cfg); got != 15*time.Second {
		t.Fatalf("interval = %v", got)
	}
}

func TestExecuteMapsBackendError(t *testing.T) {
	backend := scriptedBackend{events: []poe.Event{
		poe.ErrorEvent(&poe.StatusError{Code: http.StatusPaymentRequired, Message: "out of points", ErrorType: "insufficient_fund"}),
	}}
	handler := NewBaseAPIHandlers(nil, backend, nil, nil)

	res, errMsg := handler.Execute(context.Background(), poe.QueryRequest{Bot: "GPT-4o"}, translator.Options{ID: "x", Model: "gpt-4o"})
	if res != nil || errMsg == nil {
		t.Fatalf("expected an error, got %+v", res)
	}
	if errMsg.StatusCode != http.StatusPaymentRequired || errMsg.Kind != interfaces.KindBackend || errMsg.Type != "insufficient_fund" {
		t.Fatalf("unexpected error message %+v", errMsg)
	}
}

func TestForwardStreamWritesChunksAndDone(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	data := make(chan translator.Chunk, 3)
	data <- translator.Chunk{Payload: []byte(`{"a":1}`)}
	data <- translator.Chunk{Done: true}
	data <- translator.Chunk{Payload: []byte(`{"ignored":true}`)}

	var cancelled bool
	var cancelErr error
	handler := NewBaseAPIHandlers(nil, nil, nil, nil)
	handler.ForwardStream(c, c.Writer, func(err error) { cancelled, cancelErr = true, err }, data, StreamForwardOptions{
		WriteChunk: func(chunk translator.Chunk) { _, _ = c.Writer.Write([]byte("data: " + string(chunk.Payload) + "\n\n")) },
		WriteDone:  func() { _, _ = c.Writer.Write([]byte("data: [DONE]\n\n")) },
	})

	want := "data: {\"a\":1}\n\ndata: [DONE]\n\n"
	if got := recorder.Body.String(); got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
	if !cancelled || cancelErr != nil {
		t.Fatalf("cancel called=%v err=%v", cancelled, cancelErr)
	}
}

func TestForwardStreamSendsKeepAlive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	data := make(chan translator.Chunk)
	go func() {
		time.Sleep(60 * time.Millisecond)
		data <- translator.Chunk{Done: true}
	}()

	interval := 10 * time.Millisecond
	handler := NewBaseAPIHandlers(nil, nil, nil, nil)
	handler.ForwardStream(c, c.Writer, func(error) {}, data, StreamForwardOptions{
		KeepAliveInterval: &interval,
		WriteDone:         func() { _, _ = c.Writer.Write([]byte("data: [DONE]\n\n")) },
	})

	body := recorder.Body.String()
	if !strings.Contains(body, ": keep-alive\n\n") {
		t.Fatalf("expected keep-alive comment, got %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("expected sentinel last, got %q", body)
	}
}

func TestForwardStreamReportsErrorChunk(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	failure := &poe.StatusError{Code: http.StatusBadGateway, Message: "bot down"}
	data := make(chan translator.Chunk, 2)
	data <- translator.Chunk{Payload: translator.ErrorChunk(failure), Err: failure}
	data <- translator.Chunk{Done: true}

	var cancelErr error
	handler := NewBaseAPIHandlers(nil, nil, nil, nil)
	handler.ForwardStream(c, c.Writer, func(err error) { cancelErr = err }, data, StreamForwardOptions{})

	var statusErr *poe.StatusError
	if !errors.As(cancelErr, &statusErr) || statusErr.Message != "bot down" {
		t.Fatalf("cancel error = %v", cancelErr)
	}
}
