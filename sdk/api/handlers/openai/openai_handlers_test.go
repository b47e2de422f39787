package openai

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/registry"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	"github.com/poeproxy/poe-openai-proxy/sdk/api/handlers"
	"github.com/tidwall/gjson"
)

type fakeBackend struct {
	mu      sync.Mutex
	events  []poe.Event
	queries []poe.QueryRequest
}

func (b *fakeBackend) Stream(ctx context.Context, req poe.QueryRequest) <-chan poe.Event {
	b.mu.Lock()
	b.queries = append(b.queries, req)
	events := append([]poe.Event(nil), b.events...)
	b.mu.Unlock()

	out := make(chan poe.Event)
	go func() {
		defer close(out)
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()
	return out
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

func (b *fakeBackend) lastQuery(t *testing.T) poe.QueryRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queries) == 0 {
		t.Fatal("backend was not called")
	}
	return b.queries[len(b.queries)-1]
}

type fakeUploader struct {
	mu    sync.Mutex
	names []string
}

func (u *fakeUploader) Upload(ctx context.Context, name, contentType string, data []byte) (poe.Attachment, error) {
	u.mu.Lock()
	u.names = append(u.names, name)
	u.mu.Unlock()
	return poe.Attachment{URL: "https://pfst.cf2.poecdn.net/base/" + name, ContentType: contentType, Name: name}, nil
}

func newTestRouter(backend *fakeBackend, overrides ...config.ModelConfig) (*gin.Engine, *fakeUploader) {
	gin.SetMode(gin.TestMode)
	uploader := &fakeUploader{}
	uploads := upload.NewService(config.UploadConfig{MaxFileSizeMB: 1}, uploader, nil)
	base := handlers.NewBaseAPIHandlers(&config.SDKConfig{}, backend, registry.NewCatalog(overrides), nil)
	h := NewOpenAIAPIHandler(base, uploads, nil)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.GET("/models", h.OpenAIModels)
	v1.GET("/models/:model", h.OpenAIModel)
	v1.POST("/chat/completions", h.ChatCompletions)
	v1.POST("/completions", h.Completions)
	v1.POST("/moderations", h.Moderations)
	v1.POST("/files", h.CreateFile)
	v1.POST("/files/upload", h.UploadFiles)
	v1.GET("/files", h.ListFiles)
	v1.GET("/files/:id", h.GetFile)
	v1.DELETE("/files/:id", h.DeleteFile)
	return r, uploader
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// sseData returns the data payloads of an event stream in order.
func sseData(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		if payload, ok := strings.CutPrefix(block, "data: "); ok {
			out = append(out, payload)
		}
	}
	return out
}

func textEvents(parts ...string) []poe.Event {
	out := make([]poe.Event, 0, len(parts))
	for _, p := range parts {
		out = append(out, poe.TextEvent(p))
	}
	return out
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	backend := &fakeBackend{events: textEvents("Hello ", "world")}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/chat/completions", `{"model":"gpt-4o","messages":[{"role":"user","content":"Say hello to the world"}],"temperature":0.2,"stop":"END"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if got := gjson.Get(body, "choices.0.message.content").String(); got != "Hello world" {
		t.Fatalf("content = %q", got)
	}
	id := gjson.Get(body, "id").String()
	if !strings.HasPrefix(id, "chatcmpl-") || len(id) != len("chatcmpl-")+29 {
		t.Fatalf("unexpected id %q", id)
	}
	if got := gjson.Get(body, "choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish_reason = %q", got)
	}
	if got := gjson.Get(body, "usage.prompt_tokens").Int(); got != 3 {
		t.Fatalf("prompt_tokens = %d, want 3", got)
	}
	if got := gjson.Get(body, "usage.completion_tokens").Int(); got != 1 {
		t.Fatalf("completion_tokens = %d, want 1", got)
	}

	query := backend.lastQuery(t)
	if query.Bot != "gpt-4o" {
		t.Fatalf("bot = %q", query.Bot)
	}
	if query.Temperature == nil || *query.Temperature != 0.2 {
		t.Fatalf("temperature not forwarded: %v", query.Temperature)
	}
	if len(query.StopSequences) != 1 || query.StopSequences[0] != "END" {
		t.Fatalf("stop sequences = %v", query.StopSequences)
	}
	if len(query.Tools) != 0 {
		t.Fatalf("tools should not be sent to a bot without native support")
	}
}

func TestChatCompletionsStreamingReasoning(t *testing.T) {
	backend := &fakeBackend{events: textEvents("Thinking...", "Thinking...", "Thinking...", "The answer is 4")}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/chat/completions", `{"model":"o3","stream":true,"messages":[{"role":"user","content":"2+2?"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	data := sseData(rec.Body.String())
	if len(data) != 5 {
		t.Fatalf("expected 5 events, got %d: %q", len(data), data)
	}
	want := []string{"*Thinking...*", "\n\n", "The answer is 4"}
	for i, w := range want {
		if got := gjson.Get(data[i], "choices.0.delta.content").String(); got != w {
			t.Fatalf("chunk %d content = %q, want %q", i, got, w)
		}
	}
	if got := gjson.Get(data[3], "choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish_reason = %q", got)
	}
	if data[4] != "[DONE]" {
		t.Fatalf("last event = %q, want [DONE]", data[4])
	}
}

func TestChatCompletionsInlineToolCalls(t *testing.T) {
	backend := &fakeBackend{events: textEvents(
		"Let me check.\n<tool_call>\n<name>get_weather</name>\n",
		"<arguments>{\"city\": \"Paris\"}</arguments>\n</tool_call>",
	)}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/chat/completions", `{
		"model":"gpt-4o",
		"messages":[{"role":"system","content":"Be brief."},{"role":"user","content":"Weather in Paris?"}],
		"tools":[{"type":"function","function":{"name":"get_weather","description":"Current weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}],
		"tool_choice":"required"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if got := gjson.Get(body, "choices.0.finish_reason").String(); got != "tool_calls" {
		t.Fatalf("finish_reason = %q", got)
	}
	call := gjson.Get(body, "choices.0.message.tool_calls.0")
	if call.Get("function.name").String() != "get_weather" {
		t.Fatalf("unexpected call %s", call.Raw)
	}
	if got := gjson.Get(call.Get("function.arguments").String(), "city").String(); got != "Paris" {
		t.Fatalf("arguments = %s", call.Get("function.arguments").String())
	}
	if strings.Contains(gjson.Get(body, "choices.0.message.content").String(), "<tool_call>") {
		t.Fatal("tool call markup leaked into content")
	}

	query := backend.lastQuery(t)
	if len(query.Query) != 2 || query.Query[0].Role != poe.RoleSystem {
		t.Fatalf("unexpected query messages %+v", query.Query)
	}
	system := query.Query[0].Content
	if !strings.Contains(system, `<tool name="get_weather">`) || !strings.Contains(system, "You MUST use at least one tool") {
		t.Fatalf("directive missing from system message: %q", system)
	}
	if !strings.HasSuffix(system, "Be brief.") {
		t.Fatalf("original system text should follow the directive: %q", system)
	}
}

func TestChatCompletionsNativeToolCalls(t *testing.T) {
	backend := &fakeBackend{events: []poe.Event{
		{Kind: poe.EventToolCalls, Data: []byte(`{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}]}`)},
	}}
	r, _ := newTestRouter(backend, config.ModelConfig{ID: "tool-bot", PoeName: "Tool-Bot", NativeTools: true})

	rec := postJSON(r, "/v1/chat/completions", `{
		"model":"tool-bot","stream":true,
		"messages":[{"role":"user","content":"Weather in Paris?"}],
		"tools":[{"type":"function","function":{"name":"get_weather","parameters":{"type":"object"}}}]
	}`)
	data := sseData(rec.Body.String())
	if len(data) != 3 {
		t.Fatalf("expected tool chunk, finish chunk and sentinel, got %q", data)
	}
	if got := gjson.Get(data[0], "choices.0.delta.tool_calls.0.id").String(); got != "call_1" {
		t.Fatalf("call id = %q", got)
	}
	if got := gjson.Get(data[1], "choices.0.finish_reason").String(); got != "tool_calls" {
		t.Fatalf("finish_reason = %q", got)
	}

	query := backend.lastQuery(t)
	if query.Bot != "Tool-Bot" || len(query.Tools) != 1 {
		t.Fatalf("native tools not forwarded: bot=%q tools=%d", query.Bot, len(query.Tools))
	}
	if strings.Contains(query.Query[0].Content, "<tools>") {
		t.Fatal("native bots must not receive the inline directive")
	}
}

func TestChatCompletionsRejectsBeforeBackend(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType string
	}{
		{"unknown model", `{"model":"no-such-bot","messages":[{"role":"user","content":"hi"}]}`, "invalid_request_error"},
		{"empty conversation", `{"model":"gpt-4o","messages":[]}`, "invalid_request_error"},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, "invalid_request_error"},
		{"invalid json", `{"model":`, "invalid_request_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{events: textEvents("unused")}
			r, _ := newTestRouter(backend)
			rec := postJSON(r, "/v1/chat/completions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			if got := gjson.Get(rec.Body.String(), "error.type").String(); got != tt.wantType {
				t.Fatalf("error.type = %q", got)
			}
			if backend.calls() != 0 {
				t.Fatal("backend must not be called for rejected requests")
			}
		})
	}
}

func TestChatCompletionsUnsupportedContentType(t *testing.T) {
	r, _ := newTestRouter(&fakeBackend{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatCompletionsBackendErrorNonStreaming(t *testing.T) {
	backend := &fakeBackend{events: []poe.Event{
		poe.ErrorEvent(&poe.StatusError{Code: http.StatusTooManyRequests, Message: "Rate limit exceeded"}),
	}}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/chat/completions", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "error.message").String(); got != "Rate limit exceeded" {
		t.Fatalf("message = %q", got)
	}
	if got := gjson.Get(rec.Body.String(), "error.type").String(); got != "rate_limit_error" {
		t.Fatalf("type = %q", got)
	}
}

func TestChatCompletionsBackendErrorStreaming(t *testing.T) {
	backend := &fakeBackend{events: []poe.Event{
		poe.TextEvent("partial"),
		poe.ErrorEvent(&poe.StatusError{Code: http.StatusBadGateway, Message: "bot crashed"}),
		poe.TextEvent("never sent"),
	}}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/chat/completions", `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	data := sseData(rec.Body.String())
	if len(data) != 3 {
		t.Fatalf("expected content, error and sentinel, got %q", data)
	}
	if got := gjson.Get(data[1], "error.message").String(); got != "bot crashed" {
		t.Fatalf("error chunk = %s", data[1])
	}
	if data[2] != "[DONE]" {
		t.Fatalf("last event = %q", data[2])
	}
	if strings.Count(rec.Body.String(), "[DONE]") != 1 {
		t.Fatal("sentinel must be sent exactly once")
	}
}

func TestChatCompletionsPromptEmulation(t *testing.T) {
	backend := &fakeBackend{events: textEvents(`{"ok":true}`)}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/chat/completions", `{
		"model":"gpt-4o","max_tokens":50,"response_format":{"type":"json_object"},
		"messages":[{"role":"user","content":"Reply with JSON"}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	query := backend.lastQuery(t)
	if len(query.Query) != 2 || query.Query[0].Role != poe.RoleSystem {
		t.Fatalf("expected an inserted system message, got %+v", query.Query)
	}
	system := query.Query[0].Content
	if !strings.HasPrefix(system, "You must respond with valid JSON only.") {
		t.Fatalf("response_format instruction missing: %q", system)
	}
	if !strings.HasSuffix(system, "\nIMPORTANT: Keep your response under 50 tokens.") {
		t.Fatalf("max_tokens instruction missing: %q", system)
	}
}

func TestChatCompletionsMultipart(t *testing.T) {
	backend := &fakeBackend{events: textEvents("It is a note.")}
	r, uploader := newTestRouter(backend)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("request", `{"model":"gpt-4o","messages":[{"role":"system","content":"sys"},{"role":"user","content":"What is this?"}]}`)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="files"; filename="note.txt"`)
	header.Set("Content-Type", "text/plain")
	part, _ := mw.CreatePart(header)
	_, _ = part.Write([]byte("remember the milk"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(uploader.names) != 1 || uploader.names[0] != "note.txt" {
		t.Fatalf("uploads = %v", uploader.names)
	}
	query := backend.lastQuery(t)
	if len(query.Query[0].Attachments) != 0 || len(query.Query[1].Attachments) != 1 {
		t.Fatalf("attachment should land on the user message: %+v", query.Query)
	}
}

func TestChatCompletionsMultipartMissingRequest(t *testing.T) {
	r, _ := newTestRouter(&fakeBackend{})
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestModels(t *testing.T) {
	r, _ := newTestRouter(&fakeBackend{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	body := rec.Body.String()
	if gjson.Get(body, "object").String() != "list" {
		t.Fatalf("unexpected body %s", body)
	}
	found := false
	for _, m := range gjson.Get(body, "data").Array() {
		if m.Get("id").String() == "openai-gpt-4o" && m.Get("owned_by").String() == "poe" {
			found = true
		}
	}
	if !found {
		t.Fatalf("openai-gpt-4o missing from %s", body)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCompletions(t *testing.T) {
	backend := &fakeBackend{events: textEvents("Once upon a time")}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/completions", `{"model":"gpt-4o","prompt":"Tell me a story"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if gjson.Get(body, "object").String() != "text_completion" {
		t.Fatalf("object = %s", gjson.Get(body, "object").String())
	}
	if !strings.HasPrefix(gjson.Get(body, "id").String(), "cmpl-") {
		t.Fatalf("id = %s", gjson.Get(body, "id").String())
	}
	if got := gjson.Get(body, "choices.0.text").String(); got != "Once upon a time" {
		t.Fatalf("text = %q", got)
	}
	query := backend.lastQuery(t)
	if len(query.Query) != 1 || query.Query[0].Role != poe.RoleUser || query.Query[0].Content != "Tell me a story" {
		t.Fatalf("unexpected query %+v", query.Query)
	}
}

func TestCompletionsStreaming(t *testing.T) {
	r, _ := newTestRouter(&fakeBackend{events: textEvents("Once ", "upon")})

	rec := postJSON(r, "/v1/completions", `{"model":"gpt-4o","prompt":"Tell me a story","stream":true}`)
	data := sseData(rec.Body.String())
	if len(data) != 4 {
		t.Fatalf("events = %q", data)
	}
	if got := gjson.Get(data[0], "choices.0.text").String(); got != "Once " {
		t.Fatalf("first text = %q", got)
	}
	if gjson.Get(data[0], "object").String() != "text_completion" {
		t.Fatalf("object = %s", data[0])
	}
	if got := gjson.Get(data[2], "choices.0.finish_reason").String(); got != "stop" {
		t.Fatalf("finish_reason = %q", got)
	}
	if data[3] != "[DONE]" {
		t.Fatalf("last event = %q", data[3])
	}
}

func TestConvertChatChunkSkipsEmptyDeltas(t *testing.T) {
	empty := []byte(`{"id":"x","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":null}]}`)
	if out := convertChatCompletionsStreamChunkToCompletions(empty); out != nil {
		t.Fatalf("expected nil, got %s", out)
	}
}

func TestModerations(t *testing.T) {
	backend := &fakeBackend{events: textEvents("```json\n{\"flagged\": true, \"hate\": true, \"violence\": false}\n```")}
	r, _ := newTestRouter(backend)

	rec := postJSON(r, "/v1/moderations", `{"input":["first","second"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.HasPrefix(gjson.Get(body, "id").String(), "modr-") {
		t.Fatalf("id = %s", gjson.Get(body, "id").String())
	}
	if gjson.Get(body, "model").String() != "text-moderation-latest" {
		t.Fatalf("model = %s", gjson.Get(body, "model").String())
	}
	if n := gjson.Get(body, "results.#").Int(); n != 2 {
		t.Fatalf("results = %d", n)
	}
	first := gjson.Get(body, "results.0")
	if !first.Get("flagged").Bool() || !first.Get("categories.hate").Bool() {
		t.Fatalf("unexpected result %s", first.Raw)
	}
	if got := first.Get(`category_scores.hate`).Float(); got != flaggedScore {
		t.Fatalf("hate score = %v", got)
	}
	if got := first.Get(`categories.sexual/minors`).Exists(); !got {
		t.Fatalf("fixed categories missing: %s", first.Raw)
	}
	if backend.lastQuery(t).Bot != moderationBot {
		t.Fatalf("moderation bot = %q", backend.lastQuery(t).Bot)
	}
}

func TestParseModerationFallback(t *testing.T) {
	res := parseModeration("This content is inappropriate.")
	if res["flagged"] != true {
		t.Fatalf("keyword fallback should flag, got %v", res)
	}
	categories := res["categories"].(map[string]bool)
	for name, v := range categories {
		if v {
			t.Fatalf("category %s should be false in fallback", name)
		}
	}
	if parseModeration("All good.")["flagged"] != false {
		t.Fatal("benign answer should not be flagged")
	}
}

func TestFilesLifecycle(t *testing.T) {
	r, uploader := newTestRouter(&fakeBackend{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("purpose", "assistants")
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="data.csv"`)
	header.Set("Content-Type", "text/csv")
	part, _ := mw.CreatePart(header)
	_, _ = part.Write([]byte("a,b\n1,2\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	id := gjson.Get(rec.Body.String(), "id").String()
	if !strings.HasPrefix(id, "file-") || gjson.Get(rec.Body.String(), "filename").String() != "data.csv" {
		t.Fatalf("unexpected file object %s", rec.Body.String())
	}
	if len(uploader.names) != 1 {
		t.Fatalf("uploads = %v", uploader.names)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/files", nil))
	if n := gjson.Get(rec.Body.String(), "data.#").Int(); n != 1 {
		t.Fatalf("list has %d files", n)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/files/"+id, nil))
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "bytes").Int() != 8 {
		t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/files/"+id, nil))
	if rec.Code != http.StatusOK || !gjson.Get(rec.Body.String(), "deleted").Bool() {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/files/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted file status = %d", rec.Code)
	}
}

func TestCreateFileRejectsUnsupportedType(t *testing.T) {
	r, uploader := newTestRouter(&fakeBackend{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="tool.exe"`)
	header.Set("Content-Type", "application/x-msdownload")
	part, _ := mw.CreatePart(header)
	_, _ = part.Write([]byte("MZ"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(uploader.names) != 0 {
		t.Fatal("rejected file must not be uploaded")
	}
}
