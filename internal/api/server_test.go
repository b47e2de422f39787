package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/metrics"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	"github.com/tidwall/gjson"
)

type echoBackend struct{}

func (echoBackend) Stream(ctx context.Context, req poe.QueryRequest) <-chan poe.Event {
	out := make(chan poe.Event, 1)
	out <- poe.TextEvent("echo from " + req.Bot)
	close(out)
	return out
}

type nopUploader struct{}

func (nopUploader) Upload(ctx context.Context, name, contentType string, data []byte) (poe.Attachment, error) {
	return poe.Attachment{URL: "https://example.invalid/" + name, ContentType: contentType, Name: name}, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Metrics.Enable = true
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()
	uploads := upload.NewService(cfg.Upload, nopUploader{}, nil)
	return NewServer(cfg, echoBackend{}, uploads, metrics.NewCollector(nil), nil), cfg
}

func do(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestRootAndHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "message").String() != serviceBanner {
		t.Fatalf("root: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(s, http.MethodGet, "/health", "", nil)
	body := rec.Body.String()
	if gjson.Get(body, "status").String() != "healthy" || gjson.Get(body, "timestamp").Int() == 0 {
		t.Fatalf("health body = %s", body)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) { cfg.APIKeys = []string{"secret"} })

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"x-api-key", map[string]string{"X-Api-Key": "secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodGet, "/v1/models", "", tt.headers)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := do(s, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health must not require a key, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}
	})

	if rec := do(s, http.MethodGet, "/v1/models", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := do(s, http.MethodGet, "/v1/models", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestChatRouteAndMetrics(t *testing.T) {
	s, cfg := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "choices.0.message.content").String(); got != "echo from gpt-4o" {
		t.Fatalf("content = %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}

	rec = do(s, http.MethodGet, cfg.Metrics.Path, "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "poe_proxy_requests_total") {
		t.Fatalf("metrics: status=%d", rec.Code)
	}

	next := *cfg
	next.Metrics.Enable = false
	s.UpdateClients(&next)
	if rec = do(s, http.MethodGet, cfg.Metrics.Path, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled metrics status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(s, http.MethodOptions, "/v1/chat/completions", "", map[string]string{
		"Origin":                         "https://app.example",
		"Access-Control-Request-Headers": "authorization, content-type",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "authorization, content-type" {
		t.Fatalf("allow headers = %q", got)
	}
}

func TestUpdateClientsReloadsCatalogAndKeys(t *testing.T) {
	s, cfg := newTestServer(t, nil)

	if rec := do(s, http.MethodGet, "/v1/models/team-bot", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown model status = %d", rec.Code)
	}

	next := *cfg
	next.Models = []config.ModelConfig{{ID: "team-bot", PoeName: "TeamBot"}}
	next.APIKeys = []string{"k1"}
	s.UpdateClients(&next)

	rec := do(s, http.MethodGet, "/v1/models/team-bot", "", map[string]string{"Authorization": "Bearer k1"})
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "id").String() != "team-bot" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec = do(s, http.MethodGet, "/v1/models", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("reloaded keys not enforced, status = %d", rec.Code)
	}
}
