package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/adapter"
	"github.com/poeproxy/poe-openai-proxy/internal/interfaces"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	"github.com/tidwall/gjson"
)

const (
	// moderationBot is the Poe bot used to classify text.
	moderationBot          = "gpt-4o-mini"
	defaultModerationModel = "text-moderation-latest"

	flaggedScore   = 0.1
	unflaggedScore = 0.01
)

// moderationCategories are the categories the bot is asked to judge, keyed by
// the OpenAI category name with the field name used in the bot's answer.
var moderationCategories = []struct {
	name  string
	field string
}{
	{"hate", "hate"},
	{"harassment", "harassment"},
	{"self-harm", "self_harm"},
	{"sexual", "sexual"},
	{"violence", "violence"},
}

// fixedModerationCategories are reported but never judged.
var fixedModerationCategories = []string{
	"hate/threatening",
	"harassment/threatening",
	"self-harm/intent",
	"self-harm/instructions",
	"sexual/minors",
	"violence/graphic",
}

// fallbackFlagWords flag an answer that is not JSON.
var fallbackFlagWords = []string{"harmful", "inappropriate", "flagged", "true"}

func moderationPrompt(text string) string {
	return "Analyze this text for harmful content. Respond with JSON containing:\n" +
		"- flagged: boolean (true if content is harmful)\n" +
		"- hate: boolean\n" +
		"- harassment: boolean\n" +
		"- self_harm: boolean\n" +
		"- sexual: boolean\n" +
		"- violence: boolean\n\n" +
		"Text to analyze: \"" + text + "\"\n\n" +
		"Respond with only the JSON, no other text."
}

// parseModeration turns the bot's answer into a moderation result. Answers
// that are not JSON are flagged by keyword with every category false.
func parseModeration(answer string) gin.H {
	categories := make(map[string]bool, len(moderationCategories)+len(fixedModerationCategories))
	scores := make(map[string]float64, len(moderationCategories)+len(fixedModerationCategories))
	for _, name := range fixedModerationCategories {
		categories[name] = false
		scores[name] = unflaggedScore
	}

	trimmed := strings.TrimSpace(answer)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	trimmed = strings.TrimSpace(trimmed)

	var flagged bool
	if gjson.Valid(trimmed) && gjson.Parse(trimmed).IsObject() {
		parsed := gjson.Parse(trimmed)
		flagged = parsed.Get("flagged").Bool()
		for _, cat := range moderationCategories {
			v := parsed.Get(cat.field).Bool()
			categories[cat.name] = v
			scores[cat.name] = unflaggedScore
			if v {
				scores[cat.name] = flaggedScore
			}
		}
	} else {
		lower := strings.ToLower(answer)
		for _, word := range fallbackFlagWords {
			if strings.Contains(lower, word) {
				flagged = true
				break
			}
		}
		for _, cat := range moderationCategories {
			categories[cat.name] = false
			scores[cat.name] = unflaggedScore
		}
	}
	return gin.H{
		"flagged":         flagged,
		"categories":      categories,
		"category_scores": scores,
	}
}

// Moderations handles the /v1/moderations endpoint. Moderation is simulated by
// asking a bot to classify each input; it is not a real safety system.
func (h *OpenAIAPIHandler) Moderations(c *gin.Context) {
	start := time.Now()
	const endpoint = "moderations"

	rawJSON, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(rawJSON) {
		h.fail(c, endpoint, "", start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Invalid JSON body.")))
		return
	}
	root := gjson.ParseBytes(rawJSON)
	var inputs []string
	if input := root.Get("input"); input.IsArray() {
		for _, v := range input.Array() {
			inputs = append(inputs, v.String())
		}
	} else if input.Exists() {
		inputs = []string{input.String()}
	}
	if len(inputs) == 0 {
		h.fail(c, endpoint, "", start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Missing required parameter: 'input'.")))
		return
	}
	model := root.Get("model").String()
	if model == "" {
		model = defaultModerationModel
	}

	ctx, cancel := h.GetContextWithCancel(h, c, context.Background())
	logging.Entry(ctx).Warn("Moderation endpoint is simulated using LLM analysis. This is NOT a real content moderation API and should not be used for production safety systems.")

	results := make([]gin.H, 0, len(inputs))
	for _, text := range inputs {
		query, errBuild := h.buildQuery(ctx, moderationBot, []adapter.Message{adapter.TextMessage("user", moderationPrompt(text))}, nil)
		if errBuild != nil {
			h.fail(c, endpoint, model, start, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, errBuild))
			cancel(errBuild)
			return
		}
		res, errMsg := h.Execute(ctx, query, translator.Options{Model: moderationBot})
		if errMsg != nil {
			if errMsg.Kind != interfaces.KindStreamAbort {
				errMsg.Error = fmt.Errorf("Moderation error: %w", errMsg.Error)
			}
			h.fail(c, endpoint, model, start, errMsg)
			cancel(errMsg.Error)
			return
		}
		results = append(results, parseModeration(res.Text))
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      newID("modr-"),
		"model":   model,
		"results": results,
	})
	h.Metrics.ObserveRequest(endpoint, model, http.StatusOK, time.Since(start))
	cancel()
}
