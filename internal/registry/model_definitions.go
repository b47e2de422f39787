// Package registry holds the catalog of Poe bots exposed as OpenAI models.
// The built-in definitions can be extended or overridden from configuration.
package registry

// ModelInfo describes one model offered to clients.
type ModelInfo struct {
	// ID is the catalog key, e.g. "gpt-4o".
	ID string `json:"-"`
	// ClientName is the identifier advertised through /v1/models.
	ClientName string `json:"id"`
	// PoeName is the bot name used in the Poe protocol path.
	PoeName string `json:"-"`
	// Reasoning marks bots that stream a "Thinking..." trace before the answer.
	Reasoning bool `json:"-"`
	// NativeTools marks bots that accept protocol-level tool definitions.
	NativeTools bool `json:"-"`
	// OwnedBy is reported in the models listing.
	OwnedBy string `json:"owned_by"`
}

func def(id, vendor string, reasoning bool) *ModelInfo {
	client := id
	if vendor != "" {
		client = vendor + "-" + id
	}
	return &ModelInfo{ID: id, ClientName: client, PoeName: id, Reasoning: reasoning, OwnedBy: "poe"}
}

// builtinModels returns the default catalog in display order.
func builtinModels() []*ModelInfo {
	return []*ModelInfo{
		def("gpt-4o", "openai", false),
		def("gpt-4.1", "openai", false),
		def("gpt-4.1-nano", "openai", false),
		def("gpt-4.1-mini", "openai", false),
		def("o3-mini-high", "openai", true),
		def("o3", "openai", true),
		def("o3-pro", "openai", true),
		def("o4-mini", "openai", true),

		def("claude-3.7-sonnet", "anthropic", false),
		def("claude-3.7-sonnet-reasoning", "anthropic", true),
		def("claude-3.7-sonnet-search", "anthropic", false),
		def("claude-opus-4", "anthropic", false),
		def("claude-sonnet-4", "anthropic", false),
		def("claude-opus-4-reasoning", "anthropic", true),
		def("claude-sonnet-4-reasoning", "anthropic", true),

		def("gemini-2.5-pro-preview", "google", true),
		def("gemini-2.5-flash-preview", "google", false),
		def("gemini-2.0", "google", false),

		def("llama-4-maverick", "meta", true),

		def("deepseek-r1", "", true),

		def("grok-3-mini", "xai", true),
		def("grok-3", "xai", true),

		def("perplexity-sonar-reasoning", "", true),
	}
}
