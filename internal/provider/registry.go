package provider

// BuildRegistry registers every built-in driver: the OpenAI-compatible
// shape is reused across
// five vendors that all publish a chat-completions-style endpoint, with
// only the base URL differing.
func BuildRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewOpenAICompatibleDriver("openai", "https://api.openai.com/v1"))
	r.Register(NewOpenAICompatibleDriver("xai", "https://api.x.ai/v1"))
	r.Register(NewOpenAICompatibleDriver("deepseek", "https://api.deepseek.com/v1"))
	r.Register(NewOpenAICompatibleDriver("kimi", "https://api.moonshot.cn/v1"))
	r.Register(NewOpenAICompatibleDriver("glm", "https://open.bigmodel.cn/api/paas/v4"))
	r.Register(NewAnthropicDriver())
	r.Register(NewGeminiDriver())
	r.Register(NewOllamaDriver())
	return r
}

// Vendors lists every vendor the engine knows how to call, in the fixed
// order used to group models by provider for sweep-level parallelism.
var Vendors = []string{"openai", "xai", "deepseek", "kimi", "glm", "anthropic", "gemini", "ollama"}
