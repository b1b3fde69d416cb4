// Built-in model table and aliases.
//
// Prices are USD per million tokens. Context windows and output caps follow
// the provider documentation at the time of writing; they gate chain
// filtering, not billing, so staleness degrades gracefully.
package catalog

// builtinModels is the shipped catalog: seven provider families plus the
// synthetic auto entry.
var builtinModels = []Model{
	// Synthetic router entry. Zero price, never forwarded.
	{ID: AutoModelID, DisplayName: "Auto (classify and pick)", Family: "blockrun",
		ContextWindow: 2_000_000, MaxOutput: 0},

	// OpenAI
	{ID: "openai/gpt-4o", DisplayName: "GPT-4o", Family: "openai",
		InputPerMTok: 2.5, OutputPerMTok: 10, ContextWindow: 128_000, MaxOutput: 16_384,
		Caps: Capabilities{Vision: true, Agentic: true, Tools: true}},
	{ID: "openai/gpt-4o-mini", DisplayName: "GPT-4o mini", Family: "openai",
		InputPerMTok: 0.15, OutputPerMTok: 0.6, ContextWindow: 128_000, MaxOutput: 16_384,
		Caps: Capabilities{Vision: true, Tools: true}},
	{ID: "openai/gpt-4.1", DisplayName: "GPT-4.1", Family: "openai",
		InputPerMTok: 2, OutputPerMTok: 8, ContextWindow: 1_000_000, MaxOutput: 32_768,
		Caps: Capabilities{Vision: true, Agentic: true, Tools: true}},
	{ID: "openai/gpt-4.1-mini", DisplayName: "GPT-4.1 mini", Family: "openai",
		InputPerMTok: 0.4, OutputPerMTok: 1.6, ContextWindow: 1_000_000, MaxOutput: 32_768,
		Caps: Capabilities{Vision: true, Tools: true}},
	{ID: "openai/gpt-4.1-nano", DisplayName: "GPT-4.1 nano", Family: "openai",
		InputPerMTok: 0.1, OutputPerMTok: 0.4, ContextWindow: 1_000_000, MaxOutput: 32_768,
		Caps: Capabilities{Tools: true}},
	{ID: "openai/o3", DisplayName: "o3", Family: "openai",
		InputPerMTok: 2, OutputPerMTok: 8, ContextWindow: 200_000, MaxOutput: 100_000,
		Caps: Capabilities{Reasoning: true, Vision: true, Tools: true}},
	{ID: "openai/o4-mini", DisplayName: "o4-mini", Family: "openai",
		InputPerMTok: 1.1, OutputPerMTok: 4.4, ContextWindow: 200_000, MaxOutput: 100_000,
		Caps: Capabilities{Reasoning: true, Tools: true}},

	// Anthropic
	{ID: "anthropic/claude-opus-4", DisplayName: "Claude Opus 4", Family: "anthropic",
		InputPerMTok: 15, OutputPerMTok: 75, ContextWindow: 200_000, MaxOutput: 32_000,
		Caps: Capabilities{Reasoning: true, Vision: true, Agentic: true, Tools: true}},
	{ID: "anthropic/claude-sonnet-4", DisplayName: "Claude Sonnet 4", Family: "anthropic",
		InputPerMTok: 3, OutputPerMTok: 15, ContextWindow: 200_000, MaxOutput: 64_000,
		Caps: Capabilities{Reasoning: true, Vision: true, Agentic: true, Tools: true}},
	{ID: "anthropic/claude-3-5-sonnet", DisplayName: "Claude 3.5 Sonnet", Family: "anthropic",
		InputPerMTok: 3, OutputPerMTok: 15, ContextWindow: 200_000, MaxOutput: 8_192,
		Caps: Capabilities{Vision: true, Agentic: true, Tools: true}},
	{ID: "anthropic/claude-3-5-haiku", DisplayName: "Claude 3.5 Haiku", Family: "anthropic",
		InputPerMTok: 0.8, OutputPerMTok: 4, ContextWindow: 200_000, MaxOutput: 8_192,
		Caps: Capabilities{Tools: true}},
	{ID: "anthropic/claude-3-haiku", DisplayName: "Claude 3 Haiku", Family: "anthropic",
		InputPerMTok: 0.25, OutputPerMTok: 1.25, ContextWindow: 200_000, MaxOutput: 4_096,
		Caps: Capabilities{Tools: true}},

	// Google
	{ID: "google/gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Family: "google",
		InputPerMTok: 1.25, OutputPerMTok: 10, ContextWindow: 1_048_576, MaxOutput: 65_536,
		Caps: Capabilities{Reasoning: true, Vision: true, Agentic: true, Tools: true}},
	{ID: "google/gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Family: "google",
		InputPerMTok: 0.3, OutputPerMTok: 2.5, ContextWindow: 1_048_576, MaxOutput: 65_536,
		Caps: Capabilities{Vision: true, Tools: true}},
	{ID: "google/gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", Family: "google",
		InputPerMTok: 0.1, OutputPerMTok: 0.4, ContextWindow: 1_048_576, MaxOutput: 8_192,
		Caps: Capabilities{Vision: true, Tools: true}},
	{ID: "google/gemini-2.0-flash-lite", DisplayName: "Gemini 2.0 Flash-Lite", Family: "google",
		InputPerMTok: 0.075, OutputPerMTok: 0.3, ContextWindow: 1_048_576, MaxOutput: 8_192,
		Caps: Capabilities{Tools: true}},

	// DeepSeek
	{ID: "deepseek/deepseek-chat", DisplayName: "DeepSeek V3", Family: "deepseek",
		InputPerMTok: 0.27, OutputPerMTok: 1.1, ContextWindow: 64_000, MaxOutput: 8_192,
		Caps: Capabilities{Tools: true}},
	{ID: "deepseek/deepseek-reasoner", DisplayName: "DeepSeek R1", Family: "deepseek",
		InputPerMTok: 0.55, OutputPerMTok: 2.19, ContextWindow: 64_000, MaxOutput: 8_192,
		Caps: Capabilities{Reasoning: true}},

	// Meta (hosted)
	{ID: "meta/llama-3.3-70b", DisplayName: "Llama 3.3 70B", Family: "meta",
		InputPerMTok: 0.59, OutputPerMTok: 0.79, ContextWindow: 128_000, MaxOutput: 8_192,
		Caps: Capabilities{Tools: true}},
	{ID: "meta/llama-3.1-8b", DisplayName: "Llama 3.1 8B", Family: "meta",
		InputPerMTok: 0.05, OutputPerMTok: 0.08, ContextWindow: 128_000, MaxOutput: 8_192,
		Caps: Capabilities{}},
	{ID: "meta/llama-4-maverick", DisplayName: "Llama 4 Maverick", Family: "meta",
		InputPerMTok: 0.2, OutputPerMTok: 0.6, ContextWindow: 1_000_000, MaxOutput: 8_192,
		Caps: Capabilities{Vision: true, Tools: true}},

	// Mistral
	{ID: "mistral/mistral-large", DisplayName: "Mistral Large", Family: "mistral",
		InputPerMTok: 2, OutputPerMTok: 6, ContextWindow: 128_000, MaxOutput: 8_192,
		Caps: Capabilities{Agentic: true, Tools: true}},
	{ID: "mistral/mistral-small", DisplayName: "Mistral Small", Family: "mistral",
		InputPerMTok: 0.1, OutputPerMTok: 0.3, ContextWindow: 128_000, MaxOutput: 8_192,
		Caps: Capabilities{Tools: true}},
	{ID: "mistral/codestral", DisplayName: "Codestral", Family: "mistral",
		InputPerMTok: 0.3, OutputPerMTok: 0.9, ContextWindow: 256_000, MaxOutput: 8_192,
		Caps: Capabilities{Agentic: true, Tools: true}},

	// xAI
	{ID: "xai/grok-3", DisplayName: "Grok 3", Family: "xai",
		InputPerMTok: 3, OutputPerMTok: 15, ContextWindow: 131_072, MaxOutput: 16_384,
		Caps: Capabilities{Reasoning: true, Tools: true}},
	{ID: "xai/grok-3-mini", DisplayName: "Grok 3 mini", Family: "xai",
		InputPerMTok: 0.3, OutputPerMTok: 0.5, ContextWindow: 131_072, MaxOutput: 16_384,
		Caps: Capabilities{Reasoning: true, Tools: true}},
}

// builtinAliases maps short human names to concrete ids.
// Keys are matched after trim+lowercase.
var builtinAliases = map[string]string{
	"gpt-4o":            "openai/gpt-4o",
	"gpt-4o-mini":       "openai/gpt-4o-mini",
	"gpt-4.1":           "openai/gpt-4.1",
	"o3":                "openai/o3",
	"o4-mini":           "openai/o4-mini",
	"opus":              "anthropic/claude-opus-4",
	"sonnet":            "anthropic/claude-sonnet-4",
	"haiku":             "anthropic/claude-3-5-haiku",
	"claude":            "anthropic/claude-sonnet-4",
	"gemini":            "google/gemini-2.5-pro",
	"gemini-pro":        "google/gemini-2.5-pro",
	"gemini-flash":      "google/gemini-2.5-flash",
	"flash":             "google/gemini-2.5-flash",
	"deepseek":          "deepseek/deepseek-chat",
	"r1":                "deepseek/deepseek-reasoner",
	"deepseek-reasoner": "deepseek/deepseek-reasoner",
	"llama":             "meta/llama-3.3-70b",
	"mistral":           "mistral/mistral-large",
	"codestral":         "mistral/codestral",
	"grok":              "xai/grok-3",
}

// Builtin returns the shipped catalog.
func Builtin() *Catalog {
	c, err := New(builtinModels, builtinAliases)
	if err != nil {
		// The builtin table is validated by tests; a failure here is a
		// programmer error.
		panic(err)
	}
	return c
}
