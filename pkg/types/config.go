package types

// AppConfig is the provider/model configuration loaded by internal/config.
// It is distinct from a Session's SessionConfig: AppConfig is server-wide,
// SessionConfig is the per-session override layered on top of it.
type AppConfig struct {
	Model      string                     `json:"model,omitempty"`      // "anthropic/claude-sonnet-4"
	SmallModel string                     `json:"smallModel,omitempty"` // used for title generation, cheap tasks
	Provider   map[string]ProviderConfig  `json:"provider,omitempty"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	Model   string          `json:"model,omitempty"`
	Disable bool            `json:"disable,omitempty"`
	Options ProviderOptions `json:"options,omitempty"`
}

// ProviderOptions carries provider credentials.
type ProviderOptions struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ProviderID        string       `json:"providerID"`
	ContextLength     int          `json:"contextLength"`
	MaxOutputTokens   int          `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool         `json:"supportsTools"`
	SupportsVision    bool         `json:"supportsVision"`
	SupportsReasoning bool         `json:"supportsReasoning,omitempty"`
	InputPrice        float64      `json:"inputPrice,omitempty"`  // per 1M tokens
	OutputPrice       float64      `json:"outputPrice,omitempty"` // per 1M tokens
	Options           ModelOptions `json:"options,omitempty"`
}

// ModelOptions contains model-specific options.
type ModelOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`
	PromptCaching  bool     `json:"promptCaching,omitempty"`
	ExtendedOutput bool     `json:"extendedOutput,omitempty"`
}

// ModelRef identifies a provider+model pair, used for per-message overrides.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}
