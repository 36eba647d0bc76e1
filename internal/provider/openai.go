package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/cognition-sh/cognition/pkg/types"
)

// OpenAIProvider adapts OpenAI (and OpenAI-compatible/Azure) chat models to
// the Provider interface.
type OpenAIProvider struct {
	baseProvider
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// ID overrides the registry key; defaults to "openai".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	UseAzure   bool
	APIVersion string
}

// NewOpenAIProvider constructs the OpenAI chat model and wraps it.
func NewOpenAIProvider(ctx context.Context, cfg *OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		if cfg.UseAzure {
			apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
		} else {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = "gpt-4o"
	}

	chatCfg := &openai.ChatModelConfig{
		APIKey: apiKey, Model: modelID,
		// GPT-5-family models reject max_tokens in favor of this field.
		MaxCompletionTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		chatCfg.BaseURL = cfg.BaseURL
	}
	if cfg.UseAzure {
		chatCfg.ByAzure = true
		chatCfg.APIVersion = cfg.APIVersion
		if chatCfg.APIVersion == "" {
			chatCfg.APIVersion = "2024-02-15-preview"
		}
	}

	chatModel, err := openai.NewChatModel(ctx, chatCfg)
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}

	id := cfg.ID
	if id == "" {
		id = "openai"
	}
	return &OpenAIProvider{
		baseProvider: baseProvider{id: id, name: "OpenAI", chatModel: chatModel, models: openAIModels()},
	}, nil
}

// CreateCompletion streams a completion from the bound OpenAI chat model.
func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	opts := []model.Option{openai.WithMaxCompletionTokens(req.MaxTokens)}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	return p.stream(ctx, req, opts...)
}

// openAIModels is a representative slice of the GPT catalog.
func openAIModels() []types.Model {
	return []types.Model{
		{
			ID: "gpt-5", Name: "GPT-5", ProviderID: "openai",
			ContextLength: 272000, MaxOutputTokens: 128000, SupportsTools: true,
			SupportsVision: true, SupportsReasoning: true, InputPrice: 1.25, OutputPrice: 10.0,
		},
		{
			ID: "gpt-4o", Name: "GPT-4o", ProviderID: "openai",
			ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true,
			SupportsVision: true, InputPrice: 2.5, OutputPrice: 10.0,
		},
		{
			ID: "gpt-4o-mini", Name: "GPT-4o Mini", ProviderID: "openai",
			ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true,
			SupportsVision: true, InputPrice: 0.15, OutputPrice: 0.6,
		},
	}
}
