package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/claude"

	"github.com/cognition-sh/cognition/pkg/types"
)

// AnthropicProvider adapts Anthropic's Claude models to the Provider
// interface. The core never sees a Claude-specific type: every turn it
// drives talks to this through CreateCompletion's opaque CompletionStream.
type AnthropicProvider struct {
	baseProvider
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// ID overrides the registry key (e.g. for a renamed or Bedrock-routed
	// deployment); defaults to "anthropic".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	Thinking *claude.Thinking

	UseBedrock bool
	Region     string
	Profile    string
}

// NewAnthropicProvider constructs the Claude chat model and wraps it.
func NewAnthropicProvider(ctx context.Context, cfg *AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" && !cfg.UseBedrock {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}

	var chatModel model.ToolCallingChatModel
	var err error
	if cfg.UseBedrock {
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			ByBedrock: true,
			Region:    cfg.Region,
			Profile:   cfg.Profile,
			Model:     "anthropic." + modelID + "-v1:0",
			MaxTokens: cfg.MaxTokens,
			Thinking:  cfg.Thinking,
		})
	} else {
		claudeCfg := &claude.Config{
			APIKey:    apiKey,
			Model:     modelID,
			MaxTokens: cfg.MaxTokens,
			Thinking:  cfg.Thinking,
		}
		if cfg.BaseURL != "" {
			claudeCfg.BaseURL = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, claudeCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("create claude chat model: %w", err)
	}

	id := cfg.ID
	if id == "" {
		id = "anthropic"
	}
	return &AnthropicProvider{
		baseProvider: baseProvider{id: id, name: "Anthropic", chatModel: chatModel, models: anthropicModels()},
	}, nil
}

// CreateCompletion streams a completion from the bound Claude chat model.
func (p *AnthropicProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	return p.stream(ctx, req,
		model.WithMaxTokens(req.MaxTokens),
		model.WithTemperature(float32(req.Temperature)),
	)
}

// anthropicModels is a representative slice of the Claude catalog; the core
// only needs enough to route a session's provider/model selection, not an
// exhaustive price sheet.
func anthropicModels() []types.Model {
	return []types.Model{
		{
			ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ProviderID: "anthropic",
			ContextLength: 200000, MaxOutputTokens: 64000, SupportsTools: true, SupportsVision: true,
			InputPrice: 3.0, OutputPrice: 15.0,
			Options: types.ModelOptions{PromptCaching: true, ExtendedOutput: true},
		},
		{
			ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ProviderID: "anthropic",
			ContextLength: 200000, MaxOutputTokens: 32000, SupportsTools: true, SupportsVision: true,
			SupportsReasoning: true, InputPrice: 15.0, OutputPrice: 75.0,
			Options: types.ModelOptions{PromptCaching: true},
		},
		{
			ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ProviderID: "anthropic",
			ContextLength: 200000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true,
			InputPrice: 0.8, OutputPrice: 4.0,
		},
	}
}
