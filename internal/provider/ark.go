package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/cognition-sh/cognition/pkg/types"
)

// ArkProvider adapts Volcengine's ARK platform to the Provider interface.
type ArkProvider struct {
	baseProvider
}

// ArkConfig configures an ArkProvider.
type ArkConfig struct {
	APIKey    string
	BaseURL   string
	Model     string // endpoint ID on the ARK platform
	MaxTokens int
}

// NewArkProvider constructs the ARK chat model and wraps it.
func NewArkProvider(ctx context.Context, cfg *ArkConfig) (*ArkProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ARK_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ARK_API_KEY not set")
	}

	endpointID := cfg.Model
	if endpointID == "" {
		endpointID = os.Getenv("ARK_MODEL_ID")
	}
	if endpointID == "" {
		return nil, fmt.Errorf("ARK_MODEL_ID not set")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ARK_BASE_URL")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	arkCfg := &ark.ChatModelConfig{APIKey: apiKey, Model: endpointID, MaxTokens: &maxTokens}
	if baseURL != "" {
		arkCfg.BaseURL = baseURL
	}

	chatModel, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}

	return &ArkProvider{
		baseProvider: baseProvider{id: "ark", name: "ARK", chatModel: chatModel, models: arkModels(endpointID)},
	}, nil
}

// CreateCompletion streams a completion from the bound ARK chat model.
func (p *ArkProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	return p.stream(ctx, req,
		model.WithMaxTokens(req.MaxTokens),
		model.WithTemperature(float32(req.Temperature)),
	)
}

// arkModels reports the single endpoint-bound model ARK exposes; pricing is
// endpoint-specific and not known ahead of time.
func arkModels(endpointID string) []types.Model {
	return []types.Model{
		{
			ID: endpointID, Name: "ARK Model", ProviderID: "ark",
			ContextLength: 128000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true,
		},
	}
}
