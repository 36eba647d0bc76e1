package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cognition-sh/cognition/internal/logging"
	"github.com/cognition-sh/cognition/pkg/types"
)

// Registry holds every Provider the server has constructed, keyed by ID.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.AppConfig
}

// NewRegistry creates an empty Registry.
func NewRegistry(config *types.AppConfig) *Registry {
	return &Registry{providers: make(map[string]Provider), config: config}
}

// Register adds a provider, keyed by its own reported ID.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return p, nil
}

// List returns every registered provider.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// GetModel retrieves one model from a specific provider.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	for _, m := range p.Models() {
		if m.ID == modelID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns every model from every registered provider, ranked by
// modelPriority so a UI listing reads newest/strongest first.
func (r *Registry) AllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var models []types.Model
	for _, p := range r.providers {
		models = append(models, p.Models()...)
	}
	sort.Slice(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})
	return models
}

// DefaultModel resolves the server's configured default model, falling back
// to Claude Sonnet and then to whatever is first registered.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Model != "" {
		providerID, modelID := ParseModelString(r.config.Model)
		return r.GetModel(providerID, modelID)
	}
	if m, err := r.GetModel("anthropic", "claude-sonnet-4-20250514"); err == nil {
		return m, nil
	}
	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString parses the "provider/model" form used in AppConfig.Model
// and SessionConfig.Model.
func ParseModelString(s string) (providerID, modelID string) {
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "gpt-5"):
		return 100
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "claude-3-5"):
		return 75
	default:
		return 50
	}
}

// InitializeProviders constructs and registers a Provider for every entry in
// config.Provider, dispatching on the provider's config key (one of the
// three kinds this server speaks: anthropic, openai-compatible, ark), then
// auto-registers anthropic/openai from ANTHROPIC_API_KEY/OPENAI_API_KEY when
// that provider has no entry (enabled or disabled) in config.Provider. A provider whose construction fails is
// logged and skipped rather than aborting server startup.
func InitializeProviders(ctx context.Context, config *types.AppConfig) (*Registry, error) {
	registry := NewRegistry(config)
	configured := make(map[string]bool)

	for name, cfg := range config.Provider {
		configured[name] = true
		if cfg.Disable {
			continue
		}

		p, err := newConfiguredProvider(ctx, name, cfg)
		if err != nil {
			logging.Logger.Warn().Err(err).Str("provider", name).Msg("provider initialization failed")
			continue
		}
		if p != nil {
			registry.Register(p)
		}
	}

	if !configured["anthropic"] {
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			p, err := NewAnthropicProvider(ctx, &AnthropicConfig{APIKey: apiKey, MaxTokens: 8192})
			if err != nil {
				logging.Logger.Warn().Err(err).Msg("auto-register anthropic provider failed")
			} else {
				registry.Register(p)
				logging.Logger.Info().Msg("auto-registered anthropic provider from ANTHROPIC_API_KEY")
			}
		}
	}

	if !configured["openai"] {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			if p, err := NewOpenAIProvider(ctx, &OpenAIConfig{APIKey: apiKey, MaxTokens: 4096}); err == nil {
				registry.Register(p)
			}
		}
	}

	return registry, nil
}

// newConfiguredProvider dispatches one config.Provider entry to the matching
// constructor by name, since each kind speaks a different wire protocol.
func newConfiguredProvider(ctx context.Context, name string, cfg types.ProviderConfig) (Provider, error) {
	switch name {
	case "anthropic", "claude":
		if cfg.Options.APIKey == "" {
			return nil, nil
		}
		return NewAnthropicProvider(ctx, &AnthropicConfig{
			ID: name, APIKey: cfg.Options.APIKey, BaseURL: cfg.Options.BaseURL, Model: cfg.Model, MaxTokens: 8192,
		})
	case "ark":
		if cfg.Options.APIKey == "" {
			return nil, nil
		}
		return NewArkProvider(ctx, &ArkConfig{
			APIKey: cfg.Options.APIKey, BaseURL: cfg.Options.BaseURL, Model: cfg.Model, MaxTokens: 4096,
		})
	default:
		// Everything else (openai, azure, and self-hosted OpenAI-compatible
		// endpoints) speaks the OpenAI wire protocol.
		if cfg.Options.APIKey == "" && cfg.Options.BaseURL == "" {
			return nil, nil
		}
		return NewOpenAIProvider(ctx, &OpenAIConfig{
			ID: name, APIKey: cfg.Options.APIKey, BaseURL: cfg.Options.BaseURL, Model: cfg.Model, MaxTokens: 4096,
			UseAzure: name == "azure",
		})
	}
}
