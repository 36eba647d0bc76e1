// Package provider adapts Large Language Model APIs to a single Provider
// interface, so the rest of the server treats every model as an opaque
// streaming chat endpoint.
//
// # Core Components
//
//   - Provider: the interface every LLM backend implements
//   - baseProvider: the shared ID/Name/Models/ChatModel/stream plumbing that
//     AnthropicProvider, OpenAIProvider, and ArkProvider embed
//   - Registry: looks providers and models up by ID, resolves the server's
//     default model
//   - CompletionRequest/CompletionStream: the streaming completion contract
//
// # Supported providers
//
// Anthropic (Claude), direct API or AWS Bedrock:
//
//	p, err := NewAnthropicProvider(ctx, &AnthropicConfig{
//	    APIKey: "sk-...", Model: "claude-sonnet-4-20250514", MaxTokens: 8192,
//	})
//
// OpenAI, and anything speaking its wire protocol (Azure OpenAI,
// self-hosted OpenAI-compatible servers):
//
//	p, err := NewOpenAIProvider(ctx, &OpenAIConfig{
//	    APIKey: "sk-...", Model: "gpt-4o", MaxTokens: 4096,
//	})
//
// Volcengine ARK:
//
//	p, err := NewArkProvider(ctx, &ArkConfig{
//	    APIKey: "...", Model: "endpoint-id", MaxTokens: 4096,
//	})
//
// # Registry
//
//	registry, err := InitializeProviders(ctx, appConfig)
//	p, err := registry.Get("anthropic")
//	m, err := registry.GetModel("anthropic", "claude-sonnet-4-20250514")
//	m, err := registry.DefaultModel()
//	models := registry.AllModels()
//
// InitializeProviders reads config.Provider (keyed by provider name, e.g.
// "anthropic", "openai", "ark") and falls back to ANTHROPIC_API_KEY /
// OPENAI_API_KEY when a provider isn't explicitly configured.
//
// # Streaming
//
//	stream, err := p.CreateCompletion(ctx, &CompletionRequest{
//	    Messages: messages, Tools: tools, MaxTokens: 4096,
//	})
//	for {
//	    msg, err := stream.Recv()
//	    if err != nil {
//	        break
//	    }
//	}
//	stream.Close()
//
// # Tool calling
//
// ConvertToEinoTools and ConvertToEinoMessages translate between the
// session's tool/message types and the Eino (https://github.com/cloudwego/eino)
// schema every provider is built on.
package provider
