package provider

import (
	"fmt"

	"github.com/voicebridge/corebridge/internal/config"
	"github.com/voicebridge/corebridge/internal/model"
)

// New selects and constructs the Adapter for a tenant's configured
// provider kind, grounded on openclaw.NewAdapter's mode switch in
// internal/openclaw/adapter.go (a single factory function over a closed
// set of named backends, falling back to a mock when nothing is
// configured).
func New(kind model.ProviderKind, cfg *config.Config) (Adapter, error) {
	switch kind {
	case model.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("provider openai requires OPENAI_API_KEY")
		}
		return NewOpenAIAdapter(OpenAIConfig{APIKey: cfg.OpenAIAPIKey}), nil
	case model.ProviderElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return nil, fmt.Errorf("provider elevenlabs requires ELEVENLABS_API_KEY")
		}
		return NewElevenLabsAdapter(ElevenLabsConfig{APIKey: cfg.ElevenLabsAPIKey}), nil
	case model.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("provider gemini requires GEMINI_API_KEY")
		}
		return NewGeminiAdapter(GeminiConfig{APIKey: cfg.GeminiAPIKey}), nil
	case model.ProviderMock, "":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", kind)
	}
}
