package serverctl

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voicebridge/corebridge/internal/model"
)

// yamlTenantFile is the on-disk shape of a tenant config file. Kept
// separate from model.SecretaryConfig so the domain type never carries
// yaml tags or string-typed durations for a concern only the loader cares
// about.
type yamlTenantFile struct {
	Tenants map[string]yamlTenantEntry `yaml:"tenants"`
}

type yamlTenantEntry struct {
	Greeting         string            `yaml:"greeting"`
	Farewell         string            `yaml:"farewell"`
	SystemPrompt     string            `yaml:"system_prompt"`
	VoiceID          string            `yaml:"voice_id"`
	Provider         string            `yaml:"provider"`
	AudioFormat      string            `yaml:"audio_format"`
	VADThreshold     float64           `yaml:"vad_threshold"`
	SilenceDuration  string            `yaml:"silence_duration"`
	MaxTurns         int               `yaml:"max_turns"`
	MaxDuration      string            `yaml:"max_duration"`
	Language         string            `yaml:"language"`
	WebhookURL       string            `yaml:"webhook_url"`
	RecordingEnabled bool              `yaml:"recording_enabled"`
	RecordingURL     string            `yaml:"recording_url"`
	TransferRules    []yamlTransferRule `yaml:"transfer_rules"`
}

type yamlTransferRule struct {
	Name        string `yaml:"name"`
	Destination string `yaml:"destination"`
	WhisperText string `yaml:"whisper_text"`
	RingTimeout string `yaml:"ring_timeout"`
}

// LoadTenantConfigsFromYAML reads a multi-tenant config file, the
// file-based alternative to cmd/voicebridged's single hardcoded tenant.
// Unknown provider/audio-format strings fail loudly rather than silently
// falling back, since a typo in a deployed config file should not
// silently downgrade a tenant to the mock provider.
func LoadTenantConfigsFromYAML(path string) (map[model.TenantId]model.SecretaryConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("serverctl: read tenant config %s: %w", path, err)
	}

	var doc yamlTenantFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("serverctl: parse tenant config %s: %w", path, err)
	}

	out := make(map[model.TenantId]model.SecretaryConfig, len(doc.Tenants))
	for id, entry := range doc.Tenants {
		cfg, err := entry.toDomain(id)
		if err != nil {
			return nil, fmt.Errorf("serverctl: tenant %q: %w", id, err)
		}
		out[model.TenantId(id)] = cfg
	}
	return out, nil
}

func (e yamlTenantEntry) toDomain(tenantID string) (model.SecretaryConfig, error) {
	provider, err := parseProviderKind(e.Provider)
	if err != nil {
		return model.SecretaryConfig{}, err
	}
	format, err := parseAudioFormat(e.AudioFormat)
	if err != nil {
		return model.SecretaryConfig{}, err
	}
	silence, err := parseOptionalDuration(e.SilenceDuration)
	if err != nil {
		return model.SecretaryConfig{}, fmt.Errorf("silence_duration: %w", err)
	}
	maxDuration, err := parseOptionalDuration(e.MaxDuration)
	if err != nil {
		return model.SecretaryConfig{}, fmt.Errorf("max_duration: %w", err)
	}

	rules := make([]model.TransferRule, 0, len(e.TransferRules))
	for _, r := range e.TransferRules {
		ring, err := parseOptionalDuration(r.RingTimeout)
		if err != nil {
			return model.SecretaryConfig{}, fmt.Errorf("transfer rule %q ring_timeout: %w", r.Name, err)
		}
		rules = append(rules, model.TransferRule{
			Name:        r.Name,
			Destination: r.Destination,
			WhisperText: r.WhisperText,
			RingTimeout: ring,
		})
	}

	return model.SecretaryConfig{
		TenantID:         model.TenantId(tenantID),
		Greeting:         e.Greeting,
		Farewell:         e.Farewell,
		SystemPrompt:     e.SystemPrompt,
		VoiceID:          e.VoiceID,
		Provider:         provider,
		AudioFormat:      format,
		VADThreshold:     e.VADThreshold,
		SilenceDuration:  silence,
		MaxTurns:         e.MaxTurns,
		MaxDuration:      maxDuration,
		TransferRules:    rules,
		WebhookURL:       e.WebhookURL,
		Language:         e.Language,
		RecordingEnabled: e.RecordingEnabled,
		RecordingURL:     e.RecordingURL,
	}, nil
}

func parseProviderKind(s string) (model.ProviderKind, error) {
	switch s {
	case "", "mock":
		return model.ProviderMock, nil
	case "openai":
		return model.ProviderOpenAI, nil
	case "elevenlabs":
		return model.ProviderElevenLabs, nil
	case "gemini":
		return model.ProviderGemini, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

func parseAudioFormat(s string) (model.AudioFormat, error) {
	switch s {
	case "", "pcm16":
		return model.AudioFormatPCM16, nil
	case "g711":
		return model.AudioFormatG711, nil
	default:
		return "", fmt.Errorf("unknown audio_format %q", s)
	}
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
