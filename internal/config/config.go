package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice bridge core.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Switch-facing audio socket ports.
	SwitchAudioPort    string
	SwitchTransferPort string

	ESLHost     string
	ESLPort     string
	ESLPassword string

	BackendAPIURL   string
	BackendAPIToken string

	OpenAIAPIKey     string
	ElevenLabsAPIKey string
	GeminiAPIKey     string

	RedisHost string
	RedisPort string

	DatabaseURL string

	// TenantConfigPath, if set, points at a YAML file of per-tenant
	// secretary configs (serverctl.LoadTenantConfigsFromYAML). Empty means
	// the process falls back to a single hardcoded "default" tenant.
	TenantConfigPath string

	// Call-level defaults, overridable per SecretaryConfig.
	DefaultVADThreshold    float64
	DefaultSilenceDuration time.Duration
	DefaultMaxDuration     time.Duration
	PresenceCacheTTL       time.Duration
	TransferRingTimeout    time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		AllowAnyOrigin:   false,

		SwitchAudioPort:    envOrDefault("SWITCH_AUDIO_PORT", "8085"),
		SwitchTransferPort: envOrDefault("SWITCH_TRANSFER_PORT", "8086"),

		ESLHost:     envOrDefault("ESL_HOST", "127.0.0.1"),
		ESLPort:     envOrDefault("ESL_PORT", "8022"),
		ESLPassword: trimmedEnv("ESL_PASSWORD"),

		BackendAPIURL:   trimmedEnv("BACKEND_API_URL"),
		BackendAPIToken: trimmedEnv("BACKEND_API_TOKEN"),

		OpenAIAPIKey:     trimmedEnv("OPENAI_API_KEY"),
		ElevenLabsAPIKey: trimmedEnv("ELEVENLABS_API_KEY"),
		GeminiAPIKey:     trimmedEnv("GEMINI_API_KEY"),

		RedisHost: trimmedEnv("REDIS_HOST"),
		RedisPort: envOrDefault("REDIS_PORT", "6379"),

		DatabaseURL: trimmedEnv("DATABASE_URL"),

		TenantConfigPath: trimmedEnv("TENANT_CONFIG_PATH"),

		DefaultVADThreshold:    0.5,
		DefaultSilenceDuration: 700 * time.Millisecond,
		DefaultMaxDuration:     10 * time.Minute,
		PresenceCacheTTL:       30 * time.Second,
		TransferRingTimeout:    20 * time.Second,

		ShutdownTimeout: 15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultSilenceDuration, err = durationFromEnv("DEFAULT_SILENCE_DURATION", cfg.DefaultSilenceDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMaxDuration, err = durationFromEnv("DEFAULT_MAX_DURATION", cfg.DefaultMaxDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.PresenceCacheTTL, err = durationFromEnv("PRESENCE_CACHE_TTL", cfg.PresenceCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TransferRingTimeout, err = durationFromEnv("TRANSFER_RING_TIMEOUT", cfg.TransferRingTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	threshold, err := floatFromEnv("DEFAULT_VAD_THRESHOLD", cfg.DefaultVADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultVADThreshold = threshold

	if cfg.DefaultSilenceDuration < 100*time.Millisecond {
		return Config{}, fmt.Errorf("DEFAULT_SILENCE_DURATION must be at least 100ms")
	}
	if cfg.DefaultVADThreshold <= 0 || cfg.DefaultVADThreshold > 1 {
		return Config{}, fmt.Errorf("DEFAULT_VAD_THRESHOLD must be in (0, 1]")
	}
	if cfg.PresenceCacheTTL <= 0 {
		return Config{}, fmt.Errorf("PRESENCE_CACHE_TTL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
