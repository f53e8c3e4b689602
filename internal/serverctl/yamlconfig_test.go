package serverctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge/corebridge/internal/model"
)

func writeTenantFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadTenantConfigsFromYAML(t *testing.T) {
	path := writeTenantFile(t, `
tenants:
  acme:
    greeting: "Thanks for calling Acme"
    provider: openai
    audio_format: pcm16
    vad_threshold: 0.6
    silence_duration: 500ms
    max_turns: 20
    max_duration: 5m
    language: en
    transfer_rules:
      - name: sales
        destination: "1001"
        whisper_text: "transfer to sales"
        ring_timeout: 15s
`)

	configs, err := LoadTenantConfigsFromYAML(path)
	require.NoError(t, err)
	require.Contains(t, configs, model.TenantId("acme"))

	acme := configs["acme"]
	assert.Equal(t, model.ProviderOpenAI, acme.Provider)
	assert.Equal(t, model.AudioFormatPCM16, acme.AudioFormat)
	assert.Equal(t, 20, acme.MaxTurns)
	require.Len(t, acme.TransferRules, 1)
	assert.Equal(t, "1001", acme.TransferRules[0].Destination)
	assert.Equal(t, 15_000_000_000, int(acme.TransferRules[0].RingTimeout))
}

func TestLoadTenantConfigsFromYAMLRejectsUnknownProvider(t *testing.T) {
	path := writeTenantFile(t, "tenants:\n  acme:\n    provider: carrier-pigeon\n")
	_, err := LoadTenantConfigsFromYAML(path)
	assert.Error(t, err)
}

func TestLoadTenantConfigsFromYAMLMissingFile(t *testing.T) {
	_, err := LoadTenantConfigsFromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
