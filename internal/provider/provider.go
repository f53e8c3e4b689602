// Package provider implements a uniform ProviderAdapter contract over
// the realtime voice WebSocket protocols of OpenAI Realtime, ElevenLabs
// Conversational, and Gemini Live, plus a mock adapter for tests.
// Grounded on internal/voice's STTProvider/TTSProvider split across
// elevenlabs.go/mock.go, unified here into a single bidirectional
// Adapter since each of these three vendor protocols multiplexes STT
// and TTS over one socket.
package provider

import (
	"context"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

// EventKind discriminates the variant events an Adapter delivers to its
// OnEvent callback: assistant audio, assistant text delta, function
// call, assistant-turn-done, or error.
type EventKind int

const (
	EventAssistantAudio EventKind = iota
	EventAssistantTextDelta
	EventFunctionCall
	EventAssistantDone
	EventError
)

// Event is the adapter's single variant envelope.
type Event struct {
	Kind EventKind

	AudioPCM16 []int16 // EventAssistantAudio, linear-16 at the provider's native rate
	TextDelta  string  // EventAssistantTextDelta
	FuncName   string  // EventFunctionCall
	FuncArgs   map[string]any

	Err       error
	Retryable bool
}

// SessionConfig carries everything an adapter needs to open a session,
// snapshotted from model.SecretaryConfig at call start.
type SessionConfig struct {
	Voice            string
	SystemPrompt     string
	Greeting         string
	AudioFormat      model.AudioFormat
	VADThreshold     float64
	SilenceDurationMS int
	Language         string
}

// Adapter is the uniform interface every provider-specific client
// implements. All operations are asynchronous: audio and control flow
// in, events flow out via OnEvent.
type Adapter interface {
	// Connect establishes the provider session. No adapter requests a
	// server-side first message or sends cfg.Greeting, and RealtimeSession
	// does not synthesize a greeting either; the first assistant audio is
	// whatever the provider produces on its own.
	Connect(ctx context.Context, cfg SessionConfig) error

	// SendAudio pushes one frame of linear-16 samples at the provider's
	// negotiated rate; the adapter encodes to the wire format.
	SendAudio(samples []int16) error

	// CommitUserTurn signals end-of-utterance for adapters without
	// server-side VAD. Adapters with server-side VAD treat this as a
	// no-op.
	CommitUserTurn() error

	// Interrupt cancels any in-flight assistant response.
	Interrupt() error

	// OnEvent registers the callback invoked for every Event. Must be
	// called before Connect.
	OnEvent(func(Event))

	// Close performs a graceful shutdown, closing the underlying socket.
	Close(reason string) error
}

// NativeRate returns the sample rate this provider kind operates its
// realtime audio at.
func NativeRate(kind model.ProviderKind) int {
	switch kind {
	case model.ProviderOpenAI:
		return 24000
	case model.ProviderElevenLabs:
		return 16000
	case model.ProviderGemini:
		return 16000
	default:
		return 16000
	}
}

// reconnectBackoff is the fixed delay before the single permitted
// reconnect attempt: a transient I/O error triggers one reconnect with
// this backoff; a second failure surfaces ErrProviderDead.
const reconnectBackoff = 500 * time.Millisecond

// ErrProviderDead is returned once the reconnect budget is exhausted.
type ErrProviderDead struct {
	Cause error
}

func (e *ErrProviderDead) Error() string {
	if e.Cause == nil {
		return "provider dead"
	}
	return "provider dead: " + e.Cause.Error()
}

func (e *ErrProviderDead) Unwrap() error { return e.Cause }
