package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/voicebridge/corebridge/internal/reliability"
)

// ElevenLabsConfig holds connection parameters for the ElevenLabs
// Conversational AI WebSocket.
type ElevenLabsConfig struct {
	APIKey    string
	WSBaseURL string // defaults to wss://api.elevenlabs.io
	AgentID   string
}

// ElevenLabsAdapter implements Adapter over ElevenLabs Conversational AI:
// frames carry no "type" field on input, barge-in is
// {"type":"user_activity"}, sample rate is 16kHz both directions.
// Grounded on the connect/read-loop shape of ElevenLabsProvider in
// internal/voice/elevenlabs.go.
type ElevenLabsAdapter struct {
	cfg   ElevenLabsConfig
	recon *WithReconnect

	mu      sync.Mutex
	conn    *websocket.Conn
	onEvent func(Event)
	closed  bool
}

func NewElevenLabsAdapter(cfg ElevenLabsConfig) *ElevenLabsAdapter {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	return &ElevenLabsAdapter{cfg: cfg, recon: NewWithReconnect("elevenlabs")}
}

func (a *ElevenLabsAdapter) OnEvent(cb func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEvent = cb
}

func (a *ElevenLabsAdapter) Connect(ctx context.Context, sc SessionConfig) error {
	return a.recon.Dial(ctx, func(ctx context.Context) error {
		return a.dial(ctx, sc)
	})
}

func (a *ElevenLabsAdapter) dial(ctx context.Context, sc SessionConfig) error {
	u, err := url.Parse(strings.TrimRight(a.cfg.WSBaseURL, "/") + "/v1/convai/conversation")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("agent_id", a.cfg.AgentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", a.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial elevenlabs convai: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	override := map[string]any{
		"type": "conversation_initiation_client_data",
		"conversation_config_override": map[string]any{
			"agent": map[string]any{"prompt": map[string]any{"prompt": sc.SystemPrompt}},
			"tts":   map[string]any{"voice_id": sc.Voice},
		},
	}
	if err := conn.WriteJSON(override); err != nil {
		return fmt.Errorf("conversation_initiation_client_data: %w", err)
	}

	go a.readLoop(conn)
	return nil
}

func (a *ElevenLabsAdapter) SendAudio(samples []int16) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("elevenlabs adapter not connected")
	}
	return conn.WriteJSON(map[string]any{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(int16ToBytes(samples)),
	})
}

func (a *ElevenLabsAdapter) CommitUserTurn() error {
	// ElevenLabs Conversational AI runs server-side VAD; nothing to commit.
	return nil
}

func (a *ElevenLabsAdapter) Interrupt() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]any{"type": "user_activity"})
}

func (a *ElevenLabsAdapter) Close(reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		a.closed = true
		return nil
	}
	a.closed = true
	return a.conn.Close()
}

func (a *ElevenLabsAdapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.emit(Event{Kind: EventError, Err: err, Retryable: true})
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		msgType, _ := raw["type"].(string)
		switch msgType {
		case "audio":
			if event, ok := raw["audio_event"].(map[string]any); ok {
				if b64, ok := event["audio_base_64"].(string); ok {
					if pcm, err := decodeBase64PCM(b64); err == nil {
						a.emit(Event{Kind: EventAssistantAudio, AudioPCM16: pcm})
					}
				}
			}
		case "agent_response":
			if event, ok := raw["agent_response_event"].(map[string]any); ok {
				if text, ok := event["agent_response"].(string); ok {
					a.emit(Event{Kind: EventAssistantTextDelta, TextDelta: text})
				}
			}
		case "client_tool_call":
			if call, ok := raw["client_tool_call"].(map[string]any); ok {
				name, _ := call["tool_name"].(string)
				args, _ := call["parameters"].(map[string]any)
				a.emit(Event{Kind: EventFunctionCall, FuncName: name, FuncArgs: args})
			}
		case "interruption":
			a.emit(Event{Kind: EventAssistantDone})
		case "ping":
			_ = conn.WriteJSON(map[string]any{"type": "pong"})
		case "conversation_initiation_metadata", "vad_score", "internal_tentative_agent_response":
			// housekeeping events, nothing for the session to act on
		default:
			if msgType != "" {
				a.emit(Event{Kind: EventError, Err: fmt.Errorf("elevenlabs: unexpected message %q", msgType), Retryable: reliability.IsRetryableRealtimeMessageType(msgType)})
			}
		}
	}
}

func (a *ElevenLabsAdapter) emit(ev Event) {
	a.mu.Lock()
	cb := a.onEvent
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}
