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
	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/reliability"
)

// OpenAIConfig holds connection parameters for the OpenAI Realtime API.
type OpenAIConfig struct {
	APIKey  string
	WSURL   string // defaults to wss://api.openai.com/v1/realtime
	Model   string // defaults to gpt-4o-realtime-preview
}

// OpenAIAdapter implements Adapter over OpenAI's Realtime WebSocket
// protocol: session.update to configure audio format and voice,
// input_audio_buffer.append for inbound frames, response.cancel to
// interrupt. Grounded on ElevenLabsProvider's dial/read-loop shape in
// internal/voice/elevenlabs.go, adapted to OpenAI's single-socket event
// schema.
type OpenAIAdapter struct {
	cfg     OpenAIConfig
	recon   *WithReconnect

	mu      sync.Mutex
	conn    *websocket.Conn
	onEvent func(Event)
	closed  bool
}

func NewOpenAIAdapter(cfg OpenAIConfig) *OpenAIAdapter {
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	return &OpenAIAdapter{cfg: cfg, recon: NewWithReconnect("openai")}
}

func (a *OpenAIAdapter) OnEvent(cb func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEvent = cb
}

func (a *OpenAIAdapter) Connect(ctx context.Context, sc SessionConfig) error {
	return a.recon.Dial(ctx, func(ctx context.Context) error {
		return a.dial(ctx, sc)
	})
}

func (a *OpenAIAdapter) dial(ctx context.Context, sc SessionConfig) error {
	u, err := url.Parse(a.cfg.WSURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("model", a.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial openai realtime: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	inputFormat := "audio/pcm"
	if sc.AudioFormat == model.AudioFormatG711 {
		inputFormat = "audio/pcmu"
	}

	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions": sc.SystemPrompt,
			"voice":        sc.Voice,
			"audio": map[string]any{
				"input":  map[string]any{"format": map[string]any{"type": inputFormat}},
				"output": map[string]any{"format": map[string]any{"type": inputFormat}},
			},
			"turn_detection": map[string]any{
				"type":      "server_vad",
				"threshold": sc.VADThreshold,
			},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		return fmt.Errorf("session.update: %w", err)
	}

	go a.readLoop(conn)
	return nil
}

func (a *OpenAIAdapter) SendAudio(samples []int16) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("openai adapter not connected")
	}
	return conn.WriteJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(int16ToBytes(samples)),
	})
}

func (a *OpenAIAdapter) CommitUserTurn() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]any{"type": "input_audio_buffer.commit"})
}

func (a *OpenAIAdapter) Interrupt() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]any{"type": "response.cancel"})
}

func (a *OpenAIAdapter) Close(reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		a.closed = true
		return nil
	}
	a.closed = true
	return a.conn.Close()
}

func (a *OpenAIAdapter) readLoop(conn *websocket.Conn) {
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
		eventType, _ := raw["type"].(string)
		switch eventType {
		case "response.output_audio.delta", "response.audio.delta":
			if b64, ok := raw["delta"].(string); ok {
				if pcm, err := decodeBase64PCM(b64); err == nil {
					a.emit(Event{Kind: EventAssistantAudio, AudioPCM16: pcm})
				}
			}
		case "response.output_text.delta", "response.text.delta":
			if delta, ok := raw["delta"].(string); ok {
				a.emit(Event{Kind: EventAssistantTextDelta, TextDelta: delta})
			}
		case "response.function_call_arguments.done":
			name, _ := raw["name"].(string)
			var args map[string]any
			if argStr, ok := raw["arguments"].(string); ok {
				_ = json.Unmarshal([]byte(argStr), &args)
			}
			a.emit(Event{Kind: EventFunctionCall, FuncName: name, FuncArgs: args})
		case "response.done":
			a.emit(Event{Kind: EventAssistantDone})
		case "error":
			code, _ := raw["code"].(string)
			a.emit(Event{Kind: EventError, Err: fmt.Errorf("openai error: %s", code), Retryable: reliability.IsRetryableRealtimeMessageType(eventType)})
		}
	}
}

func (a *OpenAIAdapter) emit(ev Event) {
	a.mu.Lock()
	cb := a.onEvent
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func decodeBase64PCM(b64 string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return out, nil
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
