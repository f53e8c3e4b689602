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

// GeminiConfig holds connection parameters for the Gemini Live API.
type GeminiConfig struct {
	APIKey string
	WSURL  string // defaults to the Gemini Live BidiGenerateContent endpoint
	Model  string
}

// GeminiAdapter implements Adapter over Gemini Live: input frames are
// {realtimeInput:{audio:{data,mimeType}}}, barge-in is
// {activityEnd:{}}, and systemInstruction must be present in the
// initial setup message. Grounded on the same connect/read-loop shape
// as OpenAIAdapter and ElevenLabsAdapter, adapted to Gemini's
// camelCase, nested message schema.
type GeminiAdapter struct {
	cfg   GeminiConfig
	recon *WithReconnect

	mu      sync.Mutex
	conn    *websocket.Conn
	onEvent func(Event)
	closed  bool
}

func NewGeminiAdapter(cfg GeminiConfig) *GeminiAdapter {
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "models/gemini-2.0-flash-live-001"
	}
	return &GeminiAdapter{cfg: cfg, recon: NewWithReconnect("gemini")}
}

func (a *GeminiAdapter) OnEvent(cb func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEvent = cb
}

func (a *GeminiAdapter) Connect(ctx context.Context, sc SessionConfig) error {
	return a.recon.Dial(ctx, func(ctx context.Context) error {
		return a.dial(ctx, sc)
	})
}

func (a *GeminiAdapter) dial(ctx context.Context, sc SessionConfig) error {
	u, err := url.Parse(a.cfg.WSURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("key", a.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return fmt.Errorf("dial gemini live: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	setup := map[string]any{
		"setup": map[string]any{
			"model": a.cfg.Model,
			"systemInstruction": map[string]any{
				"parts": []map[string]any{{"text": sc.SystemPrompt}},
			},
			"generationConfig": map[string]any{
				"responseModalities": []string{"AUDIO"},
				"speechConfig": map[string]any{
					"voiceConfig": map[string]any{
						"prebuiltVoiceConfig": map[string]any{"voiceName": sc.Voice},
					},
				},
			},
		},
	}
	if err := conn.WriteJSON(setup); err != nil {
		return fmt.Errorf("gemini setup: %w", err)
	}

	go a.readLoop(conn)
	return nil
}

func (a *GeminiAdapter) SendAudio(samples []int16) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("gemini adapter not connected")
	}
	return conn.WriteJSON(map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{
				"data":     base64.StdEncoding.EncodeToString(int16ToBytes(samples)),
				"mimeType": "audio/pcm;rate=16000",
			},
		},
	})
}

func (a *GeminiAdapter) CommitUserTurn() error {
	// Gemini Live runs server-side VAD over realtimeInput; nothing to commit.
	return nil
}

func (a *GeminiAdapter) Interrupt() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]any{"activityEnd": map[string]any{}})
}

func (a *GeminiAdapter) Close(reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		a.closed = true
		return nil
	}
	a.closed = true
	return a.conn.Close()
}

func (a *GeminiAdapter) readLoop(conn *websocket.Conn) {
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

		if content, ok := raw["serverContent"].(map[string]any); ok {
			a.handleServerContent(content)
			continue
		}
		if toolCall, ok := raw["toolCall"].(map[string]any); ok {
			a.handleToolCall(toolCall)
			continue
		}
		if _, ok := raw["setupComplete"]; ok {
			continue
		}
		a.emit(Event{Kind: EventError, Err: fmt.Errorf("gemini: unrecognized message"), Retryable: reliability.IsRetryableRealtimeMessageType("unrecognized")})
	}
}

func (a *GeminiAdapter) handleServerContent(content map[string]any) {
	if turn, ok := content["modelTurn"].(map[string]any); ok {
		if parts, ok := turn["parts"].([]any); ok {
			for _, p := range parts {
				part, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if inline, ok := part["inlineData"].(map[string]any); ok {
					if b64, ok := inline["data"].(string); ok {
						if pcm, err := decodeBase64PCM(b64); err == nil {
							a.emit(Event{Kind: EventAssistantAudio, AudioPCM16: pcm})
						}
					}
				}
				if text, ok := part["text"].(string); ok && text != "" {
					a.emit(Event{Kind: EventAssistantTextDelta, TextDelta: text})
				}
			}
		}
	}
	if done, ok := content["turnComplete"].(bool); ok && done {
		a.emit(Event{Kind: EventAssistantDone})
	}
}

func (a *GeminiAdapter) handleToolCall(toolCall map[string]any) {
	calls, ok := toolCall["functionCalls"].([]any)
	if !ok {
		return
	}
	for _, c := range calls {
		call, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name, _ := call["name"].(string)
		args, _ := call["args"].(map[string]any)
		a.emit(Event{Kind: EventFunctionCall, FuncName: name, FuncArgs: args})
	}
}

func (a *GeminiAdapter) emit(ev Event) {
	a.mu.Lock()
	cb := a.onEvent
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}
