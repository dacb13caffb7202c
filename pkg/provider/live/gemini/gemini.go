// Package gemini implements the live.Provider interface for Google's Gemini
// Live API over a raw WebSocket.
//
// It exchanges JSON messages according to the BidiGenerateContent protocol:
// a setup message, a setupComplete acknowledgement, then realtimeInput audio
// chunks upstream and serverContent messages downstream. Audio travels as
// base64-encoded PCM16 in both directions.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/lugha/pkg/provider/live"
)

// Compile-time assertions that Provider and conn satisfy the live interfaces.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*conn)(nil)
)

const (
	// DefaultModel is the native-audio model used when Config.Model is empty.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	endpointPath   = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 5 * time.Second
	readLimit         = 4 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default Gemini model used when Config.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithSendQueue sets the capacity of the outbound audio queue.
func WithSendQueue(n int) Option {
	return func(p *Provider) { p.sendQueue = n }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	sendQueue int
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "gemini-live" }

// Connect dials the Gemini Live endpoint, sends the setup message, and waits
// for setupComplete before returning.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Conn, error) {
	wsURL := p.baseURL + endpointPath + "?key=" + url.QueryEscape(p.apiKey)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	c := &conn{
		Stream: live.NewStream(p.sendQueue, 0),
		ws:     ws,
		rate:   cfg.InputSampleRate,
	}
	if c.rate <= 0 {
		c.rate = 16000
	}

	if err := c.writeJSON(ctx, buildSetup(model, cfg)); err != nil {
		c.abort("setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := c.awaitSetupComplete(ctx); err != nil {
		c.abort("setup failed")
		return nil, err
	}

	go c.receiveLoop()
	go c.writeLoop()
	go c.keepaliveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) err() error {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Errorf("gemini: server error %d (%s): %s", e.Code, e.Status, msg)
	}
	return fmt.Errorf("gemini: server error %d: %s", e.Code, msg)
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

func buildSetup(model string, cfg live.Config) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── conn ──────────────────────────────────────────────────────────────────────

type conn struct {
	*live.Stream
	ws   *websocket.Conn
	rate int
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// awaitSetupComplete reads until the server acknowledges the setup.
func (c *conn) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("gemini: await setup: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error.err()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func (c *conn) abort(reason string) {
	c.Shutdown()
	c.Finish()
	_ = c.ws.Close(websocket.StatusInternalError, reason)
}

// receiveLoop reads messages from the WebSocket and emits events in order.
// It owns the event channel and finishes it when it exits.
func (c *conn) receiveLoop() {
	defer c.Finish()
	ctx := c.Context()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.Fail(fmt.Errorf("gemini: connection lost: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: skipping malformed message", "err", err)
			continue
		}
		if msg.Error != nil {
			c.Fail(msg.Error.err())
			return
		}
		if msg.GoAway != nil {
			slog.Info("gemini: server requested disconnect", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil && !c.handleServerContent(msg.ServerContent) {
			return
		}
	}
}

// handleServerContent emits the events carried by one serverContent message.
// It returns false once the stream stopped accepting events.
func (c *conn) handleServerContent(sc *serverContent) bool {
	if sc.Interrupted {
		if !c.Emit(live.Event{Kind: live.EventInterrupted}) {
			return false
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !c.Emit(live.Event{Kind: live.EventTranscript, Role: live.RoleUser, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			ev := live.Event{Kind: live.EventAudio}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				ev.Err = fmt.Errorf("gemini: audio chunk: %w", err)
			} else {
				ev.Audio = pcm
			}
			if !c.Emit(ev) {
				return false
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !c.Emit(live.Event{Kind: live.EventTranscript, Role: live.RoleModel, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.TurnComplete {
		if !c.Emit(live.Event{Kind: live.EventTurnComplete}) {
			return false
		}
	}
	return true
}

// writeLoop drains the outbound queue onto the WebSocket in order.
func (c *conn) writeLoop() {
	ctx := c.Context()
	mime := fmt.Sprintf("audio/pcm;rate=%d", c.rate)
	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-c.Outbox():
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []inlineData{{
						MIMEType: mime,
						Data:     base64.StdEncoding.EncodeToString(pcm),
					}},
				},
			}
			if err := c.writeJSON(ctx, msg); err != nil {
				if ctx.Err() == nil {
					c.Fail(fmt.Errorf("gemini: send audio: %w", err))
					_ = c.ws.Close(websocket.StatusInternalError, "write failed")
				}
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (c *conn) keepaliveLoop() {
	ctx := c.Context()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
		}
	}
}

// Close terminates the connection and releases all resources. Idempotent.
func (c *conn) Close() error {
	if !c.Shutdown() {
		return nil
	}
	return c.ws.Close(websocket.StatusNormalClosure, "session closed")
}
