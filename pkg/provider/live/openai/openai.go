// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// It establishes a WebSocket connection to the Realtime endpoint and exchanges
// JSON events: session.update configures the tutor, input_audio_buffer.append
// streams microphone audio, and response.* / conversation.item.* events carry
// synthesized speech and transcripts back. Audio is base64-encoded PCM16 in
// both directions. Server-side voice activity detection drives turn taking:
// input_audio_buffer.speech_started is surfaced as an interruption.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/lugha/pkg/provider/live"
)

// Compile-time assertions that Provider and conn satisfy the live interfaces.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*conn)(nil)
)

const (
	// DefaultModel is the Realtime model used when Config.Model is empty.
	DefaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// The Realtime API fixes PCM16 at 24 kHz in both directions.
	sampleRate = 24000

	transcriptionModel = "whisper-1"
	writeTimeout       = 5 * time.Second
)

// Dialer abstracts websocket.Dialer so tests can inject their own.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default model used when Config.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d Dialer) Option {
	return func(p *Provider) { p.dialer = d }
}

// WithSendQueue sets the capacity of the outbound audio queue.
func WithSendQueue(n int) Option {
	return func(p *Provider) { p.sendQueue = n }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	dialer    Dialer
	sendQueue int
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
		dialer:  websocket.DefaultDialer,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "openai-realtime" }

// Connect dials the Realtime endpoint, sends session.update, and waits for
// the server to confirm it with session.updated.
//
// The Realtime API only supports 24 kHz PCM16; Config sample rates other than
// 24000 are rejected.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Conn, error) {
	for _, r := range []int{cfg.InputSampleRate, cfg.OutputSampleRate} {
		if r != 0 && r != sampleRate {
			return nil, fmt.Errorf("openai: unsupported sample rate %d Hz (realtime requires %d Hz)", r, sampleRate)
		}
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	wsURL := p.baseURL + "?model=" + url.QueryEscape(model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	ws, _, err := p.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	c := &conn{
		Stream: live.NewStream(p.sendQueue, 0),
		ws:     ws,
	}
	if err := c.writeJSON(buildSessionUpdate(cfg)); err != nil {
		c.abort()
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	if err := c.awaitSessionUpdated(ctx); err != nil {
		c.abort()
		return nil, err
	}

	go c.receiveLoop()
	go c.writeLoop()
	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string           `json:"modalities"`
	Voice                   string             `json:"voice,omitempty"`
	Instructions            string             `json:"instructions,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription *transcriptionOpts `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection     `json:"turn_detection,omitempty"`
}

type transcriptionOpts struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error
	Error *serverErrorDetail `json:"error,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d *serverErrorDetail) err() error {
	if d == nil {
		return fmt.Errorf("openai: server error")
	}
	if d.Code != "" {
		return fmt.Errorf("openai: server error %s (%s): %s", d.Code, d.Type, d.Message)
	}
	return fmt.Errorf("openai: server error (%s): %s", d.Type, d.Message)
}

func buildSessionUpdate(cfg live.Config) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionOpts{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── conn ──────────────────────────────────────────────────────────────────────

type conn struct {
	*live.Stream
	ws *websocket.Conn

	// writeMu serialises writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// awaitSessionUpdated reads until the server confirms the session config.
// ReadMessage has no context; cancellation closes the socket to unblock it.
func (c *conn) awaitSessionUpdated(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("openai: await session: %w", ctx.Err())
			}
			return fmt.Errorf("openai: await session: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			return evt.Error.err()
		}
	}
}

func (c *conn) abort() {
	c.Shutdown()
	c.Finish()
	_ = c.ws.Close()
}

// receiveLoop reads events from the WebSocket and emits live events in
// order. It owns the event channel and finishes it when it exits.
func (c *conn) receiveLoop() {
	defer c.Finish()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.Closed() {
				c.Fail(fmt.Errorf("openai: connection lost: %w", err))
				_ = c.ws.Close()
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("openai: skipping malformed event", "err", err)
			continue
		}
		if evt.Type == "error" {
			c.Fail(evt.Error.err())
			_ = c.ws.Close()
			return
		}
		ev, ok := translate(&evt)
		if !ok {
			continue
		}
		if !c.Emit(ev) {
			return
		}
	}
}

// translate maps one server event onto a live event. Events that carry
// nothing for the session report false.
func translate(evt *serverEvent) (live.Event, bool) {
	switch evt.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			return live.Event{Kind: live.EventAudio, Err: fmt.Errorf("openai: audio delta: %w", err)}, true
		}
		if len(pcm) == 0 {
			return live.Event{}, false
		}
		return live.Event{Kind: live.EventAudio, Audio: pcm}, true

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return live.Event{}, false
		}
		return live.Event{Kind: live.EventTranscript, Role: live.RoleModel, Text: evt.Delta}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return live.Event{}, false
		}
		return live.Event{Kind: live.EventTranscript, Role: live.RoleUser, Text: evt.Transcript}, true

	case "input_audio_buffer.speech_started":
		return live.Event{Kind: live.EventInterrupted}, true

	case "response.done":
		return live.Event{Kind: live.EventTurnComplete}, true
	}
	return live.Event{}, false
}

// writeLoop drains the outbound queue onto the WebSocket in order.
func (c *conn) writeLoop() {
	ctx := c.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-c.Outbox():
			msg := appendAudioMessage{
				Type:  "input_audio_buffer.append",
				Audio: base64.StdEncoding.EncodeToString(pcm),
			}
			if err := c.writeJSON(msg); err != nil {
				if ctx.Err() == nil {
					c.Fail(fmt.Errorf("openai: send audio: %w", err))
					_ = c.ws.Close()
				}
				return
			}
		}
	}
}

// Close terminates the connection. Idempotent.
func (c *conn) Close() error {
	if !c.Shutdown() {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
