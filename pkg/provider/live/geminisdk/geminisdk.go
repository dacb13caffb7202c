// Package geminisdk implements the live.Provider interface for the Gemini Live
// API on top of the official google.golang.org/genai SDK.
//
// It is functionally equivalent to live/gemini but delegates the wire protocol
// (setup, base64 media chunks, message framing) to the SDK's Live client.
package geminisdk

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/MrWong99/lugha/pkg/provider/live"
)

// Compile-time assertions that Provider and conn satisfy the live interfaces.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*conn)(nil)
)

// DefaultModel is the native-audio model used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default Gemini model used when Config.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL passed to the SDK.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithSendQueue sets the capacity of the outbound audio queue.
func WithSendQueue(n int) Option {
	return func(p *Provider) { p.sendQueue = n }
}

// Provider implements live.Provider using the genai SDK.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	sendQueue int
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: DefaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "gemini-sdk" }

// Connect opens a Live session through the SDK and waits for the server to
// acknowledge the setup.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Conn, error) {
	cc := &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions.BaseURL = p.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("geminisdk: new client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	sess, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("geminisdk: connect: %w", err)
	}

	c := &conn{
		Stream: live.NewStream(p.sendQueue, 0),
		sess:   sess,
		mime:   fmt.Sprintf("audio/pcm;rate=%d", inputRate(cfg)),
	}
	if err := c.awaitSetup(ctx); err != nil {
		c.Shutdown()
		c.Finish()
		_ = sess.Close()
		return nil, err
	}

	go c.receiveLoop()
	go c.writeLoop()
	return c, nil
}

func inputRate(cfg live.Config) int {
	if cfg.InputSampleRate > 0 {
		return cfg.InputSampleRate
	}
	return 16000
}

// connectConfig maps a live.Config onto the SDK's connect configuration.
func connectConfig(cfg live.Config) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

// translate converts one server message into live events in delivery order.
func translate(msg *genai.LiveServerMessage) []live.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	var evs []live.Event
	if sc.Interrupted {
		evs = append(evs, live.Event{Kind: live.EventInterrupted})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		evs = append(evs, live.Event{Kind: live.EventTranscript, Role: live.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			evs = append(evs, live.Event{Kind: live.EventAudio, Audio: p.InlineData.Data})
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		evs = append(evs, live.Event{Kind: live.EventTranscript, Role: live.RoleModel, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		evs = append(evs, live.Event{Kind: live.EventTurnComplete})
	}
	return evs
}

// ── conn ──────────────────────────────────────────────────────────────────────

type conn struct {
	*live.Stream
	sess *genai.Session
	mime string
}

// awaitSetup blocks until setupComplete arrives. The SDK's Receive has no
// context, so cancellation closes the session to unblock it.
func (c *conn) awaitSetup(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		for {
			msg, err := c.sess.Receive()
			if err != nil {
				done <- fmt.Errorf("geminisdk: await setup: %w", err)
				return
			}
			if msg.SetupComplete != nil {
				done <- nil
				return
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = c.sess.Close()
		<-done
		return fmt.Errorf("geminisdk: await setup: %w", ctx.Err())
	}
}

func (c *conn) receiveLoop() {
	defer c.Finish()
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			if !c.Closed() {
				c.Fail(fmt.Errorf("geminisdk: connection lost: %w", err))
			}
			return
		}
		if msg.GoAway != nil {
			slog.Info("geminisdk: server requested disconnect")
		}
		for _, ev := range translate(msg) {
			if !c.Emit(ev) {
				return
			}
		}
	}
}

func (c *conn) writeLoop() {
	ctx := c.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-c.Outbox():
			err := c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
				Audio: &genai.Blob{Data: pcm, MIMEType: c.mime},
			})
			if err != nil {
				if ctx.Err() == nil {
					c.Fail(fmt.Errorf("geminisdk: send audio: %w", err))
					_ = c.sess.Close()
				}
				return
			}
		}
	}
}

// Close terminates the session. Idempotent.
func (c *conn) Close() error {
	if !c.Shutdown() {
		return nil
	}
	return c.sess.Close()
}
