// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled connections.
// Use Conn to inject inbound events and inspect the audio the session sent.
//
// Example:
//
//	conn := mock.NewConn()
//	p := &mock.Provider{Conn: conn}
//	// ... start a session with p ...
//	conn.Audio(pcm)
//	conn.Transcript(live.RoleModel, "Habari")
//	conn.TurnComplete()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lugha/pkg/provider/live"
)

// Compile-time assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*Conn)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Conn is returned by Connect. If nil, Connect returns a fresh Conn.
	Conn *Conn

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, when non-nil, makes Connect block until the channel is closed or
	// ctx is cancelled.
	Gate chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	conns []*Conn
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "mock" }

// Connect records the call and returns Conn or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Conn, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	c := p.Conn
	if c == nil {
		c = NewConn()
	}
	p.conns = append(p.conns, c)
	return c, nil
}

// Conns returns every connection handed out so far.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Conn, len(p.conns))
	copy(out, p.conns)
	return out
}

// Calls returns a copy of ConnectCalls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Conn is a mock implementation of live.Conn built on [live.Stream], so the
// queueing and shutdown semantics match the real adapters.
type Conn struct {
	*live.Stream

	mu         sync.Mutex
	sent       [][]byte
	closeCount int

	// SendErr, if non-nil, is returned by every SendAudio call.
	SendErr error
}

// NewConn creates a Conn whose outbound queue is drained into Sent.
func NewConn() *Conn {
	c := &Conn{Stream: live.NewStream(0, 0)}
	go c.pump()
	return c
}

func (c *Conn) pump() {
	ctx := c.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-c.Outbox():
			c.mu.Lock()
			c.sent = append(c.sent, chunk)
			c.mu.Unlock()
		}
	}
}

// SendAudio implements live.Conn.
func (c *Conn) SendAudio(pcm []byte) error {
	c.mu.Lock()
	err := c.SendErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Stream.SendAudio(pcm)
}

// SetSendErr changes SendErr safely while the connection is in use.
func (c *Conn) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendErr = err
}

// Close implements live.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	c.Finish()
	return nil
}

// Audio injects an inbound audio chunk.
func (c *Conn) Audio(pcm []byte) bool {
	return c.Emit(live.Event{Kind: live.EventAudio, Audio: pcm})
}

// CorruptAudio injects an audio chunk the adapter failed to decode, as
// reported by adapters whose transport encoding was malformed.
func (c *Conn) CorruptAudio(err error) bool {
	return c.Emit(live.Event{Kind: live.EventAudio, Err: err})
}

// Transcript injects an inbound transcript fragment.
func (c *Conn) Transcript(role, text string) bool {
	return c.Emit(live.Event{Kind: live.EventTranscript, Role: role, Text: text})
}

// TurnComplete injects a turn-complete signal.
func (c *Conn) TurnComplete() bool {
	return c.Emit(live.Event{Kind: live.EventTurnComplete})
}

// Interrupted injects a barge-in signal.
func (c *Conn) Interrupted() bool {
	return c.Emit(live.Event{Kind: live.EventInterrupted})
}

// Drop simulates the remote side failing with err: an error event is
// delivered and the event channel closes.
func (c *Conn) Drop(err error) {
	c.Fail(err)
	c.Finish()
}

// Sent returns a copy of every chunk drained from the outbound queue.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// CloseCount returns how many times Close was called.
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}
