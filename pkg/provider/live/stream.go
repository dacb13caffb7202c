package live

import (
	"context"
	"sync"
)

// Default buffer sizes of a [Stream].
const (
	DefaultSendQueue   = 64
	DefaultEventBuffer = 64
)

// Stream is the transport-independent half of a [Conn]: a bounded outbound
// audio queue, an ordered inbound event channel, the terminal error, and an
// idempotent shutdown. Adapters embed a *Stream, run one goroutine that
// drains [Stream.Outbox] onto the wire, and one goroutine that decodes wire
// messages and calls [Stream.Emit]. The receiving goroutine calls
// [Stream.Finish] when it exits.
type Stream struct {
	events chan Event
	outbox chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	failed bool
	closed bool

	// emitMu guards events against a send after Finish closed it.
	emitMu   sync.RWMutex
	finished bool
}

// NewStream creates a Stream with the given queue sizes. Non-positive sizes
// select the defaults.
func NewStream(sendQueue, eventBuffer int) *Stream {
	if sendQueue <= 0 {
		sendQueue = DefaultSendQueue
	}
	if eventBuffer <= 0 {
		eventBuffer = DefaultEventBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		events: make(chan Event, eventBuffer),
		outbox: make(chan []byte, sendQueue),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled when the stream shuts down. Adapters use it for all
// wire reads and writes.
func (s *Stream) Context() context.Context { return s.ctx }

// SendAudio implements [Conn.SendAudio].
func (s *Stream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failed {
		return ErrClosed
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	select {
	case s.outbox <- chunk:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Outbox delivers chunks accepted by SendAudio in order. It is never
// closed; writers select on [Stream.Context] as well.
func (s *Stream) Outbox() <-chan []byte { return s.outbox }

// Events implements [Conn.Events].
func (s *Stream) Events() <-chan Event { return s.events }

// Err implements [Conn.Err].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers ev to the consumer, blocking until it is accepted or the
// stream shuts down. It reports whether the event was delivered. Emit may be
// called from several goroutines.
func (s *Stream) Emit(ev Event) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.finished {
		return false
	}
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Fail records err as the terminal error (the first one wins), delivers it
// as an [EventError] if the consumer is still listening, and shuts the
// stream down. Failures after a local Shutdown are ignored.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.failed = true
	s.mu.Unlock()

	s.Emit(Event{Kind: EventError, Err: err})
	s.Shutdown()
}

// Shutdown stops accepting audio and cancels [Stream.Context]. It reports
// whether this call performed the shutdown.
func (s *Stream) Shutdown() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return true
}

// Closed reports whether Shutdown has run.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Finish shuts the stream down and closes the event channel. The receiving
// goroutine calls it when it exits. Later Emit calls are no-ops.
func (s *Stream) Finish() {
	s.Shutdown()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.finished {
		s.finished = true
		close(s.events)
	}
}
