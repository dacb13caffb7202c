// Package live defines the Provider interface for real-time conversational
// voice backends.
//
// A live provider wraps a remote service that accepts a continuous stream of
// microphone audio and answers with synthesized speech, partial transcripts,
// and turn signals over one long-lived bidirectional connection. Examples are
// the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is [Conn]: outbound audio is enqueued with
// [Conn.SendAudio] without blocking, inbound traffic arrives on a single
// ordered [Event] channel. Adapters live in sub-packages (live/gemini,
// live/genai, live/openai) and share the plumbing in [Stream].
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by all adapters.
var (
	// ErrClosed is returned by [Conn.SendAudio] after the connection closed.
	ErrClosed = errors.New("live: connection closed")

	// ErrSendQueueFull is returned by [Conn.SendAudio] when the outbound
	// queue is full. The chunk is dropped.
	ErrSendQueueFull = errors.New("live: send queue full")
)

// Transcript roles carried by [EventTranscript] events.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventAudio carries one chunk of synthesized PCM16 speech in Audio.
	EventAudio EventKind = iota + 1

	// EventTranscript carries a partial transcript fragment in Text for Role.
	EventTranscript

	// EventTurnComplete signals the end of the current conversational turn.
	EventTurnComplete

	// EventInterrupted signals that the user barged in; audio not yet played
	// must be discarded.
	EventInterrupted

	// EventError reports a remote error in Err. The connection is unusable
	// afterwards.
	EventError
)

// String returns the human-readable name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is one inbound message from the remote service. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind

	// Audio is raw little-endian PCM16 mono at the configured output rate.
	// Transport encodings such as base64 are already removed.
	Audio []byte

	// Role is RoleUser or RoleModel for transcript events.
	Role string

	// Text is the transcript fragment, delivered verbatim.
	Text string

	// Err is the remote error for EventError. On an EventAudio it reports a
	// chunk whose transport encoding could not be removed; Audio is nil and
	// the chunk is dropped without ending the connection.
	Err error
}

// Config is the initial configuration of a live connection.
type Config struct {
	// Model is the provider-specific model identifier. Empty selects the
	// adapter's default.
	Model string

	// Voice is the prebuilt voice name used for synthesized speech.
	Voice string

	// Instructions is the system instruction that defines the tutor persona.
	Instructions string

	// InputSampleRate is the rate of audio passed to SendAudio.
	InputSampleRate int

	// OutputSampleRate is the rate the service synthesizes at.
	OutputSampleRate int

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool
}

// Conn is an open live connection.
//
// The event channel is closed when the connection ends, either because Close
// was called or because the transport failed; in the latter case Err reports
// why. Consumers must drain Events promptly: adapters block on delivery to
// preserve order.
type Conn interface {
	// SendAudio enqueues one chunk of raw PCM16 mono microphone audio. It
	// never blocks: when the outbound queue is full the chunk is dropped and
	// [ErrSendQueueFull] is returned. After the connection ended it returns
	// [ErrClosed]. The chunk is copied.
	SendAudio(pcm []byte) error

	// Events returns the ordered inbound event stream.
	Events() <-chan Event

	// Err returns the error that ended the connection, or nil if it is still
	// open or was closed locally.
	Err() error

	// Close terminates the connection. It is safe to call more than once.
	Close() error
}

// Provider opens live connections.
type Provider interface {
	// Connect establishes a connection and completes the provider's setup
	// handshake. It returns once the connection is ready for audio, or with
	// an error if ctx is cancelled or the service rejects the setup.
	Connect(ctx context.Context, cfg Config) (Conn, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
