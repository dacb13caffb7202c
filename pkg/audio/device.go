// Package audio defines the audio types, codec, and device abstractions used
// by a live voice session.
//
// The two device abstractions are:
//
//   - [InputDevice]: a microphone that yields fixed-size blocks of samples.
//   - [OutputDevice]: a speaker with its own clock on which buffers are
//     scheduled at absolute start times and can be stopped individually.
//
// [Devices] opens both and is implemented by backend packages (audio/ffmpeg,
// audio/pcmio, audio/mock). The interfaces are intentionally narrow so the
// session never depends on a particular audio stack.
//
// This package lives under pkg/ because external code is expected to
// implement [Devices] for platforms the built-in backends do not cover.
package audio

import (
	"context"
	"time"
)

// Default formats used when a session config leaves them unset.
const (
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultBlockSize        = 4096
)

// Handle identifies a buffer scheduled on an [OutputDevice]. Handles are
// unique per device for its whole lifetime.
type Handle uint64

// InputConfig describes the capture format requested from [Devices.OpenInput].
type InputConfig struct {
	// SampleRate in Hz. Zero selects [DefaultInputSampleRate].
	SampleRate int

	// BlockSize is the number of samples per block returned by
	// [InputDevice.ReadBlock]. Zero selects [DefaultBlockSize].
	BlockSize int
}

// OutputConfig describes the playback format requested from
// [Devices.OpenOutput].
type OutputConfig struct {
	// SampleRate in Hz of buffers passed to [OutputDevice.Schedule]. Zero
	// selects [DefaultOutputSampleRate].
	SampleRate int
}

// WithDefaults returns c with zero fields replaced by package defaults.
func (c InputConfig) WithDefaults() InputConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultInputSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	return c
}

// WithDefaults returns c with zero fields replaced by package defaults.
func (c OutputConfig) WithDefaults() OutputConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultOutputSampleRate
	}
	return c
}

// InputDevice is an open microphone.
//
// Implementations must allow Close to be called concurrently with a blocked
// ReadBlock; the pending read then returns an error.
type InputDevice interface {
	// ReadBlock blocks until the next block of exactly BlockSize samples is
	// available, ctx is cancelled, or the device fails. The returned slice is
	// owned by the caller.
	ReadBlock(ctx context.Context) ([]float32, error)

	// SampleRate reports the capture rate in Hz.
	SampleRate() int

	// BlockSize reports the number of samples per block.
	BlockSize() int

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// OutputDevice is an open speaker with a monotonic clock.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Now reports the device clock. It starts near zero when the device is
	// opened and never goes backwards.
	Now() time.Duration

	// SampleRate reports the rate in Hz expected for scheduled buffers.
	SampleRate() int

	// Schedule queues buf to start playing at device time at. If at is in the
	// past, playback starts as soon as possible. done is invoked exactly once
	// when the buffer finished playing or was stopped; it runs on a device
	// goroutine and must not block.
	Schedule(buf AudioFrame, at time.Duration, done func(Handle)) (Handle, error)

	// Stop silences the buffer identified by h immediately. Stopping a buffer
	// that already finished is a no-op.
	Stop(h Handle) error

	// Close stops all buffers and releases the device. It is safe to call
	// more than once.
	Close() error
}

// Devices opens audio devices for a session.
type Devices interface {
	// OpenInput opens the microphone. Returns an error if the device is
	// unavailable or permission is denied.
	OpenInput(ctx context.Context, cfg InputConfig) (InputDevice, error)

	// OpenOutput opens the speaker.
	OpenOutput(ctx context.Context, cfg OutputConfig) (OutputDevice, error)
}
