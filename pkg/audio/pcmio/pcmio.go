// Package pcmio implements [audio.InputDevice] and [audio.OutputDevice] over
// plain byte streams of little-endian signed 16-bit PCM.
//
// [Input] turns any [io.Reader] (a subprocess stdout, a file, a pipe) into a
// block-oriented microphone. [Output] renders scheduled buffers in real time
// into an [io.Writer]: it keeps its own sample clock, mixes overlapping
// buffers, honours Stop, and reports completions, which is everything a
// session needs from a speaker.
//
// Device backends such as audio/ffmpeg wrap these types around their
// subprocess pipes.
package pcmio

import (
	"errors"
	"time"
)

// ErrClosed is returned by device methods after Close.
var ErrClosed = errors.New("pcmio: device closed")

// DefaultPeriod is the render interval of an [Output].
const DefaultPeriod = 20 * time.Millisecond

type options struct {
	closeFn    func() error
	paced      bool
	deviceRate int
	channels   int
	period     time.Duration
}

// Option configures an [Input] or [Output].
type Option func(*options)

// WithCloseFunc registers fn to run once when the device is closed, after the
// device stopped using its stream. Use it to close the underlying file or
// reap a subprocess.
func WithCloseFunc(fn func() error) Option {
	return func(o *options) { o.closeFn = fn }
}

// WithPacing makes an [Input] deliver blocks no faster than real time. Use it
// for sources that can be read instantly, such as files.
func WithPacing() Option {
	return func(o *options) { o.paced = true }
}

// WithDeviceRate sets the rate at which an [Output] writes samples. Buffers
// scheduled at a different rate are resampled. Defaults to the buffer rate.
func WithDeviceRate(hz int) Option {
	return func(o *options) { o.deviceRate = hz }
}

// WithChannels sets the channel count written by an [Output] (1 or 2). Stereo
// duplicates the mono mix into both channels.
func WithChannels(n int) Option {
	return func(o *options) { o.channels = n }
}

// WithPeriod sets the render interval of an [Output].
func WithPeriod(d time.Duration) Option {
	return func(o *options) { o.period = d }
}

func buildOptions(opts []Option) options {
	o := options{channels: 1, period: DefaultPeriod}
	for _, fn := range opts {
		fn(&o)
	}
	if o.channels != 2 {
		o.channels = 1
	}
	if o.period <= 0 {
		o.period = DefaultPeriod
	}
	return o
}
