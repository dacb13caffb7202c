package audio

import "time"

// AudioFrame represents a block of mono audio flowing through the session.
//
// In the capture direction a frame is a fixed-size block read from the
// microphone; in the playback direction it is an arbitrary-length buffer
// decoded from a remote audio chunk. Frames are immutable once produced:
// ownership passes from the producer to the single consumer that transmits or
// schedules it.
type AudioFrame struct {
	// Samples holds normalised linear samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for playback).
	SampleRate int

	// Timestamp marks when this frame was captured or received, relative to
	// the start of its stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame at its sample rate.
// A frame with a non-positive sample rate has zero duration.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration converts a sample count at rate Hz into a duration.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationSamples converts d into a whole number of samples at rate Hz,
// rounding down.
func DurationSamples(d time.Duration, rate int) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(rate) / int64(time.Second))
}

// NearestSample converts the device time d into the index of the nearest
// sample at rate Hz. Use it for timestamps derived from [SamplesDuration]:
// that conversion truncates, so rounding down again would place a buffer
// scheduled at another buffer's end one sample too early.
func NearestSample(d time.Duration, rate int) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int((int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second))
}
