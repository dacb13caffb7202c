package audio

import (
	"log/slog"
	"sync"
)

// FormatConverter converts mono AudioFrames to a target sample rate. It logs a
// warning on the first rate mismatch so misconfigured devices show up once in
// the logs rather than once per buffer.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	TargetRate     int
	warnedMismatch sync.Once
}

// Convert resamples frame to the target rate. If the rates already match, the
// frame is returned unchanged (zero allocation).
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if frame.SampleRate == c.TargetRate || c.TargetRate <= 0 {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio sample rate mismatch: resampling",
			"from", frame.SampleRate,
			"to", c.TargetRate,
		)
	})

	return AudioFrame{
		Samples:    ResampleMono(frame.Samples, frame.SampleRate, c.TargetRate),
		SampleRate: c.TargetRate,
		Timestamp:  frame.Timestamp,
	}
}

// MonoToStereo duplicates each mono sample into an interleaved L+R pair.
func MonoToStereo(mono []float32) []float32 {
	out := make([]float32, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each interleaved L+R pair into one mono sample.
// A trailing unpaired sample is ignored.
func StereoToMono(stereo []float32) []float32 {
	frames := len(stereo) / 2
	out := make([]float32, frames)
	for i := range frames {
		out[i] = (stereo[i*2] + stereo[i*2+1]) / 2
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	n := len(samples)
	dstN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	out := make([]float32, dstN)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstN {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < n {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
