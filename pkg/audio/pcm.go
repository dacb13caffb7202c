package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// BytesPerSample is the size of one little-endian int16 PCM sample.
	BytesPerSample = 2

	pcmScale = 32767
)

// DecodeError reports a malformed PCM16 payload. It is not fatal for a
// session: the offending chunk is dropped and playback continues.
type DecodeError struct {
	// Len is the byte length of the rejected payload.
	Len int
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: malformed pcm16 payload: %d bytes is not a whole number of samples", e.Len)
}

// EncodePCM16 converts normalised samples to little-endian signed 16-bit PCM.
// Each sample s becomes round(s*32767), clamped to the int16 range so inputs
// outside [-1, 1] cannot overflow. NaN encodes as silence.
//
// The transport-safe representation (base64 for the JSON protocols) is applied
// by the transport, not here.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(quantize(s)))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM back to normalised
// samples. It is the sample-level inverse of [EncodePCM16]:
// DecodePCM16(EncodePCM16(x)) reproduces x within 1/32768.
//
// Returns a [*DecodeError] when data has an odd length.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, &DecodeError{Len: len(data)}
	}
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		q := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		v := float32(q) / pcmScale
		// -32768 has no positive counterpart; keep the result normalised.
		if v < -1 {
			v = -1
		}
		out[i] = v
	}
	return out, nil
}

// quantize maps one normalised sample to int16 with rounding and clamping.
func quantize(s float32) int16 {
	f := float64(s)
	if math.IsNaN(f) {
		return 0
	}
	q := math.Round(f * pcmScale)
	if q > math.MaxInt16 {
		return math.MaxInt16
	}
	if q < math.MinInt16 {
		return math.MinInt16
	}
	return int16(q)
}
