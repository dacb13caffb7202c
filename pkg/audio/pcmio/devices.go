package pcmio

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/lugha/pkg/audio"
)

var (
	_ audio.Devices = (*FileDevices)(nil)
	_ audio.Devices = NullDevices{}
)

// FileDevices reads microphone audio from an s16le file and renders playback
// into another. Either path may be empty: an empty input path yields
// silence, an empty output path discards playback.
type FileDevices struct {
	InputPath  string
	OutputPath string

	// OutputRate and OutputChannels set the written format. Zero keeps the
	// session's playback rate and mono.
	OutputRate     int
	OutputChannels int
}

// OpenInput implements [audio.Devices]. The file is read in real time.
func (d *FileDevices) OpenInput(_ context.Context, cfg audio.InputConfig) (audio.InputDevice, error) {
	if d.InputPath == "" {
		return NullDevices{}.OpenInput(context.Background(), cfg)
	}
	f, err := os.Open(d.InputPath)
	if err != nil {
		return nil, fmt.Errorf("pcmio: open input file: %w", err)
	}
	return NewInput(f, cfg, WithPacing(), WithCloseFunc(f.Close)), nil
}

// OpenOutput implements [audio.Devices].
func (d *FileDevices) OpenOutput(_ context.Context, cfg audio.OutputConfig) (audio.OutputDevice, error) {
	opts := []Option{WithDeviceRate(d.OutputRate), WithChannels(d.OutputChannels)}
	if d.OutputPath == "" {
		return NewOutput(io.Discard, cfg, opts...), nil
	}
	f, err := os.Create(d.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("pcmio: create output file: %w", err)
	}
	return NewOutput(f, cfg, append(opts, WithCloseFunc(f.Close))...), nil
}

// NullDevices captures silence and discards playback while keeping real-time
// pacing on both sides.
type NullDevices struct{}

// OpenInput implements [audio.Devices].
func (NullDevices) OpenInput(_ context.Context, cfg audio.InputConfig) (audio.InputDevice, error) {
	return NewInput(zeroReader{}, cfg, WithPacing()), nil
}

// OpenOutput implements [audio.Devices].
func (NullDevices) OpenOutput(_ context.Context, cfg audio.OutputConfig) (audio.OutputDevice, error) {
	return NewOutput(io.Discard, cfg), nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
