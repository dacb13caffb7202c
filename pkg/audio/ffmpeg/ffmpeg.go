// Package ffmpeg implements [audio.Devices] on top of the ffmpeg and ffplay
// command-line tools: ffmpeg records the system microphone as s16le PCM on
// its stdout, ffplay plays s16le PCM written to its stdin.
//
// Both tools must be on PATH (or configured explicitly). A missing binary is
// reported when the device is opened.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/MrWong99/lugha/pkg/audio"
	"github.com/MrWong99/lugha/pkg/audio/pcmio"
)

var _ audio.Devices = (*Devices)(nil)

// Devices opens the system microphone and speaker through ffmpeg/ffplay.
// The zero value uses the platform's default capture device.
type Devices struct {
	// FFmpegPath and FFplayPath override the binaries looked up on PATH.
	FFmpegPath string
	FFplayPath string

	// InputFormat is the ffmpeg capture format (e.g. "pulse", "alsa",
	// "avfoundation"). Empty selects the platform default.
	InputFormat string

	// InputDevice is the ffmpeg capture device name. Empty selects the
	// platform default.
	InputDevice string
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context, cfg audio.InputConfig) (audio.InputDevice, error) {
	cfg = cfg.WithDefaults()
	bin, err := lookPath(d.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	args, err := inputArgs(runtime.GOOS, d.InputFormat, d.InputDevice, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start mic capture: %w", err)
	}
	return pcmio.NewInput(stdout, cfg, pcmio.WithCloseFunc(reaper(cmd))), nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, cfg audio.OutputConfig) (audio.OutputDevice, error) {
	cfg = cfg.WithDefaults()
	bin, err := lookPath(d.FFplayPath, "ffplay")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, outputArgs(cfg.SampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start ffplay: %w", err)
	}
	kill := reaper(cmd)
	return pcmio.NewOutput(stdin, cfg, pcmio.WithCloseFunc(func() error {
		_ = stdin.Close()
		return kill()
	})), nil
}

func lookPath(override, name string) (string, error) {
	if override == "" {
		override = name
	}
	p, err := exec.LookPath(override)
	if err != nil {
		return "", fmt.Errorf("ffmpeg: %s is required for live audio (install it and ensure it is in PATH): %w", name, err)
	}
	return p, nil
}

// reaper returns a close function that kills cmd and waits for it once.
func reaper(cmd *exec.Cmd) func() error {
	var once sync.Once
	return func() error {
		once.Do(func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
			}
		})
		return nil
	}
}

// inputArgs builds the ffmpeg arguments for capturing mono s16le at rate Hz.
func inputArgs(goos, format, device string, rate int) ([]string, error) {
	if format == "" || device == "" {
		defFormat, defDevice, err := defaultInput(goos)
		if err != nil && format == "" {
			return nil, err
		}
		if format == "" {
			format = defFormat
		}
		if device == "" {
			device = defDevice
		}
	}
	if device == "" {
		return nil, errors.New("ffmpeg: input device must be set for custom input format " + strconv.Quote(format))
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", device,
		"-ac", "1", "-ar", strconv.Itoa(rate),
		"-f", "s16le", "-",
	}, nil
}

func defaultInput(goos string) (format, device string, err error) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0", nil
	case "linux":
		return "pulse", "default", nil
	default:
		return "", "", fmt.Errorf("ffmpeg: mic capture has no default for %s; set audio.input_format and audio.input_device", goos)
	}
}

// outputArgs builds the ffplay arguments for playing mono s16le at rate Hz.
func outputArgs(rate int) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-i", "pipe:0",
	}
}
