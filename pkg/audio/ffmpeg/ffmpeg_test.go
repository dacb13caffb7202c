package ffmpeg

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"testing"

	"github.com/MrWong99/lugha/pkg/audio"
)

func TestInputArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		goos    string
		format  string
		device  string
		want    []string
		wantErr bool
	}{
		{
			name: "linux default",
			goos: "linux",
			want: []string{"-hide_banner", "-loglevel", "error", "-f", "pulse", "-i", "default", "-ac", "1", "-ar", "16000", "-f", "s16le", "-"},
		},
		{
			name: "darwin default",
			goos: "darwin",
			want: []string{"-hide_banner", "-loglevel", "error", "-f", "avfoundation", "-i", ":0", "-ac", "1", "-ar", "16000", "-f", "s16le", "-"},
		},
		{
			name:   "linux custom format keeps default device",
			goos:   "linux",
			format: "alsa",
			want:   []string{"-hide_banner", "-loglevel", "error", "-f", "alsa", "-i", "default", "-ac", "1", "-ar", "16000", "-f", "s16le", "-"},
		},
		{
			name:    "windows without configuration",
			goos:    "windows",
			wantErr: true,
		},
		{
			name:    "windows format without device",
			goos:    "windows",
			format:  "dshow",
			wantErr: true,
		},
		{
			name:   "windows fully configured",
			goos:   "windows",
			format: "dshow",
			device: "audio=Microphone",
			want:   []string{"-hide_banner", "-loglevel", "error", "-f", "dshow", "-i", "audio=Microphone", "-ac", "1", "-ar", "16000", "-f", "s16le", "-"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := inputArgs(tt.goos, tt.format, tt.device, 16000)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got args %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestOutputArgs(t *testing.T) {
	t.Parallel()

	got := outputArgs(24000)
	want := []string{"-nodisp", "-autoexit", "-loglevel", "error", "-f", "s16le", "-ar", "24000", "-ac", "1", "-i", "pipe:0"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v\nwant %v", got, want)
	}
}

func TestMissingBinary(t *testing.T) {
	t.Parallel()

	d := &Devices{
		FFmpegPath: "lugha-no-such-ffmpeg-binary",
		FFplayPath: "lugha-no-such-ffplay-binary",
	}
	if _, err := d.OpenInput(context.Background(), audio.InputConfig{}); !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("OpenInput: got %v, want exec.ErrNotFound", err)
	}
	if _, err := d.OpenOutput(context.Background(), audio.OutputConfig{}); !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("OpenOutput: got %v, want exec.ErrNotFound", err)
	}
}
