package pcmio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/lugha/pkg/audio"
)

func TestFileDevices_InputFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mic.pcm")
	if err := os.WriteFile(path, audio.EncodePCM16(constant(8, 0.5)), 0o600); err != nil {
		t.Fatal(err)
	}

	d := &FileDevices{InputPath: path}
	in, err := d.OpenInput(context.Background(), audio.InputConfig{SampleRate: 16000, BlockSize: 4})
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := range 2 {
		b, err := in.ReadBlock(ctx)
		if err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
		if len(b) != 4 {
			t.Fatalf("block %d: got %d samples, want 4", i, len(b))
		}
	}
}

func TestFileDevices_MissingInput(t *testing.T) {
	t.Parallel()

	d := &FileDevices{InputPath: filepath.Join(t.TempDir(), "missing.pcm")}
	if _, err := d.OpenInput(context.Background(), audio.InputConfig{}); err == nil {
		t.Fatal("expected error for missing input file")
	}
}

func TestFileDevices_OutputToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speaker.pcm")
	d := &FileDevices{OutputPath: path}
	out, err := d.OpenOutput(context.Background(), audio.OutputConfig{SampleRate: 24000})
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file not created: %v", err)
	}
}

func TestNullDevices_Silence(t *testing.T) {
	t.Parallel()

	in, err := NullDevices{}.OpenInput(context.Background(), audio.InputConfig{SampleRate: 16000, BlockSize: 160})
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	b, err := in.ReadBlock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range b {
		if s != 0 {
			t.Fatalf("sample %d: got %v, want silence", i, s)
		}
	}
}
