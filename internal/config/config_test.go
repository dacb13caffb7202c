package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lugha/internal/config"
	"github.com/MrWong99/lugha/pkg/audio"
	audiomock "github.com/MrWong99/lugha/pkg/audio/mock"
	"github.com/MrWong99/lugha/pkg/provider/live"
	livemock "github.com/MrWong99/lugha/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

provider:
  name: openai-realtime
  api_key: sk-test
  model: gpt-4o-realtime-preview
  options:
    send_queue: 128

session:
  language: kikuyu
  voice: alloy
  input_sample_rate: 24000
  output_sample_rate: 24000
  block_size: 2048
  lead_time: 20ms
  input_transcription: false

audio:
  backend: file
  input_device: mic.raw
  output_path: tutor.raw
  output_rate: 48000
  output_channels: 2

archive:
  postgres_dsn: postgres://localhost/lugha
  migrate: false
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Provider.Name != "openai-realtime" || cfg.Provider.APIKey != "sk-test" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if n, ok := config.OptInt(cfg.Provider.Options, "send_queue"); !ok || n != 128 {
		t.Errorf("options.send_queue = %d, %v", n, ok)
	}
	if cfg.Session.LeadTime != 20*time.Millisecond {
		t.Errorf("lead_time = %v, want 20ms", cfg.Session.LeadTime)
	}
	if cfg.Session.InputTranscriptionEnabled() {
		t.Error("input transcription should be disabled")
	}
	if !cfg.Session.OutputTranscriptionEnabled() {
		t.Error("output transcription should default to enabled")
	}
	if cfg.Audio.Backend != config.BackendFile || cfg.Audio.OutputChannels != 2 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Archive.MigrateEnabled() {
		t.Error("migrations should be disabled")
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Provider.Name != config.DefaultProvider {
		t.Errorf("provider.name = %q, want %q", cfg.Provider.Name, config.DefaultProvider)
	}
	if cfg.Session.Language != "swahili" || cfg.Session.Voice != "Zephyr" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Audio.Backend != config.BackendFFmpeg {
		t.Errorf("audio.backend = %q, want ffmpeg", cfg.Audio.Backend)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if !cfg.Archive.MigrateEnabled() {
		t.Error("migrations should default to enabled")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("session:\n  langauge: luo\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/lugha.yaml")
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Fatalf("Load = %v, want open error", err)
	}
}

// ── persona ──────────────────────────────────────────────────────────────────

func TestLiveConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		yaml      string
		wantInstr string
		wantVoice string
		wantRate  int
	}{
		{
			name:      "defaults",
			yaml:      "",
			wantInstr: "You are a friendly and encouraging Swahili language tutor. Keep your responses short and conversational. Guide the user to practice speaking.",
			wantVoice: "Zephyr",
			wantRate:  audio.DefaultOutputSampleRate,
		},
		{
			name:      "language selects persona",
			yaml:      "session:\n  language: Kalenjin\n",
			wantInstr: "You are a friendly and encouraging Kalenjin language tutor.",
			wantVoice: "Zephyr",
			wantRate:  audio.DefaultOutputSampleRate,
		},
		{
			name:      "explicit instructions win",
			yaml:      "session:\n  language: luo\n  instructions: Speak only Dholuo.\n  voice: Puck\n  output_sample_rate: 16000\n",
			wantInstr: "Speak only Dholuo.",
			wantVoice: "Puck",
			wantRate:  16000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			lc := mustLoad(t, tc.yaml).LiveConfig()
			if !strings.HasPrefix(lc.Instructions, tc.wantInstr) {
				t.Errorf("Instructions = %q, want prefix %q", lc.Instructions, tc.wantInstr)
			}
			if lc.Voice != tc.wantVoice {
				t.Errorf("Voice = %q, want %q", lc.Voice, tc.wantVoice)
			}
			if lc.OutputSampleRate != tc.wantRate {
				t.Errorf("OutputSampleRate = %d, want %d", lc.OutputSampleRate, tc.wantRate)
			}
			if !lc.InputTranscription || !lc.OutputTranscription {
				t.Error("transcription should be enabled by default")
			}
		})
	}
}

func TestInputOutputConfig(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "session:\n  block_size: 1024\n")

	in := cfg.InputConfig()
	if in.SampleRate != audio.DefaultInputSampleRate || in.BlockSize != 1024 {
		t.Errorf("InputConfig = %+v", in)
	}
	if out := cfg.OutputConfig(); out.SampleRate != audio.DefaultOutputSampleRate {
		t.Errorf("OutputConfig = %+v", out)
	}
}

func TestLookupLanguage(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"swahili", "LUO", "Kikuyu", "kalenjin"} {
		if _, ok := config.LookupLanguage(id); !ok {
			t.Errorf("LookupLanguage(%q) not found", id)
		}
	}
	if _, ok := config.LookupLanguage("klingon"); ok {
		t.Error("LookupLanguage(klingon) should fail")
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateLive(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateAudio(config.AudioConfig{Backend: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAudio = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var got config.ProviderEntry
	want := &livemock.Provider{}
	reg.RegisterLive("mock", func(e config.ProviderEntry) (live.Provider, error) {
		got = e
		return want, nil
	})
	devs := &audiomock.Devices{}
	reg.RegisterAudio(config.BackendNull, func(config.AudioConfig) (audio.Devices, error) { return devs, nil })

	p, err := reg.CreateLive(config.ProviderEntry{Name: "mock", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if p != want || got.APIKey != "k" {
		t.Errorf("factory not invoked with entry: %+v", got)
	}
	d, err := reg.CreateAudio(config.AudioConfig{Backend: config.BackendNull})
	if err != nil || d != devs {
		t.Errorf("CreateAudio = %v, %v", d, err)
	}
	if names := reg.LiveNames(); len(names) != 1 || names[0] != "mock" {
		t.Errorf("LiveNames = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("no api key")
	reg.RegisterLive("broken", func(config.ProviderEntry) (live.Provider, error) { return nil, boom })

	if _, err := reg.CreateLive(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("CreateLive = %v, want %v", err, boom)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"s": "x", "i": 3, "f": 4.0, "frac": 1.5}

	if got := config.OptString(opts, "s"); got != "x" {
		t.Errorf("OptString(s) = %q", got)
	}
	if got := config.OptString(opts, "i"); got != "" {
		t.Errorf("OptString(i) = %q, want empty", got)
	}
	if got := config.OptString(nil, "s"); got != "" {
		t.Errorf("OptString(nil) = %q", got)
	}
	for key, want := range map[string]int{"i": 3, "f": 4} {
		if got, ok := config.OptInt(opts, key); !ok || got != want {
			t.Errorf("OptInt(%s) = %d, %v", key, got, ok)
		}
	}
	if _, ok := config.OptInt(opts, "frac"); ok {
		t.Error("OptInt(frac) should fail")
	}
}
