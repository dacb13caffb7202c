package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/lugha/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"language", "session:\n  language: klingon\n", "session.language"},
		{"sample rate", "session:\n  input_sample_rate: -1\n", "session.input_sample_rate"},
		{"block size", "session:\n  block_size: -4\n", "session.block_size"},
		{"lead time", "session:\n  lead_time: 2s\n", "session.lead_time"},
		{"backend", "audio:\n  backend: alsa\n", "audio.backend"},
		{"channels", "audio:\n  backend: file\n  output_channels: 6\n", "audio.output_channels"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_UnknownLanguageWithInstructions(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "session:\n  language: klingon\n  instructions: Teach Klingon.\n")
	if got := cfg.LiveConfig().Instructions; got != "Teach Klingon." {
		t.Errorf("Instructions = %q", got)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\naudio:\n  backend: alsa\n"))
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "audio.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		config.EnvGeminiKey:   "gemini-key",
		config.EnvOpenAIKey:   "openai-key",
		config.EnvPostgresDSN: "postgres://env/lugha",
	}
	getenv := func(k string) string { return env[k] }

	tests := []struct {
		name     string
		provider string
		apiKey   string
		lugha    string
		want     string
	}{
		{"gemini family", "gemini-live", "", "", "gemini-key"},
		{"gemini sdk", "gemini-sdk", "", "", "gemini-key"},
		{"openai family", "openai-realtime", "", "", "openai-key"},
		{"generic key wins", "gemini-live", "", "lugha-key", "lugha-key"},
		{"file wins", "openai-realtime", "from-file", "lugha-key", "from-file"},
		{"unknown provider", "custom", "", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			get := func(k string) string {
				if k == config.EnvAPIKey {
					return tc.lugha
				}
				return getenv(k)
			}
			cfg := &config.Config{Provider: config.ProviderEntry{Name: tc.provider, APIKey: tc.apiKey}}
			config.ApplyEnv(cfg, get)
			if cfg.Provider.APIKey != tc.want {
				t.Errorf("api_key = %q, want %q", cfg.Provider.APIKey, tc.want)
			}
			if cfg.Archive.PostgresDSN != "postgres://env/lugha" {
				t.Errorf("postgres_dsn = %q", cfg.Archive.PostgresDSN)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LUGHA_TEST_DOTENV=habari\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LUGHA_TEST_DOTENV", "")
	os.Unsetenv("LUGHA_TEST_DOTENV")

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("LUGHA_TEST_DOTENV"); got != "habari" {
		t.Errorf("LUGHA_TEST_DOTENV = %q, want habari", got)
	}
}

func TestLoadDotEnv_ExistingVariablesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LUGHA_TEST_DOTENV_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LUGHA_TEST_DOTENV_KEEP", "from-process")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("LUGHA_TEST_DOTENV_KEEP"); got != "from-process" {
		t.Errorf("LUGHA_TEST_DOTENV_KEEP = %q, want from-process", got)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"gemini-live", "gemini-sdk", "openai-realtime"} {
		found := false
		for _, n := range config.ValidProviderNames {
			if n == name {
				found = true
			}
		}
		if !found {
			t.Errorf("%q missing from ValidProviderNames", name)
		}
	}
}
