package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultProvider is used when provider.name is empty.
const DefaultProvider = "gemini-live"

// maxLeadTime bounds session.lead_time; larger values make barge-in sluggish.
const maxLeadTime = time.Second

// ValidProviderNames lists the built-in live providers. Used by [Validate]
// to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live", "gemini-sdk", "openai-realtime"}

// Environment variables consulted by [ApplyEnv].
const (
	EnvAPIKey      = "LUGHA_API_KEY"
	EnvGeminiKey   = "GEMINI_API_KEY"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvPostgresDSN = "LUGHA_POSTGRES_DSN"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and secrets
// from the environment, and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from the given .env files (".env"
// when none are given). Variables already set in the process environment
// win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// ApplyDefaults fills empty selector fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = DefaultLanguage
	}
	if cfg.Session.Voice == "" {
		cfg.Session.Voice = DefaultVoice
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = BackendFFmpeg
	}
}

// ApplyEnv fills secrets left empty in the file from the environment.
// provider.api_key comes from LUGHA_API_KEY, falling back to the provider
// family's conventional variable (GEMINI_API_KEY or OPENAI_API_KEY).
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg.Provider.APIKey == "" {
		keys := []string{EnvAPIKey}
		switch {
		case strings.HasPrefix(cfg.Provider.Name, "gemini"):
			keys = append(keys, EnvGeminiKey)
		case strings.HasPrefix(cfg.Provider.Name, "openai"):
			keys = append(keys, EnvOpenAIKey)
		}
		for _, k := range keys {
			if v := getenv(k); v != "" {
				cfg.Provider.APIKey = v
				break
			}
		}
	}
	if cfg.Archive.PostgresDSN == "" {
		cfg.Archive.PostgresDSN = getenv(EnvPostgresDSN)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name, possibly a typo or a third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; set it in the config or via " + EnvAPIKey)
	}

	// Session
	s := cfg.Session
	if s.Language != "" {
		if _, ok := LookupLanguage(s.Language); !ok && s.Instructions == "" {
			errs = append(errs, fmt.Errorf("session.language %q is unknown; valid values: %s (or set session.instructions)", s.Language, languageIDs()))
		}
	}
	if s.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.input_sample_rate %d must not be negative", s.InputSampleRate))
	}
	if s.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.output_sample_rate %d must not be negative", s.OutputSampleRate))
	}
	if s.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("session.block_size %d must not be negative", s.BlockSize))
	}
	if s.LeadTime < 0 || s.LeadTime > maxLeadTime {
		errs = append(errs, fmt.Errorf("session.lead_time %v is out of range [0, %v]", s.LeadTime, maxLeadTime))
	}

	// Audio
	a := cfg.Audio
	if a.Backend != "" && !a.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: ffmpeg, file, null", a.Backend))
	}
	if a.OutputChannels < 0 || a.OutputChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.output_channels %d is invalid; valid values: 0, 1, 2", a.OutputChannels))
	}
	if a.OutputRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_rate %d must not be negative", a.OutputRate))
	}
	if a.Backend != BackendFile && (a.OutputPath != "" || a.OutputRate != 0 || a.OutputChannels != 0) {
		slog.Warn("audio.output_* settings only apply to the file backend", "backend", a.Backend)
	}

	// Archive
	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}
