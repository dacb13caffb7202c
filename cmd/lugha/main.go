// Command lugha runs a live spoken conversation with a language tutor.
//
// It streams the microphone to the configured conversational service, plays
// the tutor's voice as it arrives, and prints the running transcript.
// Sessions are started and stopped from stdin or over the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/lugha/internal/app"
	"github.com/MrWong99/lugha/internal/config"
	"github.com/MrWong99/lugha/internal/observe"
	"github.com/MrWong99/lugha/pkg/audio"
	"github.com/MrWong99/lugha/pkg/audio/ffmpeg"
	"github.com/MrWong99/lugha/pkg/audio/pcmio"
	"github.com/MrWong99/lugha/pkg/provider/live"
	geminilive "github.com/MrWong99/lugha/pkg/provider/live/gemini"
	"github.com/MrWong99/lugha/pkg/provider/live/geminisdk"
	oailive "github.com/MrWong99/lugha/pkg/provider/live/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "lugha.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to a .env file with API keys")
	language := flag.String("language", "", "tutor language, overrides session.language")
	autoStart := flag.Bool("start", false, "start a session immediately")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "lugha: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *language)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lugha: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("lugha starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	console := newConsole(os.Stdout)
	application, err := app.New(ctx, cfg, providers, app.WithSnapshotHandler(console.onSnapshot))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg, providers)

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
		if *language != "" {
			next.Session.Language = *language
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if !d.SessionChanged && !d.ProviderChanged && !d.AudioChanged {
			return
		}
		var ps *app.Providers
		if d.ProviderChanged || d.AudioChanged {
			built, err := buildProviders(next, reg)
			if err != nil {
				slog.Error("config reload: failed to rebuild providers, keeping previous ones", "err", err)
				return
			}
			ps = built
		}
		application.Reconfigure(next, ps)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx) }()

	if *autoStart {
		if _, err := application.Manager().Start(ctx); err != nil {
			slog.Error("failed to start session", "err", err)
		}
	}

	commands := make(chan string)
	go readCommands(os.Stdin, commands)
	console.prompt()

	exitCode := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-runErr:
			if err != nil {
				slog.Error("run error", "err", err)
				exitCode = 1
			}
			break loop
		case line, ok := <-commands:
			if !ok {
				// stdin closed: keep serving until a signal arrives.
				commands = nil
				continue
			}
			if !console.handle(ctx, application.Manager(), line) {
				break loop
			}
		}
	}
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// loadConfig reads the config file. A missing file is not an error: the
// defaults plus environment are enough to talk to the default provider.
func loadConfig(path, language string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
		config.ApplyEnv(cfg, os.Getenv)
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if language != "" {
		cfg.Session.Language = language
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live provider and audio backend
// factories that ship with Lugha into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live providers ────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("api key is required")
		}
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if n, ok := config.OptInt(entry.Options, "send_queue"); ok {
			opts = append(opts, geminilive.WithSendQueue(n))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("gemini-sdk", func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("api key is required")
		}
		var opts []geminisdk.Option
		if entry.Model != "" {
			opts = append(opts, geminisdk.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminisdk.WithBaseURL(entry.BaseURL))
		}
		if n, ok := config.OptInt(entry.Options, "send_queue"); ok {
			opts = append(opts, geminisdk.WithSendQueue(n))
		}
		return geminisdk.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("api key is required")
		}
		var opts []oailive.Option
		if entry.Model != "" {
			opts = append(opts, oailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oailive.WithBaseURL(entry.BaseURL))
		}
		if n, ok := config.OptInt(entry.Options, "send_queue"); ok {
			opts = append(opts, oailive.WithSendQueue(n))
		}
		return oailive.New(entry.APIKey, opts...), nil
	})

	// ── Audio backends ────────────────────────────────────────────────────────

	reg.RegisterAudio(config.BackendFFmpeg, func(ac config.AudioConfig) (audio.Devices, error) {
		return &ffmpeg.Devices{InputFormat: ac.InputFormat, InputDevice: ac.InputDevice}, nil
	})

	reg.RegisterAudio(config.BackendFile, func(ac config.AudioConfig) (audio.Devices, error) {
		return &pcmio.FileDevices{
			InputPath:      ac.InputDevice,
			OutputPath:     ac.OutputPath,
			OutputRate:     ac.OutputRate,
			OutputChannels: ac.OutputChannels,
		}, nil
	})

	reg.RegisterAudio(config.BackendNull, func(config.AudioConfig) (audio.Devices, error) {
		return pcmio.NullDevices{}, nil
	})

	for _, name := range reg.LiveNames() {
		slog.Debug("registered provider", "kind", "live", "name", name)
	}
}

// buildProviders instantiates the live provider and audio devices named in
// cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	p, err := reg.CreateLive(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Provider.Name, err)
	}
	slog.Info("provider created", "kind", "live", "name", p.Name())

	devs, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	return &app.Providers{Live: p, Devices: devs}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	lc := cfg.LiveConfig()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Lugha - startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", ps.Live.Name()+modelSuffix(cfg.Provider.Model))
	printRow("Language", cfg.Session.Language)
	printRow("Voice", lc.Voice)
	printRow("Audio", string(cfg.Audio.Backend))
	printRow("Mic rate", fmt.Sprintf("%d Hz", cfg.InputConfig().SampleRate))
	printRow("Speaker rate", fmt.Sprintf("%d Hz", lc.OutputSampleRate))
	if cfg.Archive.PostgresDSN != "" {
		printRow("Archive", "postgres")
	} else {
		printRow("Archive", "(in memory)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func modelSuffix(model string) string {
	if model == "" {
		return ""
	}
	return " / " + model
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
