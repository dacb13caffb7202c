package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when the persona or audio formats changed.
	// Applies to the next session started.
	SessionChanged bool

	// ProviderChanged is true when the live provider must be rebuilt.
	// Applies to the next session started.
	ProviderChanged bool

	// AudioChanged is true when the audio backend must be rebuilt.
	// Applies to the next session started.
	AudioChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// process restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || d.ProviderChanged || d.AudioChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}

	d.SessionChanged = !sessionEqual(old.Session, new.Session)
	d.ProviderChanged = !providerEqual(old.Provider, new.Provider)
	d.AudioChanged = old.Audio != new.Audio

	if old.Archive.PostgresDSN != new.Archive.PostgresDSN ||
		old.Archive.MigrateEnabled() != new.Archive.MigrateEnabled() {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	return d
}

// sessionEqual compares session sections by effective value, so an explicit
// "true" equals an omitted transcription flag.
func sessionEqual(a, b SessionConfig) bool {
	if a.InputTranscriptionEnabled() != b.InputTranscriptionEnabled() ||
		a.OutputTranscriptionEnabled() != b.OutputTranscriptionEnabled() {
		return false
	}
	a.InputTranscription, a.OutputTranscription = nil, nil
	b.InputTranscription, b.OutputTranscription = nil, nil
	return a == b
}

func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return maps.EqualFunc(a.Options, b.Options, func(x, y any) bool { return reflect.DeepEqual(x, y) })
}
