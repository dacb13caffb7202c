package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/lugha/internal/config"
)

const pollInterval = 20 * time.Millisecond

// tutorYAML renders a minimal valid config; only the fields the tests vary
// are parameters.
func tutorYAML(logLevel, language, apiKey, listenAddr string) string {
	return fmt.Sprintf(`
server:
  listen_addr: %q
  log_level: %s
provider:
  name: gemini-live
  api_key: %s
session:
  language: %s
audio:
  backend: "null"
`, listenAddr, logLevel, apiKey, language)
}

type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// watchedFile is a config file under a Watcher whose changes are delivered
// on a channel.
type watchedFile struct {
	t       *testing.T
	path    string
	w       *config.Watcher
	changes chan change
	mtime   time.Time
}

func newWatchedFile(t *testing.T, content string) *watchedFile {
	t.Helper()
	f := &watchedFile{
		t:       t,
		path:    filepath.Join(t.TempDir(), "lugha.yaml"),
		changes: make(chan change, 8),
		mtime:   time.Now().Add(-time.Hour),
	}
	f.write(content)

	w, err := config.NewWatcher(f.path, func(old, new *config.Config, d config.ConfigDiff) {
		f.changes <- change{old: old, new: new, diff: d}
	}, config.WithInterval(pollInterval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	f.w = w
	return f
}

// write replaces the file and advances its mtime explicitly so coarse
// filesystem timestamps never hide a write.
func (f *watchedFile) write(content string) {
	f.t.Helper()
	if err := os.WriteFile(f.path, []byte(content), 0o644); err != nil {
		f.t.Fatalf("write %s: %v", f.path, err)
	}
	f.mtime = f.mtime.Add(time.Second)
	if err := os.Chtimes(f.path, f.mtime, f.mtime); err != nil {
		f.t.Fatalf("chtimes %s: %v", f.path, err)
	}
}

func (f *watchedFile) next() change {
	f.t.Helper()
	select {
	case c := <-f.changes:
		return c
	case <-time.After(2 * time.Second):
		f.t.Fatal("no change delivered")
		return change{}
	}
}

// quiet asserts that no change arrives within several poll intervals.
func (f *watchedFile) quiet() {
	f.t.Helper()
	select {
	case c := <-f.changes:
		f.t.Fatalf("unexpected change: %+v", c.diff)
	case <-time.After(10 * pollInterval):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	f := newWatchedFile(t, tutorYAML("info", "kikuyu", "k1", ""))

	cfg := f.w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Session.Language != "kikuyu" {
		t.Errorf("language = %q, want kikuyu", cfg.Session.Language)
	}
	f.quiet()
}

func TestWatcher_SuccessiveChanges(t *testing.T) {
	t.Parallel()
	f := newWatchedFile(t, tutorYAML("info", "swahili", "k1", ""))

	f.write(tutorYAML("debug", "luo", "k1", ""))
	c := f.next()
	if c.old.Session.Language != "swahili" || c.new.Session.Language != "luo" {
		t.Errorf("language %q -> %q, want swahili -> luo", c.old.Session.Language, c.new.Session.Language)
	}
	if !c.diff.LogLevelChanged || !c.diff.SessionChanged {
		t.Errorf("diff = %+v, want log level and session changes", c.diff)
	}
	if c.diff.ProviderChanged || c.diff.AudioChanged {
		t.Errorf("diff = %+v, provider and audio are unchanged", c.diff)
	}

	f.write(tutorYAML("debug", "luo", "k2", ""))
	c = f.next()
	if !c.diff.ProviderChanged || c.diff.SessionChanged || c.diff.LogLevelChanged {
		t.Errorf("diff = %+v, want only a provider change", c.diff)
	}
	if c.old.Provider.APIKey != "k1" {
		t.Errorf("old api key = %q, want the previous reload's value", c.old.Provider.APIKey)
	}
	if got := f.w.Current().Provider.APIKey; got != "k2" {
		t.Errorf("Current api key = %q, want k2", got)
	}
}

func TestWatcher_InvalidFileIsSkipped(t *testing.T) {
	t.Parallel()
	f := newWatchedFile(t, tutorYAML("info", "swahili", "k1", ""))

	f.write(tutorYAML("loud", "swahili", "k1", ""))
	f.quiet()
	if got := f.w.Current().Server.LogLevel; got != config.LogInfo {
		t.Fatalf("Current log_level = %q after invalid write, want info", got)
	}

	f.write(tutorYAML("warn", "swahili", "k1", ""))
	c := f.next()
	if c.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want the last valid config", c.old.Server.LogLevel)
	}
	if c.new.Server.LogLevel != config.LogWarn {
		t.Errorf("new log_level = %q, want warn", c.new.Server.LogLevel)
	}
}

func TestWatcher_IdenticalRewriteIsQuiet(t *testing.T) {
	t.Parallel()
	content := tutorYAML("info", "kalenjin", "k1", "")
	f := newWatchedFile(t, content)

	f.write(content)
	f.quiet()
}

func TestWatcher_RestartRequired(t *testing.T) {
	t.Parallel()
	f := newWatchedFile(t, tutorYAML("info", "swahili", "k1", ":8080"))

	f.write(tutorYAML("info", "swahili", "k1", ":9090"))
	c := f.next()
	if !slices.Contains(c.diff.RestartRequired, "server.listen_addr") {
		t.Errorf("RestartRequired = %v, want server.listen_addr", c.diff.RestartRequired)
	}
}

func TestWatcher_StopEndsDelivery(t *testing.T) {
	t.Parallel()
	f := newWatchedFile(t, tutorYAML("info", "swahili", "k1", ""))

	f.w.Stop()
	f.w.Stop()
	f.write(tutorYAML("debug", "luo", "k1", ""))
	f.quiet()
}

func TestNewWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	invalid := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(invalid, []byte("server:\n  log_level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for name, path := range map[string]string{
		"missing": filepath.Join(t.TempDir(), "absent.yaml"),
		"invalid": invalid,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.NewWatcher(path, nil); err == nil {
				t.Fatal("NewWatcher succeeded, want error")
			}
		})
	}
}
