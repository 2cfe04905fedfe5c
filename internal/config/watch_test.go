package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	loaded := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := NewWatcher(path, func(c *Config) { loaded <- c }, func(e error) { errs <- e })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	select {
	case cfg := <-loaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case err := <-errs:
		t.Fatalf("unexpected watcher error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never reloaded after a write")
	}
}

func TestWatcherIgnoresOtherFilesInTheSameDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	loaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { loaded <- c }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.yaml"), []byte("x: 1"), 0o644))

	select {
	case <-loaded:
		t.Fatal("watcher reloaded for a write to an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherReportsParseErrorsWithoutStopping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	loaded := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := NewWatcher(path, func(c *Config) { loaded <- c }, func(e error) { errs <- e })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("logging: [this is not a mapping"), 0o644))

	select {
	case <-errs:
	case cfg := <-loaded:
		t.Fatalf("expected a parse error, got a loaded config: %+v", cfg)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never reported the parse error")
	}
}
