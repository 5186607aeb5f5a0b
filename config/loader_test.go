package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/env_mode"
	apperrors "github.com/leeforge/runtimekit/errors"
)

// --- Test Helpers ---

func setMode(t *testing.T, mode string) {
	t.Helper()
	t.Setenv(env_mode.ENV_MODE_KEY, mode)
	env_mode.Reset()
	t.Cleanup(env_mode.Reset)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testOptions(dir string) Options {
	return Options{BasePath: dir, Logger: zap.NewNop()}
}

// --- Tests ---

func TestLoaderMergeLadder(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "a: 1\nb: 1\n")
	writeFile(t, dir, "config.local.yaml", "b: 2\nc: 2\n")
	writeFile(t, dir, "config.dev.yaml", "c: 3\n")

	loader, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := loader.Get("a"); got != 1 {
		t.Errorf("a = %v, want base value 1", got)
	}
	if got := loader.Get("b"); got != 2 {
		t.Errorf("b = %v, want local override 2", got)
	}
	if got := loader.Get("c"); got != 3 {
		t.Errorf("c = %v, want dev override 3", got)
	}
}

func TestLoaderNoFilesFound(t *testing.T) {
	_, err := New(testOptions(t.TempDir()))
	if !apperrors.IsKind(err, apperrors.KindConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestLoaderEnvOverride(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "redis:\n  host: filehost\n")
	t.Setenv("APP_REDIS_HOST", "envhost")

	opts := testOptions(dir)
	opts.EnvPrefix = "APP"
	loader, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := loader.Get("redis.host"); got != "envhost" {
		t.Errorf("redis.host = %v, want the environment override", got)
	}
}

func TestLoaderBindSection(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "server:\n  name: gateway\n  port: 8080\n")

	loader, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var server struct {
		Name string `mapstructure:"name"`
		Port int    `mapstructure:"port"`
	}
	if err := loader.Bind("server", &server); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if server.Name != "gateway" || server.Port != 8080 {
		t.Errorf("server = %+v, want gateway:8080", server)
	}
}

func TestLoaderBindWithDefaults(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "server:\n  port: 8080\n")

	loader, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var server struct {
		Name    string        `mapstructure:"name" default:"gateway"`
		Port    int           `mapstructure:"port" default:"80"`
		Timeout time.Duration `mapstructure:"timeout" default:"5s"`
	}
	if err := loader.BindWithDefaults("server", &server); err != nil {
		t.Fatalf("BindWithDefaults: %v", err)
	}
	if server.Port != 8080 {
		t.Errorf("port = %d, want the file value 8080", server.Port)
	}
	if server.Name != "gateway" || server.Timeout != 5*time.Second {
		t.Errorf("server = %+v, want defaults for absent keys", server)
	}
}

type rejectingTarget struct {
	Port int `mapstructure:"port"`
}

func (r *rejectingTarget) Validate() error {
	if r.Port < 1024 {
		return apperrors.Validation("port", "must be above 1023")
	}
	return nil
}

func TestLoaderBindRunsValidator(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "server:\n  port: 80\n")

	loader, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = loader.Bind("server", &rejectingTarget{})
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("err = %v, want the target's validation error", err)
	}
}

func TestLoaderSnapshotRestore(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "a: 1\n")

	loader, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := loader.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	loader.Set("a", 99)
	if got := loader.Get("a"); got != 99 {
		t.Fatalf("a = %v after Set, want 99", got)
	}
	if err := loader.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := loader.Get("a"); got != 1 {
		t.Errorf("a = %v after Restore, want 1", got)
	}
}

func TestLoaderRestoreWithoutSnapshot(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "a: 1\n")

	loader, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loader.Restore(); !apperrors.IsKind(err, apperrors.KindConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestLoaderLoadAll(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "shared: from-config\nbase: 1\n")
	writeFile(t, dir, "extra.yaml", "shared: from-extra\nextra: 2\n")

	opts := testOptions(dir)
	opts.LoadAll = true
	loader, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := loader.Get("base"); got != 1 {
		t.Errorf("base = %v, want 1", got)
	}
	if got := loader.Get("extra"); got != 2 {
		t.Errorf("extra = %v, want 2", got)
	}
	// "config" merges first, so other files override shared keys.
	if got := loader.Get("shared"); got != "from-extra" {
		t.Errorf("shared = %v, want the later file to win", got)
	}
}

func TestLoaderExport(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "a: 1\n")

	loader, err := New(testOptions(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := filepath.Join(dir, "out", "merged.yaml")
	if err := loader.Export(out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "a:") {
		t.Errorf("export = %q, want merged keys", data)
	}
}

func TestLoaderWatchReload(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "a: 1\n")

	reloaded := make(chan struct{}, 8)
	opts := testOptions(dir)
	opts.Watch = true
	opts.OnChange = func(fsnotify.Event) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}

	loader, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer loader.Close()

	var target struct {
		A int `mapstructure:"a"`
	}
	if err := loader.Bind("", &target); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if target.A != 1 {
		t.Fatalf("a = %d, want 1", target.A)
	}

	writeFile(t, dir, "config.yaml", "a: 2\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not fire")
	}
	if target.A != 2 {
		t.Errorf("a = %d after reload, want 2", target.A)
	}
	if got := loader.Get("a"); got != 2 {
		t.Errorf("Get(a) = %v after reload, want 2", got)
	}
}
