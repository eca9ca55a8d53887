package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLoader(t *testing.T, home, cwd string, env map[string]string) *Loader {
	t.Helper()
	l := NewLoader(nil)
	l.homeDir = func() (string, error) { return home, nil }
	l.workDir = func() (string, error) { return cwd, nil }
	l.getenv = func(key string) string { return env[key] }
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoaderDefaults(t *testing.T) {
	l := testLoader(t, t.TempDir(), t.TempDir(), nil)

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.URI != DefaultConfig().Server.URI {
		t.Errorf("expected default uri, got %s", cfg.Server.URI)
	}
}

func TestLoaderPrecedence(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	cwd := filepath.Join(project, "sub", "dir")
	if err := os.MkdirAll(cwd, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	writeFile(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
server:
  uri: "http://user:3000/api"
  username: "user-level"
  password: "pw"
watch:
  lease: 3min
`)
	writeFile(t, filepath.Join(project, ProjectConfigFile), `
server:
  uri: "http://project:3000/api"
watch:
  ids: ["a", "b"]
`)
	env := map[string]string{
		EnvToken:   "env-token",
		EnvFormat:  "json",
		EnvNATSURL: "nats://env:4222",
	}

	l := testLoader(t, home, cwd, env)
	if got := l.FindProjectConfig(); got != filepath.Join(project, ProjectConfigFile) {
		t.Fatalf("FindProjectConfig() = %q", got)
	}

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.URI != "http://project:3000/api" {
		t.Errorf("project config should override user uri, got %s", cfg.Server.URI)
	}
	if cfg.Server.Username != "user-level" {
		t.Errorf("user username should survive, got %s", cfg.Server.Username)
	}
	if cfg.Watch.Lease != "3min" {
		t.Errorf("user lease should survive, got %s", cfg.Watch.Lease)
	}
	if len(cfg.Watch.Ids) != 2 {
		t.Errorf("expected project watch ids, got %v", cfg.Watch.Ids)
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("expected env token, got %s", cfg.Server.Token)
	}
	if cfg.Server.Content != "application/json" {
		t.Errorf("expected env format json, got %s", cfg.Server.Content)
	}
	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("expected env NATS URL, got %s", cfg.NATS.URL)
	}
	if cfg.Server.Version != "3.0" {
		t.Errorf("expected default version, got %s", cfg.Server.Version)
	}
}

func TestLoaderInvalidProjectConfig(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ProjectConfigFile), "watch:\n  poll_interval: 5x\n")

	_, err := testLoader(t, t.TempDir(), cwd, nil).Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoaderInvalidEnv(t *testing.T) {
	env := map[string]string{EnvFormat: "csv"}
	if _, err := testLoader(t, t.TempDir(), t.TempDir(), env).Load(); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoaderNoHome(t *testing.T) {
	l := testLoader(t, "", t.TempDir(), nil)
	l.homeDir = func() (string, error) { return "", errors.New("no home") }

	if got := l.UserConfigPath(); got != "" {
		t.Errorf("expected empty user config path, got %q", got)
	}
	if _, err := l.Load(); err != nil {
		t.Errorf("Load() without home should succeed: %v", err)
	}
}

func TestEnsureUserConfig(t *testing.T) {
	home := t.TempDir()
	l := testLoader(t, home, t.TempDir(), nil)

	if err := l.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	path := l.UserConfigPath()
	first, err := os.Stat(path)
	if err != nil {
		t.Fatalf("user config not created: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := l.EnsureUserConfig(); err != nil {
		t.Fatalf("second EnsureUserConfig() error = %v", err)
	}
	second, _ := os.Stat(path)
	if !first.ModTime().Equal(second.ModTime()) {
		t.Error("existing user config should not be rewritten")
	}
}
