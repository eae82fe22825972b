package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
base_url = "http://profiling.service.internal:8080"
timeout_seconds = 60
max_connections = 20

[upstream.retry]
max_attempts = 5
methods = ["GET"]

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Upstream.MaxConnections != 20 {
		t.Errorf("Upstream.MaxConnections = %d, want %d", cfg.Upstream.MaxConnections, 20)
	}
	if cfg.Upstream.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want %d", cfg.Upstream.Retry.MaxAttempts, 5)
	}
	if len(cfg.Upstream.Retry.Methods) != 1 || cfg.Upstream.Retry.Methods[0] != "GET" {
		t.Errorf("Retry.Methods = %v, want [GET]", cfg.Upstream.Retry.Methods)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://profiling.example.com"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want 30", cfg.Upstream.TimeoutSeconds)
	}
	if cfg.Upstream.MaxConnections != 10 {
		t.Errorf("Upstream.MaxConnections = %d, want 10", cfg.Upstream.MaxConnections)
	}
	if cfg.Upstream.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Upstream.Retry.MaxAttempts)
	}
	if len(cfg.Upstream.Retry.Methods) != 2 || cfg.Upstream.Retry.Methods[0] != "GET" || cfg.Upstream.Retry.Methods[1] != "POST" {
		t.Errorf("Retry.Methods = %v, want [GET POST]", cfg.Upstream.Retry.Methods)
	}
	if cfg.Upstream.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout() = %v, want 30s", cfg.Upstream.RequestTimeout())
	}
	if cfg.Upstream.Retry.BaseBackoff() != 100*time.Millisecond {
		t.Errorf("BaseBackoff() = %v, want 100ms", cfg.Upstream.Retry.BaseBackoff())
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "https://profiling.example.com"
`)

	cli := &CLI{
		Config:      path,
		Host:        "127.0.0.1",
		Port:        9999,
		UpstreamURL: "https://other.example.com",
		LogLevel:    "warn",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want CLI override", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want CLI override", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != "https://other.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want CLI override", cfg.Upstream.BaseURL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want CLI override", cfg.Log.Level)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantSub string
	}{
		{
			name:    "missing base_url",
			data:    "[server]\nport = 8000\n",
			wantSub: "base_url is required",
		},
		{
			name:    "bad scheme",
			data:    "[upstream]\nbase_url = \"ftp://profiling.example.com\"\n",
			wantSub: "must use http or https",
		},
		{
			name:    "bad port",
			data:    "[server]\nport = 99999\n\n[upstream]\nbase_url = \"https://p.example.com\"\n",
			wantSub: "server.port",
		},
		{
			name:    "unknown retry method",
			data:    "[upstream]\nbase_url = \"https://p.example.com\"\n\n[upstream.retry]\nmethods = [\"FETCH\"]\n",
			wantSub: "unknown method",
		},
		{
			name:    "auth required without token_url",
			data:    "[upstream]\nbase_url = \"https://p.example.com\"\n\n[auth]\nrequired = true\nclient_id = \"id\"\nclient_secret = \"sec\"\n",
			wantSub: "auth.token_url",
		},
		{
			name:    "auth required without credentials",
			data:    "[upstream]\nbase_url = \"https://p.example.com\"\n\n[auth]\nrequired = true\ntoken_url = \"https://sts.example.com/token\"\n",
			wantSub: "auth.client_id",
		},
		{
			name:    "bad log level",
			data:    "[upstream]\nbase_url = \"https://p.example.com\"\n\n[log]\nlevel = \"verbose\"\n",
			wantSub: "log.level",
		},
		{
			name:    "metrics path conflicts",
			data:    "[upstream]\nbase_url = \"https://p.example.com\"\n\n[metrics]\nenabled = true\npath = \"/healthz\"\n",
			wantSub: "reserved route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath(filepath.Join(t.TempDir(), "nope.toml")))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(existing, []byte(""), 0o600); err != nil {
		t.Fatal(err)
	}

	got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml"), existing})
	if got != existing {
		t.Errorf("findConfigInPaths() = %q, want %q", got, existing)
	}

	if got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml")}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestWarnPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file mode semantics differ on windows")
	}

	path := writeConfig(t, "[upstream]\nbase_url = \"https://p.example.com\"\n")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "chmod 600") {
		t.Errorf("expected permissions warning, got %q", buf.String())
	}
}
