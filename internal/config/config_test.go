// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env overrides, secret files and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.IP != DefaultIP || cfg.Server.Port != DefaultPort {
		t.Errorf("listen = %s, want %s:%d", cfg.ListenAddr(), DefaultIP, DefaultPort)
	}
	if cfg.Server.PollInterval != 2*time.Second {
		t.Errorf("Server.PollInterval = %v, want 2s", cfg.Server.PollInterval)
	}
	if cfg.Gateway.MPIMHideDelay != 50*24*time.Hour {
		t.Errorf("Gateway.MPIMHideDelay = %v, want 1200h", cfg.Gateway.MPIMHideDelay)
	}
	if !strings.HasSuffix(cfg.Slack.TokenFile, ".localslackirc") {
		t.Errorf("Slack.TokenFile = %q, want ~/.localslackirc", cfg.Slack.TokenFile)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  ip: "127.0.0.2"
  port: 6667
  poll_interval: "500ms"

slack:
  token: "xoxp-1"

gateway:
  autojoin: true
  mpim_hide_delay: "72h"

status:
  driver: sqlite
  path: /var/lib/lsi/status.db

logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddr() != "127.0.0.2:6667" {
		t.Errorf("ListenAddr() = %q, want %q", cfg.ListenAddr(), "127.0.0.2:6667")
	}
	if cfg.Server.PollInterval != 500*time.Millisecond {
		t.Errorf("Server.PollInterval = %v, want 500ms", cfg.Server.PollInterval)
	}
	if !cfg.Gateway.AutoJoin {
		t.Error("Gateway.AutoJoin = false, want true")
	}
	if cfg.Gateway.MPIMHideDelay != 72*time.Hour {
		t.Errorf("Gateway.MPIMHideDelay = %v, want 72h", cfg.Gateway.MPIMHideDelay)
	}
	if cfg.Status.Driver != "sqlite" || cfg.Status.Path != "/var/lib/lsi/status.db" {
		t.Errorf("Status = %+v", cfg.Status)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	// Untouched defaults survive.
	if !strings.HasSuffix(cfg.Slack.TokenFile, ".localslackirc") {
		t.Errorf("Slack.TokenFile = %q lost its default", cfg.Slack.TokenFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
port = 7000

[rocket]
url = "wss://chat.example.com/websocket"
token = "rc-token"

[tailscale]
enabled = true
hostname = "lsi"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if !cfg.IsRocket() || cfg.RocketToken() != "rc-token" {
		t.Errorf("Rocket = %+v", cfg.Rocket)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "lsi" {
		t.Errorf("Tailscale = %+v", cfg.Tailscale)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_LSI_TOKEN", "xoxp-from-env")

	path := writeFile(t, "config.yaml", `
slack:
  token: "${TEST_LSI_TOKEN}"
  cookie: "${TEST_LSI_UNSET}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Slack.Token != "xoxp-from-env" {
		t.Errorf("Slack.Token = %q, want %q", cfg.Slack.Token, "xoxp-from-env")
	}
	if cfg.Slack.Cookie != "" {
		t.Errorf("Slack.Cookie = %q, want empty", cfg.Slack.Cookie)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"bad duration", "c.yaml", "server:\n  poll_interval: soon\n", "poll_interval"},
		{"bad yaml", "c.yaml", "server: [", "parsing config file"},
		{"bad toml", "c.toml", "[server\n", "parsing config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file returned nil error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PORT":              "7001",
		"IP_ADDRESS":        "10.0.0.1",
		"OVERRIDE_LOCAL_IP": "TRUE",
		"TOKEN":             "xoxc-abc",
		"COOKIE":            "d=xyz",
		"AUTOJOIN":          "true",
		"NOUSERLIST":        "no",
		"RC_URL":            "wss://rc/websocket",
		"STATUS_FILE":       "/tmp/status",
		"LOG_SUFFIX":        "work",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.ListenAddr() != "10.0.0.1:7001" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if !cfg.Server.OverrideLocalIP || !cfg.Gateway.AutoJoin || cfg.Gateway.NoUserList {
		t.Errorf("flags: override=%v autojoin=%v nouserlist=%v",
			cfg.Server.OverrideLocalIP, cfg.Gateway.AutoJoin, cfg.Gateway.NoUserList)
	}
	if cfg.Slack.Token != "xoxc-abc" || cfg.Slack.Cookie != "d=xyz" {
		t.Errorf("Slack = %+v", cfg.Slack)
	}
	if cfg.Rocket.URL != "wss://rc/websocket" || cfg.Status.Path != "/tmp/status" || cfg.Logging.Suffix != "work" {
		t.Errorf("cfg = %+v", cfg)
	}

	if err := Default().ApplyEnv(envMap(map[string]string{"PORT": "abc"})); err == nil {
		t.Error("ApplyEnv() with a bad PORT returned nil error")
	}
}

func TestResolveSecrets(t *testing.T) {
	cfg := Default()
	cfg.Slack.TokenFile = writeFile(t, "token", "  xoxc-123  \nsecond line\n")
	cfg.Slack.CookieFile = writeFile(t, "cookie", "d=abc")
	if err := cfg.ResolveSecrets(); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if cfg.Slack.Token != "xoxc-123" {
		t.Errorf("Slack.Token = %q, want first line trimmed", cfg.Slack.Token)
	}
	if cfg.Slack.Cookie != "d=abc" {
		t.Errorf("Slack.Cookie = %q, want %q", cfg.Slack.Cookie, "d=abc")
	}

	direct := Default()
	direct.Slack.Token = "xoxp-direct"
	direct.Slack.TokenFile = "/nonexistent"
	if err := direct.ResolveSecrets(); err != nil {
		t.Errorf("ResolveSecrets() read the file despite a direct token: %v", err)
	}

	missing := Default()
	missing.Slack.TokenFile = filepath.Join(t.TempDir(), "nope")
	if err := missing.ResolveSecrets(); err == nil {
		t.Error("ResolveSecrets() with a missing token file returned nil error")
	}

	dir := Default()
	dir.Slack.TokenFile = t.TempDir()
	if err := dir.ResolveSecrets(); err == nil || !strings.Contains(err.Error(), "not a file") {
		t.Errorf("ResolveSecrets() on a directory error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	valid := func() *Config {
		cfg := Default()
		cfg.Slack.Token = "xoxp-1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"non local ip", func(c *Config) { c.Server.IP = "0.0.0.0" }, "not a local address"},
		{"override", func(c *Config) {
			c.Server.IP = "0.0.0.0"
			c.Server.OverrideLocalIP = true
		}, ""},
		{"tailscale allows any ip", func(c *Config) {
			c.Server.IP = "0.0.0.0"
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = "lsi"
		}, ""},
		{"tailscale hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"no token", func(c *Config) { c.Slack.Token = "" }, "token is required"},
		{"xoxc needs cookie", func(c *Config) { c.Slack.Token = "xoxc-1" }, "cookie is needed"},
		{"xoxc with cookie", func(c *Config) {
			c.Slack.Token = "xoxc-1"
			c.Slack.Cookie = "d=1"
		}, ""},
		{"rocket shares the token", func(c *Config) { c.Rocket.URL = "wss://rc/websocket" }, ""},
		{"password hash", func(c *Config) { c.Server.PasswordHash = string(hash) }, ""},
		{"bad password hash", func(c *Config) { c.Server.PasswordHash = "hunter2" }, "bcrypt"},
		{"sqlite path", func(c *Config) { c.Status.Driver = "sqlite" }, "status.path"},
		{"redis addr", func(c *Config) { c.Status.Driver = "redis" }, "status.redis_addr"},
		{"unknown driver", func(c *Config) { c.Status.Driver = "etcd" }, "status.driver"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
