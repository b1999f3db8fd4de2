package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("WOLFRAM_TOKEN", "")

	path := writeConfig(t, `
renderer:
  image: ghcr.io/kitmatheinfo/renderer:latest
  timeout_seconds: 20
  memory_mb: 256
telegram:
  allowed_users: [1, 2]
cache:
  ttl_hours: 48
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Renderer.Image != "ghcr.io/kitmatheinfo/renderer:latest" {
		t.Errorf("image = %q", cfg.Renderer.Image)
	}
	if cfg.Renderer.Timeout() != 20*time.Second {
		t.Errorf("timeout = %v", cfg.Renderer.Timeout())
	}
	if cfg.Telegram.BotToken != "tok" {
		t.Errorf("bot token not taken from env")
	}
	if len(cfg.Telegram.AllowedUsers) != 2 {
		t.Errorf("allowed users = %v", cfg.Telegram.AllowedUsers)
	}
	if cfg.Cache.TTL() != 48*time.Hour {
		t.Errorf("ttl = %v", cfg.Cache.TTL())
	}
	if cfg.Answers != nil {
		t.Error("answers configured without WOLFRAM_TOKEN")
	}
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("LATEXFOGEL_RENDERER_IMAGE", "renderer:env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Renderer.Image != "renderer:env" {
		t.Errorf("image = %q, want env override", cfg.Renderer.Image)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("LATEXFOGEL_RENDERER_IMAGE", "renderer:latest")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Renderer.Timeout() != 15*time.Second {
		t.Errorf("default timeout = %v", cfg.Renderer.Timeout())
	}
	if cfg.Cache.TTL() != 24*time.Hour {
		t.Errorf("default ttl = %v", cfg.Cache.TTL())
	}
	if cfg.Maintenance.SweepSchedule() != "@every 15m" {
		t.Errorf("default sweep schedule = %q", cfg.Maintenance.SweepSchedule())
	}
	if cfg.Maintenance.RefreshSchedule() != "@daily" {
		t.Errorf("default refresh schedule = %q", cfg.Maintenance.RefreshSchedule())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		yaml string
	}{
		{
			name: "missing bot token",
			env:  map[string]string{"LATEXFOGEL_RENDERER_IMAGE": "r:1"},
		},
		{
			name: "missing renderer image",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "tok"},
		},
		{
			name: "negative memory",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "tok"},
			yaml: "renderer:\n  image: r:1\n  memory_mb: -1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TELEGRAM_BOT_TOKEN", "")
			t.Setenv("LATEXFOGEL_RENDERER_IMAGE", "")
			t.Setenv("WOLFRAM_TOKEN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "nope.yaml")
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
