package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CHAT_USER_ID", "u1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MessagePollInterval != 3*time.Second || cfg.RoomPollInterval != 30*time.Second {
		t.Fatalf("unexpected poll intervals %v %v", cfg.MessagePollInterval, cfg.RoomPollInterval)
	}
	if cfg.MessagePageSize != 50 || cfg.UserRole != model.RoleUser {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
user:
  id: agent-7
  role: agent
sync:
  message_poll_interval: 5s
  typing_ttl: 3s
nats:
  stream: MARKET_CHAT
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHAT_USER_ID", "")
	t.Setenv("TYPING_TTL", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserID != "agent-7" || cfg.UserRole != model.RoleAgent {
		t.Fatalf("expected identity from file, got %q %q", cfg.UserID, cfg.UserRole)
	}
	if cfg.MessagePollInterval != 5*time.Second {
		t.Fatalf("expected file poll interval, got %v", cfg.MessagePollInterval)
	}
	if cfg.TypingTTL != 10*time.Second {
		t.Fatalf("expected env to override file, got %v", cfg.TypingTTL)
	}
	if cfg.NATSStream != "MARKET_CHAT" {
		t.Fatalf("expected stream from file, got %q", cfg.NATSStream)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeFile(t, "sync: [not, a, map"))
	t.Setenv("CHAT_USER_ID", "u1")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing user", func(c *Config) { c.UserID = "" }, "CHAT_USER_ID"},
		{"bad role", func(c *Config) { c.UserRole = "ADMIN" }, "CHAT_USER_ROLE"},
		{"zero page", func(c *Config) { c.MessagePageSize = 0 }, "page sizes"},
		{"zero poll", func(c *Config) { c.RoomPollInterval = 0 }, "poll intervals"},
		{"negative ttl", func(c *Config) { c.TypingTTL = -time.Second }, "TTLs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.UserID = "u1"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	cfg := defaults()
	cfg.UserID = "u1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestGetCSVEnv(t *testing.T) {
	t.Setenv("ORIGINS", " https://a.example , ,https://b.example")
	got := getCSVEnv("ORIGINS", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
}
