package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bridge.ListenAddr != ":8765" {
		t.Errorf("Expected listen addr :8765, got %s", cfg.Bridge.ListenAddr)
	}
	if cfg.StateInterval() != 100*time.Millisecond {
		t.Errorf("Expected 100ms state interval, got %v", cfg.StateInterval())
	}
	if cfg.Bot.Host != "localhost" || cfg.Bot.Port != 25565 {
		t.Errorf("Unexpected bot target %s:%d", cfg.Bot.Host, cfg.Bot.Port)
	}
	if cfg.Bot.Username != "AutoMCAgent" || cfg.Bot.Version != "1.20.2" {
		t.Errorf("Unexpected bot identity %s/%s", cfg.Bot.Username, cfg.Bot.Version)
	}
}

func TestLoadJSONWithComments(t *testing.T) {
	path := writeFile(t, "bridge.jsonc", `{
		// controller side
		"bridge": {"host": "127.0.0.1", "port": 9000, "command_timeout_ms": 500,},
		"bot": {"username": "Digger"},
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("Expected 127.0.0.1:9000, got %s", cfg.Bridge.ListenAddr)
	}
	if cfg.CommandTimeout() != 500*time.Millisecond {
		t.Errorf("Expected 500ms timeout, got %v", cfg.CommandTimeout())
	}
	if cfg.Bot.Username != "Digger" {
		t.Errorf("Expected username Digger, got %s", cfg.Bot.Username)
	}
	if cfg.Bot.Port != 25565 {
		t.Errorf("Unset fields should keep defaults, got port %d", cfg.Bot.Port)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
bridge:
  listen_addr: "0.0.0.0:8800"
  state_interval_ms: 250
bot:
  host: mc.example.net
  port: 25570
store:
  redis_addr: "localhost:6379"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.ListenAddr != "0.0.0.0:8800" {
		t.Errorf("Expected explicit listen addr, got %s", cfg.Bridge.ListenAddr)
	}
	if cfg.StateInterval() != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.StateInterval())
	}
	if cfg.Bot.Host != "mc.example.net" {
		t.Errorf("Expected host mc.example.net, got %s", cfg.Bot.Host)
	}
	if cfg.Bot.Port != 25570 {
		t.Errorf("Expected port 25570, got %d", cfg.Bot.Port)
	}
	if cfg.Store.RedisAddr != "localhost:6379" {
		t.Errorf("Expected redis addr, got %s", cfg.Store.RedisAddr)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil || !strings.Contains(err.Error(), "read config failed") {
		t.Errorf("Expected read error, got %v", err)
	}

	path := writeFile(t, "broken.json", `{"bridge": [}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config failed") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_PORT", "9100")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MC_USERNAME", "EnvBot")
	t.Setenv("NGROK_AUTH_TOKEN", "tok")
	t.Setenv("NGROK_ENABLED", "1")

	path := writeFile(t, "config.json", `{"bridge": {"listen_addr": "127.0.0.1:1234"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bridge.ListenAddr != ":9100" {
		t.Errorf("Expected env port to win, got %s", cfg.Bridge.ListenAddr)
	}
	if cfg.Store.RedisAddr != "redis:6379" {
		t.Errorf("Expected env redis addr, got %s", cfg.Store.RedisAddr)
	}
	if cfg.Bot.Username != "EnvBot" {
		t.Errorf("Expected env username, got %s", cfg.Bot.Username)
	}
	if !cfg.Ngrok.Enabled || cfg.Ngrok.AuthToken != "tok" {
		t.Errorf("Expected ngrok enabled with token, got %+v", cfg.Ngrok)
	}
}

func TestSetListenPort(t *testing.T) {
	cfg := Default()
	cfg.Bridge.Host = "localhost"
	cfg.SetListenPort(7000)

	if cfg.Bridge.ListenAddr != "localhost:7000" {
		t.Errorf("Expected localhost:7000, got %s", cfg.Bridge.ListenAddr)
	}
}
