package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bridge  BridgeConfig  `json:"bridge" yaml:"bridge"`
	Bot     BotConfig     `json:"bot" yaml:"bot"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	MCP     MCPConfig     `json:"mcp" yaml:"mcp"`
	Ngrok   NgrokConfig   `json:"ngrok" yaml:"ngrok"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

type BridgeConfig struct {
	ListenAddr       string `json:"listen_addr" yaml:"listen_addr"`
	Host             string `json:"host" yaml:"host"`
	Port             int    `json:"port" yaml:"port"`
	AuthToken        string `json:"auth_token" yaml:"auth_token"`
	StateIntervalMS  int    `json:"state_interval_ms" yaml:"state_interval_ms"`
	CommandTimeoutMS int    `json:"command_timeout_ms" yaml:"command_timeout_ms"`
}

// BotConfig names the game server and account. Only offline auth is
// supported.
type BotConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Version  string `json:"version" yaml:"version"`
	Auth     string `json:"auth" yaml:"auth"`
}

type StoreConfig struct {
	RedisAddr        string `json:"redis_addr" yaml:"redis_addr"`
	ResultTTLSeconds int    `json:"result_ttl_seconds" yaml:"result_ttl_seconds"`
}

type MCPConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type NgrokConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	AuthToken string `json:"auth_token" yaml:"auth_token"`
	Domain    string `json:"domain" yaml:"domain"`
}

type LoggingConfig struct {
	Debug bool `json:"debug" yaml:"debug"`
}

func Default() Config {
	return Config{
		Bridge: BridgeConfig{
			Port:             8765,
			StateIntervalMS:  100,
			CommandTimeoutMS: 30000,
		},
		Bot: BotConfig{
			Host:     "localhost",
			Port:     25565,
			Username: "AutoMCAgent",
			Version:  "1.20.2",
			Auth:     "offline",
		},
		Store: StoreConfig{
			ResultTTLSeconds: 600,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// The format follows the extension: .yaml/.yml, otherwise JSON with
// comments and trailing commas allowed.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config failed")
		}
		if err := decode(path, content, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "parse config failed")
		}
	}

	applyEnv(&cfg, os.LookupEnv)
	cfg.normalize()
	return cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	default:
		std, err := hujson.Standardize(content)
		if err != nil {
			return err
		}
		return json.Unmarshal(std, cfg)
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("BRIDGE_LISTEN_ADDR"); ok && v != "" {
		cfg.Bridge.ListenAddr = v
	}
	if v, ok := lookup("BRIDGE_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Bridge.Port = port
			cfg.Bridge.ListenAddr = ""
		}
	}
	if v, ok := lookup("BRIDGE_AUTH_TOKEN"); ok {
		cfg.Bridge.AuthToken = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		cfg.Store.RedisAddr = v
	}
	if v, ok := lookup("MC_HOST"); ok && v != "" {
		cfg.Bot.Host = v
	}
	if v, ok := lookup("MC_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Bot.Port = port
		}
	}
	if v, ok := lookup("MC_USERNAME"); ok && v != "" {
		cfg.Bot.Username = v
	}
	if v, ok := lookup("NGROK_AUTHTOKEN"); ok && v != "" {
		cfg.Ngrok.AuthToken = v
	} else if v, ok := lookup("NGROK_AUTH_TOKEN"); ok && v != "" {
		cfg.Ngrok.AuthToken = v
	}
	if v, ok := lookup("NGROK_DOMAIN"); ok && v != "" {
		cfg.Ngrok.Domain = v
	}
	if v, ok := lookup("NGROK_ENABLED"); ok && (v == "true" || v == "1") {
		cfg.Ngrok.Enabled = true
	}
}

// normalize fills derived and zero values. An explicit ListenAddr wins over
// Host and Port.
func (c *Config) normalize() {
	if c.Bridge.Port <= 0 {
		c.Bridge.Port = 8765
	}
	if c.Bridge.ListenAddr == "" {
		c.Bridge.ListenAddr = fmt.Sprintf("%s:%d", c.Bridge.Host, c.Bridge.Port)
	}
	if c.Bridge.StateIntervalMS <= 0 {
		c.Bridge.StateIntervalMS = 100
	}
	if c.Bridge.CommandTimeoutMS <= 0 {
		c.Bridge.CommandTimeoutMS = 30000
	}
	if c.Store.ResultTTLSeconds <= 0 {
		c.Store.ResultTTLSeconds = 600
	}
}

// SetListenPort points the bridge at port on the configured host.
func (c *Config) SetListenPort(port int) {
	c.Bridge.Port = port
	c.Bridge.ListenAddr = fmt.Sprintf("%s:%d", c.Bridge.Host, port)
}

func (c Config) StateInterval() time.Duration {
	return time.Duration(c.Bridge.StateIntervalMS) * time.Millisecond
}

func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.Bridge.CommandTimeoutMS) * time.Millisecond
}

func (c Config) ResultTTL() time.Duration {
	return time.Duration(c.Store.ResultTTLSeconds) * time.Second
}
