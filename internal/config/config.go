// Package config loads server configuration from an optional TOML file and
// the process environment. Environment variables always win over the file,
// and the file wins over compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// HTTPConfig holds the settings for the HTTP and HTTPS front.
type HTTPConfig struct {
	BindIP    string `toml:"bind_ip"`
	Port      int    `toml:"port"`
	HTTPSPort int    `toml:"https_port"`
	Threads   int    `toml:"threads"`
	CertPath  string `toml:"cert_path"`
	KeyPath   string `toml:"key_path"`
}

// ChatConfig holds the settings for the chat listeners.
type ChatConfig struct {
	WSPort         int           `toml:"ws_port"`
	TCPPort        int           `toml:"tcp_port"`
	SSLPort        int           `toml:"ssl_port"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	PolicyFile     string        `toml:"policy_file"`
}

// EchoConfig holds the settings for the echo service.
type EchoConfig struct {
	Port int `toml:"port"`
}

// HistoryConfig holds the settings for on-disk message history.
type HistoryConfig struct {
	Dir     string `toml:"dir"`
	Enabled bool   `toml:"enabled"`
}

// PlacesConfig holds the settings for the Places proxy.
type PlacesConfig struct {
	APIKey         string        `toml:"api_key"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Config is the root configuration for the whole server.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Chat    ChatConfig    `toml:"chat"`
	Echo    EchoConfig    `toml:"echo"`
	History HistoryConfig `toml:"history"`
	Places  PlacesConfig  `toml:"places"`
	Logging LoggingConfig `toml:"logging"`
}

func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			BindIP:    "0.0.0.0",
			Port:      8080,
			HTTPSPort: 58080,
			Threads:   0,
		},
		Chat: ChatConfig{
			WSPort:         33334,
			TCPPort:        33335,
			SSLPort:        33344,
			AllowedOrigins: []string{"*"},
			WriteTimeout:   30 * time.Second,
		},
		Echo: EchoConfig{
			Port: 33333,
		},
		History: HistoryConfig{
			Dir:     "history",
			Enabled: true,
		},
		Places: PlacesConfig{
			RequestTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file named by the
// CONFIG_FILE environment variable (or cherryrecorder.toml when present),
// then environment variable overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat("cherryrecorder.toml"); err == nil {
			path = "cherryrecorder.toml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_BIND_IP"); v != "" {
		cfg.HTTP.BindIP = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTP.Port = parsePort(v, cfg.HTTP.Port)
	}
	if v := os.Getenv("HTTPS_PORT"); v != "" {
		cfg.HTTP.HTTPSPort = parsePort(v, cfg.HTTP.HTTPSPort)
	}
	if v := os.Getenv("HTTP_THREADS"); v != "" {
		cfg.HTTP.Threads = parseIntValue(v, cfg.HTTP.Threads)
	}
	if v := os.Getenv("SSL_CERT_PATH"); v != "" {
		cfg.HTTP.CertPath = v
	}
	if v := os.Getenv("SSL_KEY_PATH"); v != "" {
		cfg.HTTP.KeyPath = v
	}
	if v := os.Getenv("CHAT_SERVER_PORT"); v != "" {
		cfg.Chat.WSPort = parsePort(v, cfg.Chat.WSPort)
	}
	if v := os.Getenv("CHAT_TCP_PORT"); v != "" {
		cfg.Chat.TCPPort = parsePort(v, cfg.Chat.TCPPort)
	}
	if v := os.Getenv("CHAT_SSL_PORT"); v != "" {
		cfg.Chat.SSLPort = parsePort(v, cfg.Chat.SSLPort)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Chat.AllowedOrigins = parseOrigins(v)
	}
	if v := os.Getenv("CHAT_POLICY_FILE"); v != "" {
		cfg.Chat.PolicyFile = v
	}
	if v := os.Getenv("ECHO_SERVER_PORT"); v != "" {
		cfg.Echo.Port = parsePort(v, cfg.Echo.Port)
	}
	if v := os.Getenv("HISTORY_DIR"); v != "" {
		cfg.History.Dir = v
	}
	if v := os.Getenv("HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = parseBool(v, cfg.History.Enabled)
	}
	if v := os.Getenv("GOOGLE_MAPS_API_KEY"); v != "" {
		cfg.Places.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// HTTPSEnabled reports whether a certificate/key pair has been supplied.
func (c *Config) HTTPSEnabled() bool {
	return c.HTTP.CertPath != "" && c.HTTP.KeyPath != ""
}

// WSSEnabled reports whether the TLS WebSocket listener should start.
func (c *Config) WSSEnabled() bool {
	return c.HTTPSEnabled() && c.Chat.SSLPort > 0
}

func parsePort(value string, defaultValue int) int {
	if port, err := strconv.Atoi(value); err == nil && port > 0 && port <= 65535 {
		return port
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
