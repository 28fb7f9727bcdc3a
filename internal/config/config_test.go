package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaults verifies the compiled-in defaults with no file and no
// environment.
func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 8080 || cfg.HTTP.HTTPSPort != 58080 {
		t.Errorf("http ports = %d/%d", cfg.HTTP.Port, cfg.HTTP.HTTPSPort)
	}
	if cfg.Chat.WSPort != 33334 || cfg.Chat.TCPPort != 33335 {
		t.Errorf("chat ports = %d/%d", cfg.Chat.WSPort, cfg.Chat.TCPPort)
	}
	if cfg.Echo.Port != 33333 {
		t.Errorf("echo port = %d", cfg.Echo.Port)
	}
	if cfg.History.Dir != "history" || !cfg.History.Enabled {
		t.Errorf("history = %+v", cfg.History)
	}
	if cfg.Chat.WriteTimeout != 30*time.Second {
		t.Errorf("write timeout = %v", cfg.Chat.WriteTimeout)
	}
	if cfg.HTTPSEnabled() {
		t.Error("HTTPS enabled without cert/key")
	}
}

// TestEnvOverrides verifies the environment variables win.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("HTTPS_PORT", "9443")
	t.Setenv("CHAT_SERVER_PORT", "44444")
	t.Setenv("CHAT_TCP_PORT", "44445")
	t.Setenv("ECHO_SERVER_PORT", "44446")
	t.Setenv("HTTP_BIND_IP", "127.0.0.1")
	t.Setenv("HTTP_THREADS", "4")
	t.Setenv("HISTORY_DIR", "/tmp/hist")
	t.Setenv("GOOGLE_MAPS_API_KEY", "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 9090 || cfg.HTTP.HTTPSPort != 9443 {
		t.Errorf("http ports = %d/%d", cfg.HTTP.Port, cfg.HTTP.HTTPSPort)
	}
	if cfg.Chat.WSPort != 44444 || cfg.Chat.TCPPort != 44445 {
		t.Errorf("chat ports = %d/%d", cfg.Chat.WSPort, cfg.Chat.TCPPort)
	}
	if cfg.Echo.Port != 44446 {
		t.Errorf("echo port = %d", cfg.Echo.Port)
	}
	if cfg.HTTP.BindIP != "127.0.0.1" || cfg.HTTP.Threads != 4 {
		t.Errorf("bind/threads = %s/%d", cfg.HTTP.BindIP, cfg.HTTP.Threads)
	}
	if cfg.History.Dir != "/tmp/hist" {
		t.Errorf("history dir = %s", cfg.History.Dir)
	}
	if cfg.Places.APIKey != "env-key" {
		t.Errorf("api key = %s", cfg.Places.APIKey)
	}
}

// TestInvalidEnvValuesKeepDefaults verifies malformed values fall back.
func TestInvalidEnvValuesKeepDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("ECHO_SERVER_PORT", "70000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("http port = %d, want default", cfg.HTTP.Port)
	}
	if cfg.Echo.Port != 33333 {
		t.Errorf("echo port = %d, want default", cfg.Echo.Port)
	}
}

// TestFileThenEnvPrecedence verifies TOML file values apply over defaults
// and environment variables apply over the file.
func TestFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
[http]
port = 7000

[chat]
ws_port = 7001

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "7100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 7100 {
		t.Errorf("env did not win over file: port = %d", cfg.HTTP.Port)
	}
	if cfg.Chat.WSPort != 7001 {
		t.Errorf("file value lost: ws port = %d", cfg.Chat.WSPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("file value lost: level = %s", cfg.Logging.Level)
	}
}

// TestHTTPSAndWSSGates verifies the cert/key gating helpers.
func TestHTTPSAndWSSGates(t *testing.T) {
	t.Setenv("SSL_CERT_PATH", "/etc/ssl/server.crt")
	t.Setenv("SSL_KEY_PATH", "/etc/ssl/server.key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.HTTPSEnabled() {
		t.Error("HTTPS disabled with cert/key set")
	}
	if !cfg.WSSEnabled() {
		t.Error("WSS disabled with cert/key set")
	}
}
