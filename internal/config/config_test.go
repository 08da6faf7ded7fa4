package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/atrpc/internal/client"
	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/server"
	"github.com/danmuck/atrpc/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "server.toml", `
name = "calc"
addr = "0.0.0.0:7000"
admin_addr = "127.0.0.1:7001"
cors_origins = [" http://localhost:5173 ", ""]
checksum_policy = "strict"
read_timeout = "30s"
`)
	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := server.DefaultConfig()
	if cfg.Name != "calc" || cfg.ListenAddr != "0.0.0.0:7000" || cfg.AdminListenAddr != "127.0.0.1:7001" {
		t.Fatalf("unexpected identity fields: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected cors origins: %q", cfg.CORSOrigins)
	}
	if cfg.ChecksumPolicy != protocol.ChecksumStrict {
		t.Fatalf("unexpected policy: %s", cfg.ChecksumPolicy)
	}
	if cfg.Session.ReadTimeout != 30*time.Second {
		t.Fatalf("unexpected read timeout: %s", cfg.Session.ReadTimeout)
	}
	if cfg.Session.WriteTimeout != def.Session.WriteTimeout || cfg.Limits != def.Limits || !cfg.Builtins {
		t.Fatalf("undefined keys must keep defaults: %+v", cfg)
	}
}

func TestLoadServerRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"policy":     `checksum_policy = "paranoid"`,
		"duration":   `write_timeout = "soon"`,
		"body limit": `max_body_bytes = 0`,
		"addr":       `addr = "no-port"`,
		"same addr":  "addr = \"127.0.0.1:7000\"\nadmin_addr = \"127.0.0.1:7000\"",
		"unknown":    `listen = "127.0.0.1:7000"`,
		"codec":      `codec = "xml"`,
	}
	for name, content := range cases {
		_, err := LoadServer(writeFile(t, "server.toml", content))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	if _, err := LoadServer(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadClientOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "client.toml", `
addr = "10.0.0.5:6006"
codec = "TLV"
call_timeout = "2s"
reconnect = true
max_reconnect_attempts = 4
history_limit = 50
backoff_initial = "100ms"
backoff_max = "1s"
backoff_jitter = false
`)
	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := client.DefaultConfig()
	if cfg.Address != "10.0.0.5:6006" || cfg.Session.CallTimeout != 2*time.Second {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Codec != "tlv" {
		t.Fatalf("unexpected codec: %q", cfg.Codec)
	}
	if !cfg.Reconnect || cfg.MaxReconnectAttempts != 4 || cfg.HistoryLimit != 50 {
		t.Fatalf("unexpected reconnect/history: %+v", cfg)
	}
	b := cfg.Session.Backoff
	if b.InitialDelay != 100*time.Millisecond || b.MaxDelay != time.Second || b.Jitter || b.Multiplier != def.Session.Backoff.Multiplier {
		t.Fatalf("unexpected backoff: %+v", b)
	}
	if cfg.Session.DialTimeout != def.Session.DialTimeout {
		t.Fatalf("dial timeout should stay default: %s", cfg.Session.DialTimeout)
	}
}

func TestLoadClientRejectsBadBackoff(t *testing.T) {
	testlog.Start(t)
	for name, content := range map[string]string{
		"multiplier": `backoff_multiplier = 0.5`,
		"ordering":   "backoff_initial = \"2s\"\nbackoff_max = \"1s\"",
		"negative":   `max_reconnect_attempts = -1`,
		"empty addr": `addr = ""`,
	} {
		if _, err := LoadClient(writeFile(t, "client.toml", content)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestTemplatesLoadBackToDefaults(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	serverPath := filepath.Join(dir, "server.toml")
	if err := WriteTemplate(serverPath, KindServer, false); err != nil {
		t.Fatalf("write server template: %v", err)
	}
	srv, err := LoadServer(serverPath)
	if err != nil {
		t.Fatalf("load server template: %v", err)
	}
	def := server.DefaultConfig()
	if srv.Name != def.Name || srv.ListenAddr != def.ListenAddr || srv.Limits != def.Limits ||
		srv.Session.WriteTimeout != def.Session.WriteTimeout || srv.Builtins != def.Builtins {
		t.Fatalf("server template drifted from defaults: %+v", srv)
	}

	clientPath := filepath.Join(dir, "client.toml")
	if err := WriteTemplate(clientPath, KindClient, false); err != nil {
		t.Fatalf("write client template: %v", err)
	}
	cl, err := LoadClient(clientPath)
	if err != nil {
		t.Fatalf("load client template: %v", err)
	}
	cdef := client.DefaultConfig()
	if cl.Address != cdef.Address || cl.HistoryLimit != cdef.HistoryLimit || cl.Session != cdef.Session {
		t.Fatalf("client template drifted from defaults: %+v", cl)
	}

	if err := WriteTemplate(serverPath, KindServer, false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
	if err := WriteTemplate(serverPath, KindServer, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := Check(serverPath, KindServer); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
