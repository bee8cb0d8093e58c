package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeServerConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perfmonitor.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("load server config: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("unexpected listen %q", cfg.Listen)
	}
	if cfg.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("unexpected body cap %d", cfg.MaxBodyBytes)
	}
	if cfg.NATS.Enabled {
		t.Fatalf("nats intake must default to disabled")
	}
	if len(cfg.NATS.URL) != 1 || cfg.NATS.URL[0] != "nats://127.0.0.1:4222" {
		t.Fatalf("unexpected nats urls %#v", cfg.NATS.URL)
	}
	if cfg.NATS.Stream == "" || cfg.NATS.Subject == "" || cfg.NATS.Durable == "" {
		t.Fatalf("nats defaults were not applied: %+v", cfg.NATS)
	}
	if cfg.NATS.DeliverGroup != cfg.NATS.Durable {
		t.Fatalf("deliver group must default to durable name: %+v", cfg.NATS)
	}
	if cfg.NATS.AckWaitSec <= 0 || cfg.NATS.MaxDeliver == 0 || cfg.NATS.MaxAckPending <= 0 {
		t.Fatalf("unexpected nats tuning defaults: %+v", cfg.NATS)
	}
}

func TestLoadServerConfigFromFile(t *testing.T) {
	t.Parallel()

	path := writeServerConfig(t, `[server]
listen = "0.0.0.0:9090"
max_body_bytes = 2048

[server.nats]
enabled = true
url = ["nats://10.0.0.5:4222"]
stream = "PROFILES"
subject = "profiles.incoming"
durable = "relay-a"
ack_wait_sec = 5
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load server config: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9090" || cfg.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected server settings %+v", cfg)
	}
	if !cfg.NATS.Enabled || cfg.NATS.Stream != "PROFILES" || cfg.NATS.Subject != "profiles.incoming" {
		t.Fatalf("unexpected nats settings %+v", cfg.NATS)
	}
	if cfg.NATS.DeliverGroup != "relay-a" {
		t.Fatalf("deliver group must follow durable: %+v", cfg.NATS)
	}
	if cfg.NATS.AckWaitSec != 5 || cfg.NATS.MaxDeliver != defaultMaxDeliver {
		t.Fatalf("unexpected nats tuning %+v", cfg.NATS)
	}
}

func TestLoadServerConfigRejectsInvalidMaxDeliver(t *testing.T) {
	t.Parallel()

	path := writeServerConfig(t, `[server.nats]
enabled = true
max_deliver = -2
`)

	_, err := LoadServerConfig(path)
	if err == nil || !strings.Contains(err.Error(), "server.nats.max_deliver") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadServerConfigAllowsUnlimitedMaxDeliver(t *testing.T) {
	t.Parallel()

	path := writeServerConfig(t, `[server.nats]
enabled = true
max_deliver = -1
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load server config: %v", err)
	}
	if cfg.NATS.MaxDeliver != -1 {
		t.Fatalf("unexpected max_deliver %d", cfg.NATS.MaxDeliver)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("unexpected error: %v", err)
	}
}
