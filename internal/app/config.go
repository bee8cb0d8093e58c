package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"perfmonitor/internal/ingest"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultListen is the relay HTTP listen address.
	DefaultListen = "127.0.0.1:8077"
	// DefaultMaxBodyBytes caps one posted profile document.
	DefaultMaxBodyBytes = 1 << 20

	defaultNATSURL       = "nats://127.0.0.1:4222"
	defaultNATSStream    = "PERF"
	defaultNATSSubject   = "perf.profiles"
	defaultNATSDurable   = "perf-relay"
	defaultAckWaitSec    = 30
	defaultMaxDeliver    = 5
	defaultMaxAckPending = 256
	defaultNackDelayMS   = 500
)

// NATSIngestConfig holds the optional JetStream intake settings.
// Params: broker URLs, stream binding, and consumer tuning.
// Returns: `[server.nats]` section of the relay config.
type NATSIngestConfig struct {
	Enabled       bool
	URL           []string
	Stream        string
	Subject       string
	Durable       string
	DeliverGroup  string
	AckWaitSec    int
	MaxDeliver    int
	MaxAckPending int
	NackDelayMS   int
}

// ServerConfig holds the relay-only settings read from `[server]`.
// The monitor settings in the same file are loaded separately through
// the monitor package.
// Params: HTTP listen address, body cap, and NATS intake settings.
// Returns: validated relay configuration.
type ServerConfig struct {
	Listen       string
	MaxBodyBytes int64
	NATS         NATSIngestConfig
}

type rawServerFile struct {
	Server rawServerSection `toml:"server"`
}

type rawServerSection struct {
	Listen       string        `toml:"listen"`
	MaxBodyBytes int64         `toml:"max_body_bytes"`
	NATS         rawServerNATS `toml:"nats"`
}

type rawServerNATS struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Stream        string   `toml:"stream"`
	Subject       string   `toml:"subject"`
	Durable       string   `toml:"durable"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
}

// LoadServerConfig reads the `[server]` section of the relay config.
// Params: config file path; empty path yields pure defaults.
// Returns: validated server config or load/parse/validation error.
func LoadServerConfig(path string) (ServerConfig, error) {
	var raw rawServerFile
	if strings.TrimSpace(path) != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := toml.Unmarshal(body, &raw); err != nil {
			return ServerConfig{}, fmt.Errorf("decode config file %q: %w", path, err)
		}
	}

	cfg := ServerConfig{
		Listen:       strings.TrimSpace(raw.Server.Listen),
		MaxBodyBytes: raw.Server.MaxBodyBytes,
		NATS: NATSIngestConfig{
			Enabled:       raw.Server.NATS.Enabled,
			URL:           raw.Server.NATS.URL,
			Stream:        strings.TrimSpace(raw.Server.NATS.Stream),
			Subject:       strings.TrimSpace(raw.Server.NATS.Subject),
			Durable:       strings.TrimSpace(raw.Server.NATS.Durable),
			DeliverGroup:  strings.TrimSpace(raw.Server.NATS.DeliverGroup),
			AckWaitSec:    raw.Server.NATS.AckWaitSec,
			MaxDeliver:    raw.Server.NATS.MaxDeliver,
			MaxAckPending: raw.Server.NATS.MaxAckPending,
			NackDelayMS:   raw.Server.NATS.NackDelayMS,
		},
	}
	applyServerDefaults(&cfg)
	if err := validateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// applyServerDefaults fills unset relay settings.
// Params: mutable config pointer.
// Returns: config mutated in place.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(cfg.NATS.URL) == 0 {
		cfg.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = defaultNATSStream
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = defaultNATSSubject
	}
	if cfg.NATS.Durable == "" {
		cfg.NATS.Durable = defaultNATSDurable
	}
	if cfg.NATS.DeliverGroup == "" {
		cfg.NATS.DeliverGroup = cfg.NATS.Durable
	}
	if cfg.NATS.AckWaitSec <= 0 {
		cfg.NATS.AckWaitSec = defaultAckWaitSec
	}
	if cfg.NATS.MaxDeliver == 0 {
		cfg.NATS.MaxDeliver = defaultMaxDeliver
	}
	if cfg.NATS.MaxAckPending <= 0 {
		cfg.NATS.MaxAckPending = defaultMaxAckPending
	}
	if cfg.NATS.NackDelayMS <= 0 {
		cfg.NATS.NackDelayMS = defaultNackDelayMS
	}
}

// validateServerConfig checks the relay settings after defaults.
// Params: defaulted config snapshot.
// Returns: first violated constraint.
func validateServerConfig(cfg ServerConfig) error {
	if cfg.Listen == "" {
		return errors.New("server.listen is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be >0")
	}
	if !cfg.NATS.Enabled {
		return nil
	}
	if cfg.NATS.MaxDeliver < -1 || cfg.NATS.MaxDeliver == 0 {
		return errors.New("server.nats.max_deliver must be >0 or -1 for unlimited")
	}
	if cfg.NATS.AckWaitSec <= 0 {
		return errors.New("server.nats.ack_wait_sec must be >0")
	}
	if cfg.NATS.MaxAckPending <= 0 {
		return errors.New("server.nats.max_ack_pending must be >0")
	}
	return nil
}

// ingestNATSConfig maps the server section onto the intake subscriber.
// Params: none.
// Returns: subscriber construction input.
func (c ServerConfig) ingestNATSConfig() ingest.NATSConfig {
	return ingest.NATSConfig{
		URL:           c.NATS.URL,
		Stream:        c.NATS.Stream,
		Subject:       c.NATS.Subject,
		Durable:       c.NATS.Durable,
		DeliverGroup:  c.NATS.DeliverGroup,
		AckWaitSec:    c.NATS.AckWaitSec,
		MaxDeliver:    c.NATS.MaxDeliver,
		MaxAckPending: c.NATS.MaxAckPending,
		NackDelayMS:   c.NATS.NackDelayMS,
	}
}
