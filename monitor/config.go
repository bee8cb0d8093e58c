package monitor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"perfmonitor/channel"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultThreshold is the capture duration that triggers an alert.
	DefaultThreshold = time.Second
	// DefaultAlertWindow is the per-operation suppression window.
	DefaultAlertWindow = 10 * 24 * time.Hour
	// DefaultReportDir receives report files and the dedup snapshot.
	DefaultReportDir = "/tmp"
	// DefaultChannelTimeout bounds one channel send attempt.
	DefaultChannelTimeout = 30 * time.Second
	// DefaultQueueCapacity bounds the delivery queue.
	DefaultQueueCapacity = 1000
	// DefaultWorkerCount sizes the delivery worker pool.
	DefaultWorkerCount = 4
	// DefaultShutdownGrace bounds the queue drain on Close.
	DefaultShutdownGrace = 5 * time.Second
)

// defaultIncludedHeaders lists request headers captured into metadata
// when header capture is on. Everything else is skipped so credentials
// and cookies never end up in reports.
var defaultIncludedHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Request-ID",
	"X-Trace-ID",
	"X-Correlation-ID",
	"Referer",
	"Content-Type",
	"Accept",
	"Accept-Language",
	"Origin",
	"User-Agent",
}

// ChannelSpec names one delivery channel and its settings.
// Params: channel tag and free-form settings table.
// Returns: channel construction input resolved at startup.
type ChannelSpec struct {
	Type     string
	Settings channel.Settings
}

// LogSink configures one log output.
// Params: enable flag, level, format, and optional file path.
// Returns: sink settings consumed by the service logger.
type LogSink struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// LogConfig configures console and file log outputs.
// Params: per-sink settings.
// Returns: logging section of the runtime config.
type LogConfig struct {
	Console LogSink `toml:"console"`
	File    LogSink `toml:"file"`
}

// Config holds the monitor runtime settings.
// Params: thresholds, gating patterns, queue tuning, and channel specs.
// Returns: validated monitor configuration.
type Config struct {
	// Threshold is the minimum capture duration that raises an alert.
	Threshold time.Duration
	// AlertWindow suppresses repeat alerts per operation key.
	AlertWindow time.Duration
	// ReportDir receives local report files and the dedup snapshot.
	ReportDir string
	// AlertStoreURL lists NATS servers for the shared snapshot bucket.
	AlertStoreURL []string
	// AlertStoreBucket names a JetStream KV bucket holding the dedup
	// snapshot, so suppression state survives hosts without durable
	// disks. Empty keeps the file snapshot under ReportDir.
	AlertStoreBucket string
	// Allow and Deny hold wildcard patterns for capture gating. A
	// non-empty Allow list fully overrides Deny.
	Allow []string
	Deny  []string
	// ChannelTimeout bounds each channel send attempt.
	ChannelTimeout time.Duration
	// QueueCapacity bounds the delivery queue; overflow drops the
	// oldest queued alert.
	QueueCapacity int
	// WorkerCount sizes the delivery worker pool.
	WorkerCount int
	// ShutdownGrace bounds the queue drain on Close.
	ShutdownGrace time.Duration
	// DisableHeaderCapture turns off request header collection in the
	// HTTP middleware. Headers are captured by default.
	DisableHeaderCapture bool
	// IncludedHeaders whitelists the headers worth capturing.
	IncludedHeaders []string
	// Channels lists the delivery channels. A local channel is always
	// present: it is prepended when missing.
	Channels []ChannelSpec
	// Log configures the service logger used by the relay binary.
	Log LogConfig
}

// rawFileConfig mirrors the TOML model before normalization.
// Params: decoded sections from one TOML file.
// Returns: raw snapshot used for normalization.
type rawFileConfig struct {
	Monitor rawMonitorSection   `toml:"monitor"`
	Channel []rawChannelSection `toml:"channel"`
	Log     LogConfig           `toml:"log"`
}

// rawMonitorSection stores the `[monitor]` table with unit-suffixed keys.
type rawMonitorSection struct {
	ThresholdSec          float64  `toml:"threshold_sec"`
	AlertWindowDays       float64  `toml:"alert_window_days"`
	ReportDir             string   `toml:"report_dir"`
	AlertStoreURL         []string `toml:"alert_store_url"`
	AlertStoreBucket      string   `toml:"alert_store_bucket"`
	Allow                 []string `toml:"allow"`
	Deny                  []string `toml:"deny"`
	ChannelTimeoutSec     float64  `toml:"channel_timeout_sec"`
	QueueSize             int      `toml:"queue_size"`
	Workers               int      `toml:"workers"`
	ShutdownGraceSec      float64  `toml:"shutdown_grace_sec"`
	CaptureRequestHeaders *bool    `toml:"capture_request_headers"`
	IncludedHeaders       []string `toml:"included_headers"`
}

// rawChannelSection stores one `[[channel]]` entry.
type rawChannelSection struct {
	Type     string         `toml:"type"`
	Settings map[string]any `toml:"settings"`
}

// DefaultConfig returns the configuration used when nothing is set.
// Params: none.
// Returns: config with every default applied.
func DefaultConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// LoadConfig reads a TOML config file and applies environment overrides.
// Environment values win over file values; defaults fill the rest.
// Params: config file path; empty path skips the file and uses env only.
// Returns: validated config or load/parse/validation error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		cfg, err = decodeConfig(body)
		if err != nil {
			return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeConfig converts one TOML body into an un-defaulted config.
// Params: raw TOML bytes.
// Returns: normalized config or decode error.
func decodeConfig(body []byte) (Config, error) {
	var raw rawFileConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Threshold:        secondsToDuration(raw.Monitor.ThresholdSec),
		AlertWindow:      daysToDuration(raw.Monitor.AlertWindowDays),
		ReportDir:        strings.TrimSpace(raw.Monitor.ReportDir),
		AlertStoreURL:    raw.Monitor.AlertStoreURL,
		AlertStoreBucket: strings.TrimSpace(raw.Monitor.AlertStoreBucket),
		Allow:            raw.Monitor.Allow,
		Deny:             raw.Monitor.Deny,
		ChannelTimeout:   secondsToDuration(raw.Monitor.ChannelTimeoutSec),
		QueueCapacity:    raw.Monitor.QueueSize,
		WorkerCount:      raw.Monitor.Workers,
		ShutdownGrace:    secondsToDuration(raw.Monitor.ShutdownGraceSec),
		IncludedHeaders:  raw.Monitor.IncludedHeaders,
		Log:              raw.Log,
	}
	if raw.Monitor.CaptureRequestHeaders != nil {
		cfg.DisableHeaderCapture = !*raw.Monitor.CaptureRequestHeaders
	}
	for _, entry := range raw.Channel {
		cfg.Channels = append(cfg.Channels, ChannelSpec{
			Type:     entry.Type,
			Settings: channel.Settings(entry.Settings),
		})
	}
	return cfg, nil
}

// applyEnv overlays PERF_* environment variables onto the config.
// Params: mutable config pointer.
// Returns: parse error naming the offending variable.
func applyEnv(cfg *Config) error {
	if value, ok := lookupEnv("PERF_THRESHOLD"); ok {
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parse PERF_THRESHOLD %q: %w", value, err)
		}
		cfg.Threshold = secondsToDuration(seconds)
	}
	if value, ok := lookupEnv("PERF_ALERT_WINDOW"); ok {
		days, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parse PERF_ALERT_WINDOW %q: %w", value, err)
		}
		cfg.AlertWindow = daysToDuration(days)
	}
	if value, ok := lookupEnv("PERF_LOG_PATH"); ok {
		cfg.ReportDir = value
	}
	if value, ok := lookupEnv("PERF_ALERT_STORE_URL"); ok {
		cfg.AlertStoreURL = splitList(value)
	}
	if value, ok := lookupEnv("PERF_ALERT_STORE_BUCKET"); ok {
		cfg.AlertStoreBucket = value
	}
	if value, ok := lookupEnv("PERF_URL_WHITELIST"); ok {
		cfg.Allow = splitList(value)
	}
	if value, ok := lookupEnv("PERF_URL_BLACKLIST"); ok {
		cfg.Deny = splitList(value)
	}
	if value, ok := lookupEnv("PERF_NOTICE_TIMEOUT"); ok {
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parse PERF_NOTICE_TIMEOUT %q: %w", value, err)
		}
		cfg.ChannelTimeout = secondsToDuration(seconds)
	}
	if value, ok := lookupEnv("PERF_NOTICE_QUEUE_SIZE"); ok {
		size, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse PERF_NOTICE_QUEUE_SIZE %q: %w", value, err)
		}
		cfg.QueueCapacity = size
	}
	if value, ok := lookupEnv("PERF_WORKERS"); ok {
		workers, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse PERF_WORKERS %q: %w", value, err)
		}
		cfg.WorkerCount = workers
	}
	if value, ok := lookupEnv("PERF_SHUTDOWN_TIMEOUT"); ok {
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parse PERF_SHUTDOWN_TIMEOUT %q: %w", value, err)
		}
		cfg.ShutdownGrace = secondsToDuration(seconds)
	}
	if value, ok := lookupEnv("PERF_CAPTURE_REQUEST_HEADERS"); ok {
		capture, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse PERF_CAPTURE_REQUEST_HEADERS %q: %w", value, err)
		}
		cfg.DisableHeaderCapture = !capture
	}
	if value, ok := lookupEnv("PERF_INCLUDED_HEADERS"); ok {
		cfg.IncludedHeaders = splitList(value)
	}
	return nil
}

// applyDefaults fills unset fields and guarantees the local channel.
// Params: mutable config pointer.
// Returns: config mutated in place.
func applyDefaults(cfg *Config) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.AlertWindow <= 0 {
		cfg.AlertWindow = DefaultAlertWindow
	}
	if strings.TrimSpace(cfg.ReportDir) == "" {
		cfg.ReportDir = DefaultReportDir
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = DefaultChannelTimeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if len(cfg.IncludedHeaders) == 0 {
		cfg.IncludedHeaders = append([]string(nil), defaultIncludedHeaders...)
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	ensureLocalChannel(cfg)
}

// ensureLocalChannel guarantees the mandatory local file sink.
// Params: mutable config pointer with ReportDir already defaulted.
// Returns: config mutated in place.
func ensureLocalChannel(cfg *Config) {
	for i, spec := range cfg.Channels {
		if strings.EqualFold(strings.TrimSpace(spec.Type), channel.TypeLocal) {
			if spec.Settings == nil {
				cfg.Channels[i].Settings = channel.Settings{}
			}
			if strings.TrimSpace(cfg.Channels[i].Settings.String("dir")) == "" {
				cfg.Channels[i].Settings["dir"] = cfg.ReportDir
			}
			return
		}
	}
	local := ChannelSpec{
		Type:     channel.TypeLocal,
		Settings: channel.Settings{"dir": cfg.ReportDir},
	}
	cfg.Channels = append([]ChannelSpec{local}, cfg.Channels...)
}

// validateConfig checks structural invariants after defaults.
// Params: defaulted config snapshot.
// Returns: first violated constraint.
func validateConfig(cfg Config) error {
	if cfg.Threshold <= 0 {
		return errors.New("monitor.threshold_sec must be >0")
	}
	if cfg.AlertWindow <= 0 {
		return errors.New("monitor.alert_window_days must be >0")
	}
	if strings.TrimSpace(cfg.ReportDir) == "" {
		return errors.New("monitor.report_dir is required")
	}
	if cfg.AlertStoreBucket != "" && len(cfg.AlertStoreURL) == 0 {
		return errors.New("monitor.alert_store_url is required when alert_store_bucket is set")
	}
	if cfg.ChannelTimeout <= 0 {
		return errors.New("monitor.channel_timeout_sec must be >0")
	}
	if cfg.QueueCapacity <= 0 {
		return errors.New("monitor.queue_size must be >0")
	}
	if cfg.WorkerCount <= 0 {
		return errors.New("monitor.workers must be >0")
	}
	if cfg.ShutdownGrace <= 0 {
		return errors.New("monitor.shutdown_grace_sec must be >0")
	}
	for i, spec := range cfg.Channels {
		if strings.TrimSpace(spec.Type) == "" {
			return fmt.Errorf("channel[%d].type is required", i)
		}
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	return validateLogSink("log.file", cfg.Log.File, true)
}

// validateLogSink checks one log sink section.
// Params: section label, sink settings, and whether a path is expected.
// Returns: first violated constraint.
func validateLogSink(label string, sink LogSink, wantPath bool) error {
	switch strings.ToLower(sink.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", label, sink.Level)
	}
	switch strings.ToLower(sink.Format) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", label, sink.Format)
	}
	if wantPath && sink.Enabled && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when %s.enabled=true", label, label)
	}
	return nil
}

// lookupEnv reads one environment variable, treating blank as unset.
func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// splitList parses one comma-separated environment value.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func daysToDuration(days float64) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days * 24 * float64(time.Hour))
}
