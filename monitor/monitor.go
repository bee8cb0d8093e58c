// Package monitor wires capture gating, alert deduplication, and the
// delivery pipeline behind one embeddable façade. A Monitor never
// breaks the operation it observes: every internal failure is logged
// and swallowed, and capture handles degrade to no-ops.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"perfmonitor/channel"
	"perfmonitor/internal/clock"
	"perfmonitor/internal/dedup"
	"perfmonitor/internal/dispatch"
	"perfmonitor/internal/gate"
	"perfmonitor/internal/notify"
	"perfmonitor/internal/permanent"
	"perfmonitor/profile"
)

// snapshotFileName stores dedup state under the report directory.
const snapshotFileName = "alerts.json"

// Option customizes one Monitor at construction time.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	samplerFactory func() profile.Sampler
	now            func() time.Time
	extraTargets   []dispatch.Target
	keyFunc        KeyFunc
	metadataFunc   MetadataFunc
}

// WithLogger routes monitor logging through the given logger.
// Params: structured logger.
// Returns: monitor option.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSampler installs the profiling sampler factory. The factory is
// invoked once per capture; captures run timing-only without one.
// Params: sampler factory.
// Returns: monitor option.
func WithSampler(factory func() profile.Sampler) Option {
	return func(o *options) {
		o.samplerFactory = factory
	}
}

// WithNow overrides the time source. Used by tests.
// Params: replacement now function.
// Returns: monitor option.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithChannel appends one pre-built delivery channel. The caller keeps
// ownership: the monitor will not close it.
// Params: channel instance and report format for it.
// Returns: monitor option.
func WithChannel(ch channel.Channel, format profile.Format) Option {
	return func(o *options) {
		if ch != nil {
			o.extraTargets = append(o.extraTargets, dispatch.Target{Channel: ch, Format: format})
		}
	}
}

// Stats is a point-in-time snapshot of monitor counters.
// Params: capture and delivery counters since start.
// Returns: observability numbers.
type Stats struct {
	SlowOperations uint64
	Suppressed     uint64
	Enqueued       uint64
	Dropped        uint64
	Delivered      uint64
	Failed         uint64
	TimedOut       uint64
	PendingTasks   int
}

// Monitor is the capture-and-alert pipeline façade.
// Params: validated config plus options.
// Returns: running monitor; Close releases its resources.
type Monitor struct {
	cfg            Config
	logger         *slog.Logger
	clk            clock.Clock
	gate           *gate.Gate
	deduper        *dedup.Deduplicator
	dispatcher     *dispatch.Dispatcher
	samplerFactory func() profile.Sampler
	keyFunc        KeyFunc
	metadataFunc   MetadataFunc
	ownedChannels  []channel.Channel
	alertStore     dedup.Store

	closed         atomic.Bool
	slowOperations atomic.Uint64
	suppressed     atomic.Uint64
}

// New builds a monitor from config. Channel specs are resolved and
// validated here so misconfiguration fails startup, not delivery.
// Params: config and options.
// Returns: running monitor or configuration error.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	opt := options{logger: slog.Default(), now: time.Now}
	for _, apply := range opts {
		apply(&opt)
	}
	var clk clock.Clock = clock.NowFunc(opt.now)

	m := &Monitor{
		cfg:            cfg,
		logger:         opt.logger,
		clk:            clk,
		gate:           gate.New(cfg.Allow, cfg.Deny, opt.logger),
		samplerFactory: opt.samplerFactory,
		keyFunc:        opt.keyFunc,
		metadataFunc:   opt.metadataFunc,
	}
	store, err := buildAlertStore(cfg)
	if err != nil {
		return nil, err
	}
	m.alertStore = store
	m.deduper = dedup.New(cfg.AlertWindow, store, clk.Now, opt.logger)

	targets := make([]dispatch.Target, 0, len(cfg.Channels)+len(opt.extraTargets))
	for _, spec := range cfg.Channels {
		built, err := notify.Build(spec.Type, spec.Settings, opt.logger)
		if err != nil {
			m.closeInitResources()
			return nil, err
		}
		if err := built.ValidateConfig(); err != nil {
			m.closeInitResources()
			return nil, fmt.Errorf("channel %q: %w", spec.Type, err)
		}
		format, err := channelFormat(spec)
		if err != nil {
			m.closeInitResources()
			return nil, err
		}
		m.ownedChannels = append(m.ownedChannels, built)
		targets = append(targets, dispatch.Target{Channel: built, Format: format})
	}
	targets = append(targets, opt.extraTargets...)

	m.dispatcher = dispatch.New(targets, dispatch.Options{
		QueueCapacity:  cfg.QueueCapacity,
		WorkerCount:    cfg.WorkerCount,
		ChannelTimeout: cfg.ChannelTimeout,
		Logger:         opt.logger,
		Now:            clk.Now,
	})

	opt.logger.Info("performance monitor started",
		"threshold", cfg.Threshold.String(),
		"alert_window", cfg.AlertWindow.String(),
		"channels", len(targets),
		"report_dir", cfg.ReportDir)
	return m, nil
}

// buildAlertStore picks the dedup snapshot backend. A configured KV
// bucket wins; the default is one JSON file under the report directory.
// Params: validated config.
// Returns: snapshot store or KV connection error.
func buildAlertStore(cfg Config) (dedup.Store, error) {
	if cfg.AlertStoreBucket == "" {
		return dedup.NewFileStore(filepath.Join(cfg.ReportDir, snapshotFileName)), nil
	}
	store, err := dedup.NewKVStore(cfg.AlertStoreURL, cfg.AlertStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("alert store: %w", err)
	}
	return store, nil
}

// closeInitResources releases everything acquired by a failed New.
func (m *Monitor) closeInitResources() {
	m.closeOwnedChannels()
	m.closeAlertStore()
}

// channelFormat picks the report format for one channel spec.
// Params: channel spec with optional "format" setting.
// Returns: primary/secondary format or error on unsupported values.
func channelFormat(spec ChannelSpec) (profile.Format, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Settings.String("format"))) {
	case "":
		if strings.EqualFold(strings.TrimSpace(spec.Type), channel.TypeLocal) {
			return profile.FormatPrimary, nil
		}
		return profile.FormatSecondary, nil
	case string(profile.FormatPrimary):
		return profile.FormatPrimary, nil
	case string(profile.FormatSecondary):
		return profile.FormatSecondary, nil
	default:
		return "", fmt.Errorf("channel %q has unsupported format %q", spec.Type, spec.Settings.String("format"))
	}
}

// BeginCapture opens one capture session for an operation. When the
// operation is gated out or the monitor is closed, the returned handle
// is inert and End does nothing.
// Params: operation key such as "GET /api/users".
// Returns: capture handle; never nil.
func (m *Monitor) BeginCapture(operationKey string) *Capture {
	if m == nil || m.closed.Load() {
		return inactiveCapture
	}
	key := strings.TrimSpace(operationKey)
	if key == "" {
		return inactiveCapture
	}
	if !m.gate.ShouldCapture(key) {
		return inactiveCapture
	}
	return &Capture{
		mon:       m,
		key:       key,
		startedAt: m.clk.Now(),
		sampler:   m.startSampler(key),
	}
}

// startSampler creates and starts one sampler, absorbing its failures.
// Params: operation key for log context.
// Returns: running sampler or nil for timing-only capture.
func (m *Monitor) startSampler(key string) (s profile.Sampler) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("sampler start panicked, capture continues timing-only",
				"operation", key, "panic", fmt.Sprint(r))
			s = nil
		}
	}()
	if m.samplerFactory == nil {
		return nil
	}
	candidate := m.samplerFactory()
	if candidate == nil {
		return nil
	}
	if err := candidate.Start(); err != nil {
		m.logger.Warn("sampler start failed, capture continues timing-only",
			"operation", key, "error", err.Error())
		return nil
	}
	return candidate
}

// Wrap measures one function call under the given operation key. A
// panic from the function propagates after the capture closes.
// Params: operation key and function to run.
// Returns: none; the function always runs exactly once.
func (m *Monitor) Wrap(operationKey string, fn func()) {
	c := m.BeginCapture(operationKey)
	defer c.End(functionMetadata())
	fn()
}

// Observe measures one error-returning function call.
// Params: operation key and function to run.
// Returns: the function's error untouched.
func (m *Monitor) Observe(operationKey string, fn func() error) error {
	c := m.BeginCapture(operationKey)
	defer c.End(functionMetadata())
	return fn()
}

// functionMetadata marks captures opened by the function wrappers so
// reports can tell them apart from request captures.
func functionMetadata() profile.Metadata {
	return profile.Metadata{}.Set("kind", "function")
}

// Submit enqueues a pre-captured profile, bypassing gating and the
// threshold check: the sender already decided the operation was slow.
// Deduplication still applies; a suppressed submission is not an error.
// Params: validated profile from an external capture.
// Returns: validation error or rejection when the monitor is closed.
func (m *Monitor) Submit(p profile.Profile) error {
	if m == nil || m.closed.Load() {
		return errors.New("monitor is closed")
	}
	if err := p.Validate(); err != nil {
		return permanent.Mark(fmt.Errorf("invalid profile: %w", err))
	}
	m.slowOperations.Add(1)
	if !m.deduper.TryAlert(p.OperationKey) {
		m.suppressed.Add(1)
		m.logger.Debug("alert suppressed inside window",
			"operation", p.OperationKey, "profile", p.ID)
		return nil
	}
	m.logger.Warn("slow operation submitted",
		"operation", p.OperationKey,
		"duration", p.Duration.String(),
		"profile", p.ID)
	if !m.dispatcher.Enqueue(p) {
		return errors.New("monitor is closing")
	}
	return nil
}

// AlertCount reports how many alerts actually fired for one operation.
// Suppressed repeats are not counted.
// Params: operation key.
// Returns: fired alert count, zero when the key never alerted.
func (m *Monitor) AlertCount(operationKey string) int {
	if m == nil {
		return 0
	}
	record, ok := m.deduper.Record(strings.TrimSpace(operationKey))
	if !ok {
		return 0
	}
	return record.AlertCount
}

// Stats returns a snapshot of the monitor counters.
// Params: none.
// Returns: counter snapshot.
func (m *Monitor) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	d := m.dispatcher.Stats()
	return Stats{
		SlowOperations: m.slowOperations.Load(),
		Suppressed:     m.suppressed.Load(),
		Enqueued:       d.Enqueued,
		Dropped:        d.Dropped,
		Delivered:      d.Completed,
		Failed:         d.Failed,
		TimedOut:       d.TimedOut,
		PendingTasks:   m.dispatcher.Pending(),
	}
}

// Config returns the effective configuration after defaults.
// Params: none.
// Returns: config copy.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Close stops intake, drains queued alerts within the shutdown grace,
// and releases channel resources. Safe to call more than once.
// Params: none.
// Returns: drain timeout or channel close error.
func (m *Monitor) Close() error {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownGrace)
	defer cancel()
	err := m.dispatcher.Shutdown(ctx)
	m.closeOwnedChannels()
	m.closeAlertStore()
	m.logger.Info("performance monitor stopped")
	return err
}

// closeOwnedChannels closes channels the monitor built from specs.
func (m *Monitor) closeOwnedChannels() {
	for _, ch := range m.ownedChannels {
		if closer, ok := ch.(io.Closer); ok {
			if err := closer.Close(); err != nil && m.logger != nil {
				m.logger.Warn("channel close failed", "channel", ch.Type(), "error", err.Error())
			}
		}
	}
	m.ownedChannels = nil
}

// closeAlertStore closes the snapshot store when it holds a connection.
func (m *Monitor) closeAlertStore() {
	closer, ok := m.alertStore.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil && m.logger != nil {
		m.logger.Warn("alert store close failed", "error", err.Error())
	}
	m.alertStore = nil
}

// inactiveCapture is the shared inert handle returned for gated-out or
// closed-monitor captures. Its done flag is pre-set so End never acts.
var inactiveCapture = func() *Capture {
	c := &Capture{}
	c.done.Store(true)
	return c
}()

// Capture is one in-flight capture session.
// Params: owning monitor, operation key, and start timestamp.
// Returns: handle finished exactly once via End.
type Capture struct {
	mon       *Monitor
	key       string
	startedAt time.Time
	sampler   profile.Sampler
	done      atomic.Bool
}

// Active reports whether this capture will evaluate on End.
// Params: none.
// Returns: false for inert or already-finished handles.
func (c *Capture) Active() bool {
	return c != nil && c.mon != nil && !c.done.Load()
}

// End closes the capture: the sampler is stopped, the duration checked
// against the threshold, and a deduplicated alert enqueued when the
// operation was slow. End is idempotent and never panics.
// Params: optional request metadata attached to the alert.
// Returns: none.
func (c *Capture) End(metadata profile.Metadata) {
	if c == nil || c.mon == nil {
		return
	}
	if !c.done.CompareAndSwap(false, true) {
		return
	}
	m := c.mon
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("capture end panicked", "operation", c.key, "panic", fmt.Sprint(r))
		}
	}()

	finishedAt := m.clk.Now()
	duration := finishedAt.Sub(c.startedAt)
	payload := c.stopSampler()

	if duration < m.cfg.Threshold {
		return
	}
	m.slowOperations.Add(1)

	if !m.deduper.TryAlert(c.key) {
		m.suppressed.Add(1)
		m.logger.Debug("alert suppressed inside window",
			"operation", c.key, "duration", duration.String())
		return
	}

	prof, err := profile.New(c.key, duration, finishedAt, payload, metadata)
	if err != nil {
		m.logger.Error("profile build failed", "operation", c.key, "error", err.Error())
		return
	}
	m.logger.Warn("slow operation detected",
		"operation", c.key,
		"duration", duration.String(),
		"profile", prof.ID)
	if !m.dispatcher.Enqueue(prof) {
		m.logger.Warn("monitor is closing, alert dropped", "operation", c.key)
	}
}

// stopSampler stops the sampler and converts failures into a
// timing-only payload so the alert still goes out.
// Params: none.
// Returns: sampler payload or fallback text payload; never nil.
func (c *Capture) stopSampler() (payload profile.Payload) {
	fallback := profile.TextPayload{Secondary: "profiling sampler not configured; timing-only alert"}
	payload = fallback
	if c.sampler == nil {
		return payload
	}
	defer func() {
		if r := recover(); r != nil {
			c.mon.logger.Warn("sampler stop panicked, alert degrades to timing-only",
				"operation", c.key, "panic", fmt.Sprint(r))
			payload = fallback
		}
	}()
	produced, err := c.sampler.Stop()
	if err != nil {
		c.mon.logger.Warn("sampler stop failed, alert degrades to timing-only",
			"operation", c.key, "error", err.Error())
		return profile.TextPayload{Secondary: "sampler failed: " + err.Error()}
	}
	if produced == nil {
		return fallback
	}
	return produced
}
