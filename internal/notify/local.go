package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"perfmonitor/channel"
	"perfmonitor/internal/report"
	"perfmonitor/profile"
)

// LocalChannel writes rendered reports into a directory on local disk.
// It is the mandatory fallback sink: every alert lands here even when all
// remote channels are down.
type LocalChannel struct {
	dir    string
	logger *slog.Logger
}

// NewLocalChannel creates the local file sink.
// Params: settings with the target "dir" and optional logger.
// Returns: initialized channel.
func NewLocalChannel(settings channel.Settings, logger *slog.Logger) *LocalChannel {
	return &LocalChannel{
		dir:    strings.TrimSpace(settings.String("dir")),
		logger: logger,
	}
}

// Type returns the channel tag.
// Params: none.
// Returns: static channel key.
func (c *LocalChannel) Type() string {
	return channel.TypeLocal
}

// ValidateConfig checks the channel settings at startup.
// Params: none.
// Returns: error when the target directory is missing.
func (c *LocalChannel) ValidateConfig() error {
	if c.dir == "" {
		return errors.New("local channel requires a report directory")
	}
	return nil
}

// Send renders the profile in the requested format and writes it to disk.
// The primary format produces an HTML page, the secondary a markdown file.
// Params: context, captured profile, and report format.
// Returns: render or filesystem error.
func (c *LocalChannel) Send(ctx context.Context, p profile.Profile, format profile.Format) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	var (
		body string
		ext  string
	)
	switch format {
	case profile.FormatPrimary:
		rendered, err := report.HTML(p)
		if err != nil {
			return err
		}
		body, ext = rendered, ".html"
	default:
		body, ext = report.Markdown(p), ".md"
	}

	path := filepath.Join(c.dir, report.FileStem(p)+ext)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	if c.logger != nil {
		c.logger.Info("performance report written", "path", path, "operation", p.OperationKey)
	}
	return nil
}

// Dir returns the configured report directory.
// Params: none.
// Returns: directory path.
func (c *LocalChannel) Dir() string {
	return c.dir
}
