// Package notify holds the built-in delivery channel implementations and
// the factory that resolves configured channel tags into live channels.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"perfmonitor/channel"
)

const defaultHTTPTimeoutSec = 10

// Build resolves one configured channel tag into a channel implementation.
// Built-in tags are matched first; anything else is looked up in the
// extension registry. Unknown tags are a configuration error.
// Params: channel tag, channel settings, and optional logger.
// Returns: constructed channel or resolution error.
func Build(tag string, settings channel.Settings, logger *slog.Logger) (channel.Channel, error) {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	switch normalized {
	case channel.TypeLocal:
		return NewLocalChannel(settings, logger), nil
	case channel.TypeWebhook:
		return NewWebhookChannel(settings), nil
	case channel.TypeMattermost:
		return NewMattermostChannel(settings), nil
	case channel.TypeEmail:
		return NewEmailChannel(settings), nil
	case channel.TypeTelegram:
		return NewTelegramChannel(settings), nil
	case channel.TypeNATS:
		return NewNATSChannel(settings), nil
	}

	factory, ok := channel.Lookup(normalized)
	if !ok {
		return nil, fmt.Errorf("unknown notification channel type %q", tag)
	}
	built, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("build channel %q: %w", tag, err)
	}
	if built == nil {
		return nil, fmt.Errorf("channel factory %q returned nil channel", tag)
	}
	return built, nil
}

// newHTTPClient builds the transport client for one HTTP-based channel.
// Params: channel settings carrying an optional timeout_sec override.
// Returns: client with channel-scoped timeout.
func newHTTPClient(settings channel.Settings) *http.Client {
	timeoutSec := settings.Int("timeout_sec", defaultHTTPTimeoutSec)
	if timeoutSec <= 0 {
		timeoutSec = defaultHTTPTimeoutSec
	}
	return &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}
}

// unexpectedHTTPStatusError formats non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
