package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"perfmonitor/channel"
	"perfmonitor/internal/report"
	"perfmonitor/profile"
)

const webhookReportLimit = 3000

// WebhookChannel posts alert envelopes to a configured HTTP endpoint.
// Params: endpoint URL, method, and extra headers from settings.
// Returns: generic HTTP delivery channel.
type WebhookChannel struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates the generic HTTP channel.
// Params: settings with "url", optional "method" and "headers".
// Returns: initialized channel.
func NewWebhookChannel(settings channel.Settings) *WebhookChannel {
	headers := map[string]string{}
	if raw, ok := settings["headers"]; ok {
		switch typed := raw.(type) {
		case map[string]string:
			for key, value := range typed {
				headers[key] = value
			}
		case map[string]any:
			for key, value := range typed {
				headers[key] = fmt.Sprint(value)
			}
		}
	}
	return &WebhookChannel{
		url:     strings.TrimSpace(settings.String("url")),
		method:  strings.ToUpper(strings.TrimSpace(settings.StringOr("method", http.MethodPost))),
		headers: headers,
		client:  newHTTPClient(settings),
	}
}

// Type returns the channel tag.
// Params: none.
// Returns: static channel key.
func (c *WebhookChannel) Type() string {
	return channel.TypeWebhook
}

// ValidateConfig checks the channel settings at startup.
// Params: none.
// Returns: error when the endpoint URL is missing or unparseable.
func (c *WebhookChannel) ValidateConfig() error {
	if c.url == "" {
		return errors.New("webhook channel requires a url")
	}
	parsed, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("webhook url is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("webhook url scheme %q is not supported", parsed.Scheme)
	}
	return nil
}

// Send delivers one alert envelope as JSON to the endpoint.
// Params: context, captured profile, and report format.
// Returns: transport or HTTP status error.
func (c *WebhookChannel) Send(ctx context.Context, p profile.Profile, format profile.Format) error {
	envelope := struct {
		ID           string           `json:"id"`
		OperationKey string           `json:"operation_key"`
		DurationSec  float64          `json:"duration_sec"`
		CapturedAt   time.Time        `json:"captured_at"`
		Message      string           `json:"message"`
		Metadata     profile.Metadata `json:"metadata,omitempty"`
		Report       string           `json:"report,omitempty"`
	}{
		ID:           p.ID,
		OperationKey: p.OperationKey,
		DurationSec:  p.Duration.Seconds(),
		CapturedAt:   p.CapturedAt,
		Message:      report.Brief(p),
		Metadata:     p.Metadata,
		Report:       report.Truncate(p.Payload.Render(format), webhookReportLimit),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, c.method, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		request.Header.Set(key, value)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("webhook", response)
	}
	return nil
}
