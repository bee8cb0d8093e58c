package channel

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"perfmonitor/profile"
)

// Built-in channel type tags accepted in channel specs.
const (
	// TypeLocal persists reports to the local filesystem.
	TypeLocal = "local"
	// TypeWebhook posts an alert summary to an HTTP endpoint.
	TypeWebhook = "webhook"
	// TypeMattermost posts to a Mattermost channel with the report attached.
	TypeMattermost = "mattermost"
	// TypeEmail delivers the report over SMTP.
	TypeEmail = "email"
	// TypeTelegram sends an alert message through the Bot API.
	TypeTelegram = "telegram"
	// TypeNATS publishes the encoded profile to a JetStream subject.
	TypeNATS = "nats"
)

// Channel delivers captured profiles to one destination.
// Params: profile to deliver and requested rendering format.
// Returns: delivery error; must respect the context deadline.
type Channel interface {
	Type() string
	Send(ctx context.Context, p profile.Profile, format profile.Format) error
	ValidateConfig() error
}

// Settings holds the channel-specific fields of one channel spec.
// Params: raw key/value table from configuration.
// Returns: typed accessors with coercion for TOML and JSON decodings.
type Settings map[string]any

// String returns a trimmed string setting.
// Params: setting key.
// Returns: value or empty string when absent or not a string.
func (s Settings) String(key string) string {
	value, ok := s[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

// StringOr returns a string setting with a fallback.
// Params: setting key and default value.
// Returns: stored value or fallback when absent/empty.
func (s Settings) StringOr(key, fallback string) string {
	if value := s.String(key); value != "" {
		return value
	}
	return fallback
}

// Int returns an integer setting with a fallback.
// Params: setting key and default value.
// Returns: coerced integer; TOML int64, JSON float64 and digit strings accepted.
func (s Settings) Int(key string, fallback int) int {
	value, ok := s[key]
	if !ok {
		return fallback
	}
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool returns a boolean setting with a fallback.
// Params: setting key and default value.
// Returns: coerced boolean; "true"/"false" strings accepted.
func (s Settings) Bool(key string, fallback bool) bool {
	value, ok := s[key]
	if !ok {
		return fallback
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(typed)); err == nil {
			return parsed
		}
	}
	return fallback
}

// StringList returns a list setting.
// Params: setting key.
// Returns: string slice; arrays and comma-separated strings accepted.
func (s Settings) StringList(key string) []string {
	value, ok := s[key]
	if !ok {
		return nil
	}
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if text, ok := item.(string); ok && strings.TrimSpace(text) != "" {
				out = append(out, strings.TrimSpace(text))
			}
		}
		return out
	case string:
		parts := strings.Split(typed, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return nil
}

// Factory builds one channel from its spec settings.
// Params: channel-specific settings table.
// Returns: configured channel or construction error.
type Factory func(settings Settings) (Channel, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a user-supplied channel factory under a type tag.
// Params: type tag and factory; built-in tags cannot be replaced.
// Returns: error on empty tag, built-in collision, or duplicate registration.
func Register(tag string, factory Factory) error {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	if normalized == "" {
		return fmt.Errorf("channel tag is required")
	}
	if factory == nil {
		return fmt.Errorf("channel factory is required for %q", normalized)
	}
	if isBuiltin(normalized) {
		return fmt.Errorf("channel tag %q is reserved", normalized)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[normalized]; exists {
		return fmt.Errorf("channel tag %q is already registered", normalized)
	}
	registry[normalized] = factory
	return nil
}

// Lookup resolves a registered extension factory by type tag.
// Params: type tag from a channel spec.
// Returns: factory and presence flag.
func Lookup(tag string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[strings.ToLower(strings.TrimSpace(tag))]
	return factory, ok
}

// Registered returns the sorted extension tags.
// Params: none.
// Returns: deterministic tag list for diagnostics.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func isBuiltin(tag string) bool {
	switch tag {
	case TypeLocal, TypeWebhook, TypeMattermost, TypeEmail, TypeTelegram, TypeNATS:
		return true
	}
	return false
}
