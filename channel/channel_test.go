package channel

import (
	"context"
	"testing"

	"perfmonitor/profile"
)

type nullChannel struct{}

func (nullChannel) Type() string { return "null" }

func (nullChannel) Send(context.Context, profile.Profile, profile.Format) error { return nil }

func (nullChannel) ValidateConfig() error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	if err := Register("Custom-Sink", func(Settings) (Channel, error) { return nullChannel{}, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}

	factory, ok := Lookup("custom-sink")
	if !ok {
		t.Fatalf("expected factory for custom-sink")
	}
	built, err := factory(nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if built.Type() != "null" {
		t.Fatalf("unexpected channel type %q", built.Type())
	}

	if err := Register("custom-sink", func(Settings) (Channel, error) { return nullChannel{}, nil }); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestRegisterRejectsReservedAndEmptyTags(t *testing.T) {
	if err := Register("", func(Settings) (Channel, error) { return nullChannel{}, nil }); err == nil {
		t.Fatalf("expected error for empty tag")
	}
	if err := Register("local", func(Settings) (Channel, error) { return nullChannel{}, nil }); err == nil {
		t.Fatalf("expected error for reserved tag")
	}
	if err := Register("probe", nil); err == nil {
		t.Fatalf("expected error for nil factory")
	}
}

func TestSettingsCoercion(t *testing.T) {
	t.Parallel()

	settings := Settings{
		"url":        " https://hooks.example.com/perf ",
		"port":       int64(2525),
		"ratio":      float64(3),
		"numeric":    "42",
		"tls":        "true",
		"plain":      false,
		"recipients": []any{"dev@example.com", " ops@example.com ", ""},
		"headers":    "a, b ,c",
	}

	if got := settings.String("url"); got != "https://hooks.example.com/perf" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := settings.StringOr("missing", "fallback"); got != "fallback" {
		t.Fatalf("unexpected fallback %q", got)
	}
	if got := settings.Int("port", 0); got != 2525 {
		t.Fatalf("unexpected port %d", got)
	}
	if got := settings.Int("ratio", 0); got != 3 {
		t.Fatalf("unexpected ratio %d", got)
	}
	if got := settings.Int("numeric", 0); got != 42 {
		t.Fatalf("unexpected numeric %d", got)
	}
	if got := settings.Int("missing", 587); got != 587 {
		t.Fatalf("unexpected default %d", got)
	}
	if !settings.Bool("tls", false) {
		t.Fatalf("expected tls=true")
	}
	if settings.Bool("plain", true) {
		t.Fatalf("expected plain=false")
	}
	if got := settings.StringList("recipients"); len(got) != 2 || got[1] != "ops@example.com" {
		t.Fatalf("unexpected recipients %v", got)
	}
	if got := settings.StringList("headers"); len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected headers %v", got)
	}
}
