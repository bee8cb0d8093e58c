package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"perfmonitor/channel"
	"perfmonitor/profile"

	"github.com/nats-io/nats.go"
)

// NATSChannel publishes encoded profiles to a JetStream subject so other
// systems can consume alerts off the wire. The connection is established
// on first use and reused afterwards.
// Params: server URL, subject, and optional stream name from settings.
// Returns: NATS delivery channel.
type NATSChannel struct {
	url     string
	subject string
	stream  string

	mu sync.Mutex
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewNATSChannel creates the NATS channel.
// Params: settings with "url", "subject", and optional "stream".
// Returns: initialized channel; the broker is not contacted yet.
func NewNATSChannel(settings channel.Settings) *NATSChannel {
	return &NATSChannel{
		url:     strings.TrimSpace(settings.String("url")),
		subject: strings.TrimSpace(settings.String("subject")),
		stream:  strings.TrimSpace(settings.String("stream")),
	}
}

// Type returns the channel tag.
// Params: none.
// Returns: static channel key.
func (c *NATSChannel) Type() string {
	return channel.TypeNATS
}

// ValidateConfig checks the channel settings at startup.
// Params: none.
// Returns: error when the server URL or subject is missing.
func (c *NATSChannel) ValidateConfig() error {
	if c.url == "" {
		return errors.New("nats channel requires a url")
	}
	if c.subject == "" {
		return errors.New("nats channel requires a subject")
	}
	return nil
}

// Send publishes one encoded profile to the configured subject. The
// profile id doubles as the JetStream dedup id so broker-side retries
// cannot produce duplicate alerts.
// Params: context, captured profile, and report format.
// Returns: connect, encode, or publish error.
func (c *NATSChannel) Send(ctx context.Context, p profile.Profile, _ profile.Format) error {
	js, err := c.jetStream()
	if err != nil {
		return err
	}
	body, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encode profile for nats: %w", err)
	}

	msg := nats.NewMsg(c.subject)
	msg.Header.Set("Nats-Msg-Id", p.ID)
	msg.Data = body
	if _, err := js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("nats publish %q: %w", c.subject, err)
	}
	return nil
}

// jetStream returns the cached JetStream context, connecting on first use.
// Params: none.
// Returns: JetStream context or connection error.
func (c *NATSChannel) jetStream() (nats.JetStreamContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js != nil {
		return c.js, nil
	}

	nc, err := nats.Connect(c.url)
	if err != nil {
		return nil, fmt.Errorf("connect nats %q: %w", c.url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	if c.stream != "" {
		if err := ensureStream(js, c.stream, c.subject); err != nil {
			nc.Close()
			return nil, err
		}
	}
	c.nc = nc
	c.js = js
	return js, nil
}

// ensureStream creates the alert stream when it does not exist yet.
// Params: JetStream context, stream name, and bound subject.
// Returns: stream info or creation error.
func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	if _, err := js.StreamInfo(stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", stream, err)
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", stream, err)
	}
	return nil
}

// Close drains the broker connection if one was established.
// Params: none.
// Returns: nil; close errors from the client are not reported.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
		c.js = nil
	}
	return nil
}
