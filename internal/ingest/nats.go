package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"perfmonitor/internal/permanent"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds the JetStream intake settings.
// Params: connection URLs, stream binding, and consumer tuning.
// Returns: subscriber construction input.
type NATSConfig struct {
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

// NATSSubscriber consumes encoded profiles from a JetStream queue
// consumer and forwards them to the sink. Undecodable messages and
// permanently rejected profiles are acked and dropped; transient sink
// rejections are nacked for redelivery.
// Params: NATS connection and durable queue subscription.
// Returns: intake lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber connects and starts the durable queue consumer.
// The stream is created when missing so a fresh broker works.
// Params: intake config, profile sink, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg NATSConfig, sink ProfileSink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats intake: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for intake: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}

	subscriber := &NATSSubscriber{nc: nc, logger: logger}
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.Durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		p, decodeErr := decodePayload(message.Data, false)
		if decodeErr != nil {
			if logger != nil {
				logger.Warn("nats intake decode failed", "subject", message.Subject, "error", decodeErr.Error())
			}
			subscriber.ackMessage(message, "decode")
			return
		}
		if submitErr := sink.Submit(p); submitErr != nil {
			if permanent.Is(submitErr) {
				if logger != nil {
					logger.Warn("nats intake dropped rejected profile", "subject", message.Subject, "error", submitErr.Error())
				}
				subscriber.ackMessage(message, "rejected")
				return
			}
			if logger != nil {
				logger.Error("nats intake submit failed", "subject", message.Subject, "error", submitErr.Error())
			}
			subscriber.nackMessage(message, nackDelay)
			return
		}
		subscriber.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// ensureStream creates the intake stream when it does not exist yet.
// Params: JetStream context, stream name, and bound subject.
// Returns: lookup or creation error.
func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", stream, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{Name: stream, Subjects: []string{subject}}); err != nil {
		return fmt.Errorf("create stream %q: %w", stream, err)
	}
	return nil
}

// ackMessage acknowledges a processed or poison message.
// Params: JetStream message and short reason for log context.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats intake ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver the message.
// Params: JetStream message and optional redelivery delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("nats intake nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains the subscription and closes the connection.
// Params: none.
// Returns: drain error.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
