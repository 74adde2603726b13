// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/logging"
	"github.com/tomtom215/resonance/internal/metrics"
)

// Bus backends.
const (
	BackendChannel = "gochannel"
	BackendNATS    = "nats"
)

// ErrClosed reports use of a closed bus.
var ErrClosed = errors.New("event bus closed")

// Config configures the event bus and the interaction log.
type Config struct {
	// Enabled turns event publishing on. Default: true.
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Backend is "gochannel" or "nats". Default: gochannel.
	Backend string `json:"backend" koanf:"backend" validate:"oneof=gochannel nats"`

	// Topic is the interaction topic. Default: resonance.interactions.
	Topic string `json:"topic" koanf:"topic" validate:"required"`

	// BufferSize is the per-subscriber buffer of the gochannel backend.
	// Default: 1024.
	BufferSize int64 `json:"buffer_size" koanf:"buffer_size" validate:"gte=0"`

	// NATS configures the nats backend.
	NATS NATSConfig `json:"nats" koanf:"nats"`

	// Sink configures the DuckDB interaction log.
	Sink SinkConfig `json:"sink" koanf:"sink"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	// URL is the server to connect to. Ignored when Embedded is set.
	// Default: nats://127.0.0.1:4222.
	URL string `json:"url" koanf:"url"`

	// Embedded starts an in-process NATS server. Default: false.
	Embedded bool `json:"embedded" koanf:"embedded"`

	// Host and Port are the embedded server listen address.
	// Default: 127.0.0.1:4222.
	Host string `json:"host" koanf:"host"`
	Port int    `json:"port" koanf:"port" validate:"gte=-1,lte=65535"`

	// QueueGroup load-balances the interaction log across replicas.
	// Default: resonance-sink.
	QueueGroup string `json:"queue_group" koanf:"queue_group"`

	// MaxReconnects bounds client reconnect attempts (-1 = forever). Default: -1.
	MaxReconnects int `json:"max_reconnects" koanf:"max_reconnects"`

	// ReconnectWait is the pause between reconnects. Default: 2s.
	ReconnectWait time.Duration `json:"reconnect_wait" koanf:"reconnect_wait"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Backend:    BackendChannel,
		Topic:      DefaultTopic,
		BufferSize: 1024,
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Host:          "127.0.0.1",
			Port:          4222,
			QueueGroup:    "resonance-sink",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Sink: DefaultSinkConfig(),
	}
}

// Publisher accepts interaction events.
type Publisher interface {
	Publish(ctx context.Context, e *InteractionEvent) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, *InteractionEvent) error { return nil }

// Bus publishes interaction events on a watermill transport and hands out
// subscriptions to the same topic.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	topic   string
	closers []func() error
	closed  atomic.Bool
}

var _ Publisher = (*Bus)(nil)

// Open creates the configured bus.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(cfg Config, logger zerolog.Logger) (*Bus, error) {
	logger = logger.With().Str("component", "events").Str("backend", cfg.Backend).Logger()
	switch cfg.Backend {
	case BackendChannel, "":
		return NewChannelBus(cfg, logger), nil
	case BackendNATS:
		return openNATS(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown event backend %q", cfg.Backend)
	}
}

// NewChannelBus creates an in-process bus. Events published while nobody is
// subscribed are dropped.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewChannelBus(cfg Config, logger zerolog.Logger) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, logging.NewWatermillAdapter(logger))

	return &Bus{
		pub:     ch,
		sub:     ch,
		topic:   topicOrDefault(cfg.Topic),
		closers: []func() error{ch.Close},
	}
}

func topicOrDefault(topic string) string {
	if topic == "" {
		return DefaultTopic
	}
	return topic
}

// Topic returns the interaction topic.
func (b *Bus) Topic() string { return b.topic }

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, e *InteractionEvent) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := Marshal(e)
	if err != nil {
		metrics.RecordEventPublished(string(e.Action), err)
		return err
	}

	msg := message.NewMessage(e.EventID, data)
	msg.Metadata.Set("action", string(e.Action))
	msg.Metadata.Set("session_id", e.SessionID)
	msg.SetContext(ctx)

	err = b.pub.Publish(b.topic, msg)
	metrics.RecordEventPublished(string(e.Action), err)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", e.Action, err)
	}
	return nil
}

// Subscribe returns the message stream of the interaction topic. The channel
// closes when ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.sub.Subscribe(ctx, b.topic)
}

// Close shuts the transport down. Safe to call more than once.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
