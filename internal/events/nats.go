// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

//go:build nats

package events

import (
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/resonance/internal/logging"
)

// startEmbedded runs an in-process NATS server.
func startEmbedded(cfg NATSConfig) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "resonance-events",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return ns, nil
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func openNATS(cfg Config, logger zerolog.Logger) (*Bus, error) {
	adapter := logging.NewWatermillAdapter(logger)
	b := &Bus{topic: topicOrDefault(cfg.Topic)}

	url := cfg.NATS.URL
	if cfg.NATS.Embedded {
		ns, err := startEmbedded(cfg.NATS)
		if err != nil {
			return nil, err
		}
		url = ns.ClientURL()
		b.closers = append(b.closers, func() error {
			ns.Shutdown()
			ns.WaitForShutdown()
			return nil
		})
		logger.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, adapter)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	b.pub = pub
	b.closers = append(b.closers, pub.Close)

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.NATS.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, adapter)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	b.sub = sub
	b.closers = append(b.closers, sub.Close)

	logger.Info().Str("url", url).Str("topic", b.topic).Msg("NATS event bus connected")
	return b, nil
}
