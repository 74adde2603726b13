// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

//go:build integration

package testinfra

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultRedisImage is the Redis image used for affinity store tests.
	DefaultRedisImage = "redis:7-alpine"

	redisPort = "6379/tcp"
)

// RedisContainer is a running Redis server.
type RedisContainer struct {
	testcontainers.Container

	// Addr is the host:port clients connect to.
	Addr string
}

// NewRedisContainer starts a Redis server with persistence disabled.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, err := startGeneric(ctx, testcontainers.ContainerRequest{
		Image:        DefaultRedisImage,
		ExposedPorts: []string{redisPort},
		Cmd:          []string{"redis-server", "--save", "", "--appendonly", "no"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(redisPort),
			wait.ForLog("Ready to accept connections"),
		).WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		return nil, err
	}

	addr, err := hostPort(ctx, container, redisPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, err
	}
	return &RedisContainer{Container: container, Addr: addr}, nil
}
