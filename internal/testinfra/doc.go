// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package testinfra starts backing services in Docker for integration tests.
//
// It uses testcontainers-go so the persistent affinity backends are tested
// against the real servers they run on in production:
//
//	func TestRedisStore(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    redis, err := testinfra.NewRedisContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    testinfra.CleanupContainer(t, redis)
//
//	    store, err := affinity.OpenRedis(ctx, affinity.RedisConfig{Addr: redis.Addr})
//	    ...
//	}
//
// Every file carries the integration build tag:
//
//	go test -tags integration ./...
package testinfra
