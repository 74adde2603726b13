// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

/*
Package supervisor provides process supervision for Resonance using suture v4.

Long-running background work is organized into a supervisor tree with
Erlang/OTP-style restarts and graceful shutdown:

	RootSupervisor ("resonance")
	├── StorageSupervisor ("storage-layer")
	│   ├── AffinityRetryService (queued affinity writes)
	│   └── InteractionLogService (event bus -> DuckDB, if enabled)
	├── ModelSupervisor ("model-layer")
	│   └── RefitService (cron-scheduled catalog reload and refit, if enabled)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (metrics, health and status, if enabled)

Each layer counts failures independently, so a refit that keeps failing
backs off without disturbing the retry worker or the metrics endpoint.

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logger), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddStorageService(services.NewAffinityRetryService(affinity.NewRetryWorker(store), 5*time.Second, logger))
	tree.AddAPIService(services.NewHTTPServerService(server, 15*time.Second, logger))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

# Configuration

Default values match suture's production-ready defaults:
  - FailureThreshold: 5 failures
  - FailureDecay: 30 seconds
  - FailureBackoff: 15 seconds
  - ShutdownTimeout: 10 seconds

# Service Interface

All services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return nil to stop for good, an error to be restarted, and return promptly
once ctx is canceled.

# What Is NOT Supervised

The recommendation engine itself has no goroutines of its own beyond the
go-cache janitor; sessions run on the caller's goroutine.

# Debugging Shutdown Issues

UnstoppedServiceReport lists services that ignored cancellation past the
shutdown timeout.
*/
package supervisor
