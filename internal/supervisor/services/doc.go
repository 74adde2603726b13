// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

/*
Package services provides suture.Service wrappers for Resonance components.

Each wrapper adapts a component's lifecycle (Run loops, ListenAndServe,
cron schedulers) to suture's context-aware Serve pattern and implements
fmt.Stringer so supervisor events name the service.

# Available Services

AffinityRetryService:
  - Runs affinity.RetryWorker, replaying writes queued while the store was down
  - Makes one bounded drain pass on shutdown

InteractionLogService:
  - Subscribes to the interaction event bus
  - Feeds the stream into the DuckDB interaction log

RefitService:
  - Reloads the catalog and refits clusters on a cron schedule (robfig/cron)
  - Skips a run while the previous one is still going
  - An unparsable schedule stops the service with suture.ErrDoNotRestart

HTTPServerService:
  - Wraps *http.Server with graceful shutdown
  - Serves metrics and health endpoints

# Return Values

Services return ctx.Err() after a requested shutdown and a wrapped error
for anything the supervisor should restart.
*/
package services
