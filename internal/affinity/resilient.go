// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package affinity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/resonance/internal/metrics"
)

// ResilienceConfig tunes the circuit breaker and the retry worker.
type ResilienceConfig struct {
	// Name labels breaker metrics. Default: affinity-store.
	Name string `json:"name" koanf:"name"`

	// Backend labels operation metrics. Default: the store type.
	Backend string `json:"backend" koanf:"-"`

	// FailureThreshold is the consecutive failure count that opens the
	// breaker. Default: 5.
	FailureThreshold uint32 `json:"failure_threshold" koanf:"failure_threshold" validate:"gte=1"`

	// HalfOpenRequests is the number of trial calls allowed while half-open.
	// Default: 1.
	HalfOpenRequests uint32 `json:"half_open_requests" koanf:"half_open_requests" validate:"gte=1"`

	// Interval resets failure counts while closed. Default: 60s.
	Interval time.Duration `json:"interval" koanf:"interval"`

	// OpenTimeout is how long the breaker stays open. Default: 30s.
	OpenTimeout time.Duration `json:"open_timeout" koanf:"open_timeout" validate:"gt=0"`

	// CallTimeout bounds each backend call. Default: 2s.
	CallTimeout time.Duration `json:"call_timeout" koanf:"call_timeout" validate:"gt=0"`

	// RetryInterval is the pause between retry rounds. Default: 5s.
	RetryInterval time.Duration `json:"retry_interval" koanf:"retry_interval" validate:"gt=0"`

	// RetryBatch is the number of writes examined per round. Default: 100.
	RetryBatch int `json:"retry_batch" koanf:"retry_batch" validate:"gte=1"`

	// RetryRate limits replayed writes per second. Default: 50.
	RetryRate float64 `json:"retry_rate" koanf:"retry_rate" validate:"gt=0"`

	// RetryBurst is the limiter burst. Default: 10.
	RetryBurst int `json:"retry_burst" koanf:"retry_burst" validate:"gte=1"`

	// MaxAttempts drops a write after this many failed retries. Default: 20.
	MaxAttempts int `json:"max_attempts" koanf:"max_attempts" validate:"gte=1"`
}

// DefaultResilienceConfig returns production defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Name:             "affinity-store",
		FailureThreshold: 5,
		HalfOpenRequests: 1,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		CallTimeout:      2 * time.Second,
		RetryInterval:    5 * time.Second,
		RetryBatch:       100,
		RetryRate:        50,
		RetryBurst:       10,
		MaxAttempts:      20,
	}
}

// BackendName returns the metrics label of a store implementation.
func BackendName(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "memory"
	case *BadgerStore:
		return "badger"
	case *SQLStore:
		return "sql"
	case *RedisStore:
		return "redis"
	default:
		return "custom"
	}
}

// Resilient guards a Store with a circuit breaker. Failed reads return
// ErrUnavailable; failed writes are queued and replayed by a RetryWorker.
//
// Replay is at-least-once. A call that times out after the backend committed
// it is still queued, so its replay applies the affinity delta a second time
// and stores a duplicate negative exemplar. Sessions dedupe negatives by
// track ID; a doubled delta only overweights one listen in the warm start.
type Resilient struct {
	store  Store
	queue  Queue
	cb     *gobreaker.CircuitBreaker[any]
	cfg    ResilienceConfig
	logger zerolog.Logger
}

var _ Store = (*Resilient)(nil)

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// NewResilient wraps store. queue receives writes that fail.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewResilient(store Store, queue Queue, cfg ResilienceConfig, logger zerolog.Logger) *Resilient {
	def := DefaultResilienceConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendName(store)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	r := &Resilient{
		store:  store,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With().Str("component", "affinity").Str("backend", cfg.Backend).Logger(),
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	r.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Invalid arguments and cancellations do not count against the backend.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrInvalidArgument) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Affinity circuit breaker state change")
			metrics.RecordBreakerTransition(name, from.String(), to.String(), stateToFloat(to))
		},
	})
	return r
}

// Store returns the wrapped store.
func (r *Resilient) Store() Store { return r.store }

// Queue returns the retry queue.
func (r *Resilient) Queue() Queue { return r.queue }

// State returns the breaker state name.
func (r *Resilient) State() string { return r.cb.State().String() }

// execute runs fn through the breaker with the call timeout and records
// metrics. Breaker rejections and backend failures wrap ErrUnavailable.
func (r *Resilient) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	_, err := r.cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	metrics.RecordAffinityOp(r.cfg.Backend, op, time.Since(start), err)

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(r.cfg.Name, "success").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(r.cfg.Name, "rejected").Inc()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, context.Canceled):
		return err
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(r.cfg.Name, "failure").Inc()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
}

// GetUserClusterHistory implements Store.
func (r *Resilient) GetUserClusterHistory(ctx context.Context, userID, collectionID string, limit int) ([]Record, error) {
	var out []Record
	err := r.execute(ctx, "get_history", func(ctx context.Context) error {
		var err error
		out, err = r.store.GetUserClusterHistory(ctx, userID, collectionID, limit)
		return err
	})
	return out, err
}

// GetClusterNegatives implements Store.
func (r *Resilient) GetClusterNegatives(ctx context.Context, userID string, clusterID int, collectionID string, limit int) ([]NegativeExemplar, error) {
	var out []NegativeExemplar
	err := r.execute(ctx, "get_negatives", func(ctx context.Context) error {
		var err error
		out, err = r.store.GetClusterNegatives(ctx, userID, clusterID, collectionID, limit)
		return err
	})
	return out, err
}

// ListDislikedTracks implements Store.
func (r *Resilient) ListDislikedTracks(ctx context.Context, userID, collectionID string) ([]string, error) {
	var out []string
	err := r.execute(ctx, "list_disliked", func(ctx context.Context) error {
		var err error
		out, err = r.store.ListDislikedTracks(ctx, userID, collectionID)
		return err
	})
	return out, err
}

// UpsertClusterAffinity implements Store. A failed write is queued and nil is
// returned; only a rejected enqueue is reported.
func (r *Resilient) UpsertClusterAffinity(ctx context.Context, userID string, clusterID int, collectionID string, deltaListenSeconds float64, positive bool) error {
	return r.write(ctx, PendingWrite{
		Kind:               WriteUpsert,
		UserID:             userID,
		ClusterID:          clusterID,
		CollectionID:       collectionID,
		DeltaListenSeconds: deltaListenSeconds,
		Positive:           positive,
	})
}

// AddClusterNegative implements Store with the same queuing as
// UpsertClusterAffinity.
func (r *Resilient) AddClusterNegative(ctx context.Context, userID string, clusterID int, collectionID string, vec []float64, trackID string) error {
	return r.write(ctx, PendingWrite{
		Kind:         WriteNegative,
		UserID:       userID,
		ClusterID:    clusterID,
		CollectionID: collectionID,
		Vector:       cloneVector(vec),
		TrackID:      trackID,
	})
}

func (r *Resilient) write(ctx context.Context, w PendingWrite) error {
	err := r.execute(ctx, string(w.Kind), func(ctx context.Context) error {
		return w.apply(ctx, r.store)
	})
	if err == nil || errors.Is(err, ErrInvalidArgument) {
		return err
	}

	w.EnqueuedAt = time.Now().UTC()
	w.LastError = err.Error()
	// The caller's context may already be done; queuing must not depend on it.
	if qerr := r.queue.Push(context.WithoutCancel(ctx), w); qerr != nil {
		r.logger.Error().Err(qerr).Str("user_id", w.UserID).Str("kind", string(w.Kind)).Msg("Failed to queue affinity write")
		return fmt.Errorf("%w: queue: %v", ErrUnavailable, qerr)
	}
	r.logger.Warn().Err(err).
		Str("user_id", w.UserID).
		Int("cluster_id", w.ClusterID).
		Str("kind", string(w.Kind)).
		Int("queued", r.queue.Len()).
		Msg("Affinity write queued for retry")
	return nil
}

// Close closes the wrapped store and the queue.
func (r *Resilient) Close() error {
	return errors.Join(r.store.Close(), r.queue.Close())
}

// RetryWorker replays queued writes through the breaker at a bounded rate.
type RetryWorker struct {
	r       *Resilient
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewRetryWorker creates a worker for r.
func NewRetryWorker(r *Resilient) *RetryWorker {
	def := DefaultResilienceConfig()
	rps, burst := r.cfg.RetryRate, r.cfg.RetryBurst
	if rps <= 0 {
		rps = def.RetryRate
	}
	if burst <= 0 {
		burst = def.RetryBurst
	}
	return &RetryWorker{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  r.logger.With().Str("worker", "retry").Logger(),
	}
}

// Run drains the queue every RetryInterval until ctx is done.
func (w *RetryWorker) Run(ctx context.Context) error {
	interval := w.r.cfg.RetryInterval
	if interval <= 0 {
		interval = DefaultResilienceConfig().RetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", interval).Msg("Affinity retry worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Int("pending", w.r.queue.Len()).Msg("Affinity retry worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn().Err(err).Msg("Affinity retry round failed")
			}
		}
	}
}

// Drain makes one pass over up to RetryBatch queued writes and returns how
// many were applied. It stops early when the breaker rejects a call.
func (w *RetryWorker) Drain(ctx context.Context) (int, error) {
	batch := w.r.cfg.RetryBatch
	if batch <= 0 {
		batch = DefaultResilienceConfig().RetryBatch
	}
	maxAttempts := w.r.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultResilienceConfig().MaxAttempts
	}

	pending, err := w.r.queue.Peek(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("peek retry queue: %w", err)
	}

	applied := 0
	for i := range pending {
		pw := pending[i]
		if err := w.limiter.Wait(ctx); err != nil {
			return applied, err
		}

		err := w.r.execute(ctx, "retry_"+string(pw.Kind), func(ctx context.Context) error {
			return pw.apply(ctx, w.r.store)
		})
		switch {
		case err == nil:
			if err := w.r.queue.Remove(ctx, pw.ID); err != nil {
				return applied, err
			}
			applied++
			metrics.RecordAffinityRetry("success")
		case errors.Is(err, ErrInvalidArgument):
			_ = w.r.queue.Remove(ctx, pw.ID)
			metrics.RecordAffinityRetry("dropped")
			w.logger.Error().Err(err).Str("write_id", pw.ID).Msg("Dropping invalid queued affinity write")
		default:
			pw.Attempts++
			pw.LastError = err.Error()
			if pw.Attempts >= maxAttempts {
				_ = w.r.queue.Remove(ctx, pw.ID)
				metrics.RecordAffinityRetry("dropped")
				w.logger.Error().Err(err).Str("write_id", pw.ID).Int("attempts", pw.Attempts).Msg("Dropping affinity write after max attempts")
			} else {
				_ = w.r.queue.Update(ctx, pw)
				metrics.RecordAffinityRetry("failure")
			}
			if w.r.cb.State() == gobreaker.StateOpen {
				return applied, nil
			}
		}
	}
	if applied > 0 {
		w.logger.Info().Int("applied", applied).Int("pending", w.r.queue.Len()).Msg("Replayed queued affinity writes")
	}
	return applied, nil
}
