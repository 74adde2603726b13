// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestRecordRecommendation(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		source string
	}{
		{"exploit scored", "exploit", SourceScored},
		{"exploit probe", "exploit", SourceProbe},
		{"explore fallback", "explore", SourceFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(RecommendationsServed.WithLabelValues(tt.mode, tt.source))
			RecordRecommendation(tt.mode, tt.source)
			after := testutil.ToFloat64(RecommendationsServed.WithLabelValues(tt.mode, tt.source))
			if after-before != 1 {
				t.Errorf("counter delta = %v, want 1", after-before)
			}
		})
	}
}

func TestRecordAffinityOp(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantError float64
	}{
		{"success", nil, 0},
		{"failure", errors.New("connection refused"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := "upsert_" + tt.name
			before := testutil.ToFloat64(AffinityOpErrors.WithLabelValues("memory", op))
			RecordAffinityOp("memory", op, 2*time.Millisecond, tt.err)
			after := testutil.ToFloat64(AffinityOpErrors.WithLabelValues("memory", op))
			if after-before != tt.wantError {
				t.Errorf("error delta = %v, want %v", after-before, tt.wantError)
			}
		})
	}
}

func TestRecordRefit(t *testing.T) {
	RecordRefit("failure")
	if v := testutil.ToFloat64(ModelLastRefit); v != 0 && v > float64(time.Now().Unix()) {
		t.Errorf("last refit timestamp in the future: %v", v)
	}

	RecordRefit("success")
	if v := testutil.ToFloat64(ModelLastRefit); v == 0 {
		t.Error("last refit timestamp not set after success")
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	RecordBreakerTransition("affinity-test", "closed", "open", 2)
	if v := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("affinity-test")); v != 2 {
		t.Errorf("breaker state = %v, want 2", v)
	}
	RecordBreakerTransition("affinity-test", "open", "half-open", 1)
	if v := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("affinity-test")); v != 1 {
		t.Errorf("breaker state = %v, want 1", v)
	}
}

func TestRecordEventPublished(t *testing.T) {
	beforeErr := testutil.ToFloat64(EventPublishErrors)
	beforeOK := testutil.ToFloat64(EventsPublished.WithLabelValues("served"))

	RecordEventPublished("served", nil)
	RecordEventPublished("served", errors.New("bus closed"))

	if d := testutil.ToFloat64(EventsPublished.WithLabelValues("served")) - beforeOK; d != 1 {
		t.Errorf("published delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(EventPublishErrors) - beforeErr; d != 1 {
		t.Errorf("error delta = %v, want 1", d)
	}
}

func TestConcurrentRecording(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordFeedback("liked")
			RecordFallback("relax")
			ObserveRecommendation("next_track", time.Millisecond)
			RecordSinkFlush(3, time.Millisecond)
		}()
	}
	wg.Wait()
}

func TestMetricGathering(t *testing.T) {
	RecordFeedback("finished")
	RecordAffinityRetry("success")

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("Lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("Metric lint problem: %s", p.Text)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("/readyz", "503"))
	RecordHTTPRequest("/readyz", "503", 3*time.Millisecond)
	if got := testutil.ToFloat64(HTTPRequests.WithLabelValues("/readyz", "503")) - before; got != 1 {
		t.Errorf("request delta = %v, want 1", got)
	}
}

// histogramCount extracts the sample count of a Prometheus histogram
func histogramCount(h prometheus.Metric) uint64 {
	var m io_prometheus_client.Metric
	if err := h.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordSinkFlush(t *testing.T) {
	before := histogramCount(EventSinkFlushDuration)
	written := testutil.ToFloat64(EventSinkWritten)

	RecordSinkFlush(64, 12*time.Millisecond)

	if got := histogramCount(EventSinkFlushDuration) - before; got != 1 {
		t.Errorf("flush observations = %d, want 1", got)
	}
	if got := testutil.ToFloat64(EventSinkWritten) - written; got != 64 {
		t.Errorf("written delta = %v, want 64", got)
	}
}
