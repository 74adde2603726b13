// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	slogger := NewSlogLogger(zerolog.New(&buf))
	slogger.Info("service started", "service", "affinity-retry", "attempt", 2)

	out := buf.String()
	for _, want := range []string{"service started", `"service":"affinity-retry"`, `"attempt":2`, `"level":"info"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output: %s", want, out)
		}
	}
}

func TestSlogHandlerLevels(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, `"level":"debug"`},
		{slog.LevelInfo, `"level":"info"`},
		{slog.LevelWarn, `"level":"warn"`},
		{slog.LevelError, `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			h := NewSlogHandler(zerolog.New(&buf).Level(zerolog.TraceLevel))
			rec := slog.NewRecord(time.Now(), tt.level, "msg", 0)
			if err := h.Handle(context.Background(), rec); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %s in output: %s", tt.want, buf.String())
			}
		})
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	t.Parallel()

	h := NewSlogHandler(zerolog.New(nil).Level(zerolog.WarnLevel))
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled on a warn logger")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled on a warn logger")
	}
}

func TestSlogHandlerAttrsAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	slogger := slog.New(NewSlogHandler(zerolog.New(&buf))).
		With("tree", "root").
		WithGroup("svc")
	slogger.Info("event", "name", "refit", slog.Group("timing", "ms", 12))

	out := buf.String()
	for _, want := range []string{`"svc.tree":"root"`, `"svc.name":"refit"`, `"svc.timing.ms":12`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output: %s", want, out)
		}
	}
}

func TestWatermillAdapter(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	a := NewWatermillAdapter(zerolog.New(&buf).Level(zerolog.TraceLevel))

	a.Info("subscribed", watermill.LogFields{"topic": "interactions"})
	a.Error("publish failed", errors.New("closed"), nil)
	a.With(watermill.LogFields{"handler": "sink"}).Debug("ack", nil)

	out := buf.String()
	for _, want := range []string{`"topic":"interactions"`, `"error":"closed"`, `"handler":"sink"`, `"level":"debug"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output: %s", want, out)
		}
	}
}

func TestCronAdapter(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	a := NewCronAdapter(zerolog.New(&buf).Level(zerolog.TraceLevel))

	a.Info("schedule", "entry", 1, "next", "soon")
	a.Error(errors.New("boom"), "panic", "stack", "trace", "dangling")

	out := buf.String()
	for _, want := range []string{`"level":"debug"`, `"entry":1`, `"next":"soon"`, `"error":"boom"`, `"dangling":null`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output: %s", want, out)
		}
	}
}
