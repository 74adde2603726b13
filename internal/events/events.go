// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package events carries interaction events from listening sessions to the
// interaction log.
//
// Sessions publish an InteractionEvent for every served track and every
// feedback signal. Events travel over a watermill bus: an in-process gochannel
// by default, or NATS when built with -tags=nats. A DuckDBSink subscribes to
// the bus and appends events to an analytics table in batches.
//
// Publishing never blocks the recommendation path on the log: failures are
// counted and logged, never returned to the listener.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTopic is the topic interaction events are published on.
const DefaultTopic = "resonance.interactions"

// Action identifies what happened to a track.
type Action string

// Interaction actions.
const (
	ActionServed   Action = "served"
	ActionFeedback Action = "feedback"
	ActionSeed     Action = "seed"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionServed, ActionFeedback, ActionSeed:
		return true
	default:
		return false
	}
}

// InteractionEvent is one entry of the interaction log.
type InteractionEvent struct {
	EventID      string    `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	CollectionID string    `json:"collection_id"`
	Action       Action    `json:"action"`
	TrackID      string    `json:"track_id"`
	ClusterID    int       `json:"cluster_id"`

	// Served tracks.
	Mode     string  `json:"mode,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	AnchorID string  `json:"anchor_id,omitempty"`
	Probe    bool    `json:"probe,omitempty"`
	Score    float64 `json:"score,omitempty"`

	// Feedback.
	ListenedSeconds float64 `json:"listened_seconds,omitempty"`
	Engagement      string  `json:"engagement,omitempty"`
	Positive        bool    `json:"positive,omitempty"`
}

// NewInteractionEvent returns an event with a fresh ID and timestamp.
func NewInteractionEvent(action Action, sessionID, userID, collectionID, trackID string, clusterID int) *InteractionEvent {
	return &InteractionEvent{
		EventID:      uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		SessionID:    sessionID,
		UserID:       userID,
		CollectionID: collectionID,
		Action:       action,
		TrackID:      trackID,
		ClusterID:    clusterID,
	}
}

// Validate checks required fields.
func (e *InteractionEvent) Validate() error {
	var errs []error
	if e.EventID == "" {
		errs = append(errs, errors.New("event_id is required"))
	}
	if e.SessionID == "" {
		errs = append(errs, errors.New("session_id is required"))
	}
	if e.TrackID == "" {
		errs = append(errs, errors.New("track_id is required"))
	}
	if !e.Action.Valid() {
		errs = append(errs, fmt.Errorf("unknown action %q", e.Action))
	}
	if e.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	return errors.Join(errs...)
}
