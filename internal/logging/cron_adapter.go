// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package logging

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronAdapter implements cron.Logger on top of zerolog. Scheduler chatter
// is logged at debug; job panics and errors at error.
type CronAdapter struct {
	logger zerolog.Logger
}

// NewCronAdapter wraps logger for use by a cron scheduler.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewCronAdapter(logger zerolog.Logger) *CronAdapter {
	return &CronAdapter{logger: logger}
}

// Info implements cron.Logger.
func (a *CronAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(kvFields(keysAndValues)).Msg(msg)
}

// Error implements cron.Logger.
func (a *CronAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Fields(kvFields(keysAndValues)).Msg(msg)
}

// kvFields converts alternating key/value pairs into a field map. A
// trailing key without a value is kept with a nil value.
func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			fields[key] = kv[i+1]
		} else {
			fields[key] = nil
		}
	}
	return fields
}

var _ cron.Logger = (*CronAdapter)(nil)
