// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for arena metrics.
const MeterName = "arena.session"

// Metrics contains the session runner's instruments. All names carry the
// "arena_" prefix.
//
// A nil *Metrics is valid: every Record method is a no-op on it.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// SessionsStarted counts accepted Start commands.
	SessionsStarted metric.Int64Counter

	// SessionsFinished counts sessions that reached their final step.
	SessionsFinished metric.Int64Counter

	// SessionsAbandoned counts Abandon commands that cleared a live session.
	SessionsAbandoned metric.Int64Counter

	// StepsTotal counts engine increments by result.
	StepsTotal metric.Int64Counter

	// StepDuration records engine increment wall time in seconds.
	StepDuration metric.Float64Histogram

	// StatesVisited counts game states visited by the engine.
	StatesVisited metric.Int64Counter

	// CommandsRejected counts commands refused by the runner, by reason.
	CommandsRejected metric.Int64Counter
}

// NewMetrics registers the arena instruments with meter.
//
// Inputs:
//
//	meter - The OTel meter to register with.
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if any registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter(
		"arena_sessions_started_total",
		metric.WithDescription("Search sessions started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_started_total: %w", err)
	}

	m.SessionsFinished, err = meter.Int64Counter(
		"arena_sessions_finished_total",
		metric.WithDescription("Search sessions that used their whole step budget"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_finished_total: %w", err)
	}

	m.SessionsAbandoned, err = meter.Int64Counter(
		"arena_sessions_abandoned_total",
		metric.WithDescription("Search sessions abandoned before finishing"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_abandoned_total: %w", err)
	}

	m.StepsTotal, err = meter.Int64Counter(
		"arena_steps_total",
		metric.WithDescription("Search increments executed"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create steps_total: %w", err)
	}

	m.StepDuration, err = meter.Float64Histogram(
		"arena_step_duration_seconds",
		metric.WithDescription("Search increment duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create step_duration: %w", err)
	}

	m.StatesVisited, err = meter.Int64Counter(
		"arena_states_visited_total",
		metric.WithDescription("Game states visited by the search engine"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create states_visited_total: %w", err)
	}

	m.CommandsRejected, err = meter.Int64Counter(
		"arena_commands_rejected_total",
		metric.WithDescription("Commands refused by the session runner"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create commands_rejected_total: %w", err)
	}

	return m, nil
}

// DefaultMetrics registers the instruments with the global meter provider.
// It falls back to nil (no-op) when registration fails.
func DefaultMetrics() *Metrics {
	m, err := NewMetrics(otel.Meter(MeterName))
	if err != nil {
		return nil
	}
	return m
}

// RecordStart counts a started session.
func (m *Metrics) RecordStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsStarted.Add(ctx, 1)
}

// RecordStep counts one engine increment.
//
// Inputs:
//
//	ctx - Context for the measurement.
//	elapsed - Wall time of the increment.
//	states - States visited during the increment.
//	result - "ok" or "error".
//	final - Whether this increment exhausted the session.
func (m *Metrics) RecordStep(ctx context.Context, elapsed time.Duration, states uint64, result string, final bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.StepsTotal.Add(ctx, 1, attrs)
	m.StepDuration.Record(ctx, elapsed.Seconds(), attrs)
	if states > 0 {
		m.StatesVisited.Add(ctx, int64(states))
	}
	if final {
		m.SessionsFinished.Add(ctx, 1)
	}
}

// RecordAbandon counts an abandoned session.
func (m *Metrics) RecordAbandon(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsAbandoned.Add(ctx, 1)
}

// RecordRejected counts a refused command.
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CommandsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
