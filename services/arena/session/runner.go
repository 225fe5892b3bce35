// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/telemetry"
)

// Default sizes for the runner's channels.
const (
	DefaultMailboxSize   = 16
	DefaultResponseQueue = 16
)

// Runner is the worker side of the session protocol.
//
// Description:
//
//	A Runner owns one search engine and one session slot. Commands are
//	queued by Send (never blocking the caller) and processed by Run one
//	at a time in FIFO order. Each processed command yields exactly one
//	Response on Responses().
//
//	Abandon does not interrupt an engine call that is already running; it
//	takes effect when the call returns, so the worst-case cancellation
//	latency is one engine time budget.
//
// Thread Safety: Send, Responses and Close are safe for concurrent use.
// Handle must only be called by the goroutine that owns the runner (Run
// does this), or by tests that do not call Run.
type Runner struct {
	engine  search.Engine
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	state State

	mailbox   chan Command
	responses chan Response

	running   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records runner activity on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithMailboxSize sets how many commands may wait before Send fails.
func WithMailboxSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.mailbox = make(chan Command, n)
		}
	}
}

// WithResponseQueue sets the buffer of the response channel.
func WithResponseQueue(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.responses = make(chan Response, n)
		}
	}
}

// WithClock replaces time.Now for elapsed-time accounting.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a runner around engine.
//
// Inputs:
//   - engine: The search engine. The runner becomes its only user.
//   - opts: Functional options.
//
// Outputs:
//   - *Runner: The runner, idle, not yet processing its mailbox.
//   - error: ErrNilEngine if engine is nil.
func NewRunner(engine search.Engine, opts ...Option) (*Runner, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	r := &Runner{
		engine:    engine,
		logger:    slog.Default(),
		now:       time.Now,
		mailbox:   make(chan Command, DefaultMailboxSize),
		responses: make(chan Response, DefaultResponseQueue),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "session_runner"))
	return r, nil
}

// Send queues cmd for processing without blocking.
//
// Outputs:
//   - error: ErrMailboxFull if the mailbox is full, ErrRunnerClosed after
//     Close. In both cases cmd is dropped and state is unchanged.
func (r *Runner) Send(cmd Command) error {
	select {
	case <-r.done:
		return ErrRunnerClosed
	default:
	}
	select {
	case r.mailbox <- cmd:
		return nil
	default:
		r.metrics.RecordRejected(context.Background(), "mailbox_full")
		return fmt.Errorf("%w: %s", ErrMailboxFull, cmd.CommandType())
	}
}

// Responses returns the channel carrying one Response per processed command.
func (r *Runner) Responses() <-chan Response { return r.responses }

// Close stops Run and makes Send fail. Safe to call more than once.
func (r *Runner) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Run processes the mailbox until ctx is done or Close is called.
//
// Outputs:
//   - error: ctx.Err() when stopped by ctx, nil when stopped by Close,
//     ErrAlreadyRunning if another Run is active.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	r.logger.Debug("runner started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case cmd := <-r.mailbox:
			resp := r.Handle(ctx, cmd)
			select {
			case r.responses <- resp:
			case <-ctx.Done():
				return ctx.Err()
			case <-r.done:
				return nil
			}
		}
	}
}

// Handle processes one command synchronously and returns its response.
func (r *Runner) Handle(ctx context.Context, cmd Command) Response {
	switch c := cmd.(type) {
	case Start:
		return r.handleStart(ctx, c)
	case *Start:
		return r.handleStart(ctx, *c)
	case Step, *Step:
		return r.handleStep(ctx)
	case Abandon, *Abandon:
		return r.handleAbandon(ctx)
	case SetConfig:
		return r.handleSetConfig(ctx, c)
	case *SetConfig:
		return r.handleSetConfig(ctx, *c)
	default:
		return r.reject(ctx, "", "unknown_command", fmt.Errorf("%w: %T", ErrUnknownCommand, cmd))
	}
}

// Phase reports the current phase. Owner goroutine only.
func (r *Runner) Phase() Phase { return r.state.Phase() }

func (r *Runner) handleStart(ctx context.Context, c Start) Response {
	switch {
	case c.Snapshot == nil:
		return r.reject(ctx, c.SessionID, "nil_snapshot", ErrNilSnapshot)
	case c.StepBudget == 0:
		return r.reject(ctx, c.SessionID, "zero_budget", ErrZeroStepBudget)
	case c.MaximizingPlayer == 0:
		return r.reject(ctx, c.SessionID, "invalid_player", ErrInvalidPlayer)
	}
	if c.Config != nil {
		if err := r.engine.SetConfig(c.Config.Clone()); err != nil {
			return r.reject(ctx, c.SessionID, "invalid_config", err)
		}
	}

	id := c.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	if prev := r.state.Session(); prev != nil {
		r.logger.Debug("start replaces session",
			slog.String("previous_session", prev.ID),
			slog.String("session_id", id),
		)
	}
	r.state.begin(&SearchSession{
		ID:               id,
		Snapshot:         c.Snapshot.Clone(),
		MaximizingPlayer: c.MaximizingPlayer,
		StepBudget:       c.StepBudget,
		StepsRemaining:   c.StepBudget,
		StartedAt:        r.now(),
	})
	r.metrics.RecordStart(ctx)

	r.logger.Info("search session started",
		slog.String("session_id", id),
		slog.String("agent", c.MaximizingPlayer.String()),
		slog.Uint64("step_budget", uint64(c.StepBudget)),
	)
	return Response{
		SessionID:      id,
		Kind:           KindStarted,
		Phase:          r.state.Phase(),
		StepsRemaining: c.StepBudget,
	}
}

func (r *Runner) handleStep(ctx context.Context) Response {
	switch r.state.Phase() {
	case PhaseIdle:
		return Response{Kind: KindIdle, Phase: PhaseIdle}
	case PhaseExhausted:
		return r.state.final.Clone()
	}

	sess := r.state.Session()
	ctx, span := telemetry.StartSpan(ctx, "arena.session.step",
		trace.WithAttributes(
			attribute.String("arena.session_id", sess.ID),
			attribute.Int64("arena.steps_remaining", int64(sess.StepsRemaining)),
			attribute.String("arena.agent", sess.MaximizingPlayer.String()),
		),
	)
	defer span.End()

	start := r.now()
	out, err := r.engine.SearchOnce(ctx, sess.Snapshot, sess.MaximizingPlayer)
	elapsed := r.now().Sub(start)
	if err != nil {
		telemetry.RecordError(span, err)
		r.metrics.RecordStep(ctx, elapsed, 0, "error", false)
		telemetry.LoggerWithTrace(ctx, r.logger).Warn("search step failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return Response{
			SessionID:       sess.ID,
			Kind:            KindFailed,
			Phase:           r.state.Phase(),
			AccumulatedTime: sess.AccumulatedTime,
			StepsRemaining:  sess.StepsRemaining,
			Error:           err.Error(),
		}
	}

	resp := r.state.record(out, elapsed)
	r.metrics.RecordStep(ctx, elapsed, out.Counters.StatesVisited, "ok", resp.IsFinal)
	span.SetAttributes(
		attribute.Int("arena.pv_length", len(resp.Outcome.PrincipalVariation)),
		attribute.Float64("arena.evaluation", resp.Outcome.Evaluation),
		attribute.Int64("arena.states_visited", int64(out.Counters.StatesVisited)),
		attribute.Bool("arena.final", resp.IsFinal),
	)
	telemetry.SetSpanOK(span)

	logger := telemetry.LoggerWithTrace(ctx, r.logger)
	logger.Debug("search step",
		slog.String("session_id", sess.ID),
		slog.Uint64("steps_remaining", uint64(resp.StepsRemaining)),
		slog.Duration("elapsed", elapsed),
		slog.Uint64("states_visited", out.Counters.StatesVisited),
	)
	if resp.IsFinal {
		r.logFinal(logger, sess, resp)
	}
	return resp
}

func (r *Runner) logFinal(logger *slog.Logger, sess *SearchSession, resp Response) {
	attrs := []any{
		slog.String("session_id", sess.ID),
		slog.Duration("accumulated", resp.AccumulatedTime),
		slog.String("rate", resp.Outcome.Counters.Summary(resp.AccumulatedTime)),
		slog.Float64("eval", resp.Outcome.Evaluation),
	}
	if head, ok := resp.Outcome.Head(); ok {
		attrs = append(attrs, slog.String("best_move", game.Describe(sess.Snapshot, head)))
	}
	logger.Info("search session finished", attrs...)

	if r.engine.Config().Debug {
		logger.Debug("principal variation",
			slog.String("session_id", sess.ID),
			slog.Any("pv", game.DescribeLine(sess.Snapshot, resp.Outcome.PrincipalVariation)),
		)
	}
}

func (r *Runner) handleAbandon(ctx context.Context) Response {
	sess := r.state.Session()
	if sess == nil {
		return Response{Kind: KindIdle, Phase: PhaseIdle}
	}
	if r.state.Phase() == PhaseRunning {
		r.metrics.RecordAbandon(ctx)
	}
	r.state.clear()
	r.logger.Info("search session abandoned", slog.String("session_id", sess.ID))
	return Response{SessionID: sess.ID, Kind: KindAbandoned, Phase: PhaseIdle}
}

func (r *Runner) handleSetConfig(ctx context.Context, c SetConfig) Response {
	id := ""
	if sess := r.state.Session(); sess != nil {
		id = sess.ID
	}
	if err := r.engine.SetConfig(c.Config.Clone()); err != nil {
		return r.reject(ctx, id, "invalid_config", err)
	}
	r.logger.Info("search config updated",
		slog.Duration("time_budget", c.Config.TimeBudget),
		slog.Float64("exploration_constant", c.Config.ExplorationConstant),
	)
	resp := Response{SessionID: id, Kind: KindConfigured, Phase: r.state.Phase()}
	if sess := r.state.Session(); sess != nil {
		resp.StepsRemaining = sess.StepsRemaining
		resp.AccumulatedTime = sess.AccumulatedTime
	}
	return resp
}

func (r *Runner) reject(ctx context.Context, id, reason string, err error) Response {
	r.metrics.RecordRejected(ctx, reason)
	r.logger.Warn("command rejected",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	resp := Response{
		SessionID: id,
		Kind:      KindRejected,
		Phase:     r.state.Phase(),
		Error:     err.Error(),
	}
	if sess := r.state.Session(); sess != nil {
		resp.StepsRemaining = sess.StepsRemaining
		resp.AccumulatedTime = sess.AccumulatedTime
	}
	return resp
}
