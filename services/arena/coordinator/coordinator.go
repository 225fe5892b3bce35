// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator is the host side of the search session protocol.
//
// A Coordinator watches the game position. When the agent comes to move it
// starts a session on the runner, keeps the runner busy by answering every
// progress report with another Step, and when the session finishes applies
// the first move of the principal variation through a MoveHook. Position
// changes that take the turn away from the agent abandon the session.
//
// The coordinator never blocks on the runner: it only sends commands and
// reacts to responses as they arrive.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/session"
)

const (
	// DefaultStepBudget is the number of increments per session when no
	// budget source is configured.
	DefaultStepBudget = 5

	// DefaultRestarts is how many times Run restarts a failed search on
	// the same position.
	DefaultRestarts = 1
)

var (
	// ErrNilBridge is returned by New without a bridge.
	ErrNilBridge = errors.New("bridge must not be nil")

	// ErrNilMoveHook is returned by New without a move hook.
	ErrNilMoveHook = errors.New("move hook must not be nil")

	// ErrSearchFailed is returned by Handle when the runner reports a failed
	// or rejected command for the live session, or when the session could
	// not be driven further.
	ErrSearchFailed = errors.New("search failed")
)

// Bridge is the host's view of a session runner. *session.Runner and the
// websocket client both satisfy it.
type Bridge interface {
	// Send queues a command without blocking.
	Send(cmd session.Command) error

	// Responses delivers one response per processed command.
	Responses() <-chan session.Response
}

// MoveHook applies the agent's chosen move to the host's game.
type MoveHook func(ctx context.Context, m game.Move) error

// StatusFunc receives human-readable progress lines.
type StatusFunc func(status string)

// Coordinator drives search sessions for one agent.
//
// Thread Safety: Safe for concurrent use. Observe and Handle may be called
// from different goroutines; Run serializes both.
type Coordinator struct {
	bridge Bridge
	hook   MoveHook
	agent  game.PlayerID
	budget func() uint32
	status StatusFunc
	logger *slog.Logger

	maxRestarts int

	mu        sync.Mutex
	last      Observation
	current   game.Snapshot
	restarts  int
	searched  game.Snapshot
	sessionID string
	live      bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAgent sets the player the coordinator searches for. Default: PlayerSecond.
func WithAgent(agent game.PlayerID) Option {
	return func(c *Coordinator) { c.agent = agent }
}

// WithStepBudget sets a fixed step budget for new sessions.
func WithStepBudget(n uint32) Option {
	return func(c *Coordinator) { c.budget = func() uint32 { return n } }
}

// WithBudgetSource reads the step budget at every Start, so preference
// changes apply to the next session.
func WithBudgetSource(fn func() uint32) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.budget = fn
		}
	}
}

// WithStatus sets the status line callback.
func WithStatus(fn StatusFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.status = fn
		}
	}
}

// WithRestarts sets how many times Run restarts a failed search before
// waiting for the next position. Zero disables restarts.
func WithRestarts(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxRestarts = n
		}
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a coordinator.
//
// Inputs:
//   - bridge: Connection to the session runner.
//   - hook: Applies chosen moves to the game.
//   - opts: Functional options.
//
// Outputs:
//   - *Coordinator: The coordinator, with no position observed yet.
//   - error: Non-nil if bridge or hook is missing.
func New(bridge Bridge, hook MoveHook, opts ...Option) (*Coordinator, error) {
	if bridge == nil {
		return nil, ErrNilBridge
	}
	if hook == nil {
		return nil, ErrNilMoveHook
	}
	c := &Coordinator{
		bridge: bridge,
		hook:   hook,
		agent:  game.PlayerSecond,
		budget: func() uint32 { return DefaultStepBudget },
		status: func(string) {},
		logger: slog.Default(),

		maxRestarts: DefaultRestarts,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "coordinator"), slog.String("agent", c.agent.String()))
	return c, nil
}

// Agent returns the player the coordinator searches for.
func (c *Coordinator) Agent() game.PlayerID { return c.agent }

// SessionID returns the live session's ID, or "" when none is live.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return ""
	}
	return c.sessionID
}

// Observe reports the current game position.
//
// When Decide says Start, any live session is abandoned first and a new one
// is started on the agent's view of s. When Decide says Abandon, a live
// session is abandoned. An unchanged position does nothing.
func (c *Coordinator) Observe(ctx context.Context, s game.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := Observe(s)
	directive, ok := Decide(c.last, cur, c.agent)
	c.last = cur
	if !ok {
		return nil
	}
	c.current = s
	c.restarts = 0

	switch directive {
	case DirectiveStart:
		if err := c.abandonLocked(); err != nil {
			c.last = Observation{}
			return err
		}
		if err := c.startLocked(ctx, s); err != nil {
			// Forget the position so observing it again retries.
			c.last = Observation{}
			return err
		}
		return nil
	case DirectiveAbandon:
		return c.abandonLocked()
	}
	return nil
}

func (c *Coordinator) startLocked(ctx context.Context, s game.Snapshot) error {
	view := s.Clone()
	if p, ok := s.(game.Perspective); ok {
		view = p.ViewFor(c.agent)
	}

	id := uuid.NewString()
	budget := c.budget()
	if err := c.bridge.Send(session.Start{
		SessionID:        id,
		MaximizingPlayer: c.agent,
		Snapshot:         view,
		StepBudget:       budget,
	}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	c.sessionID = id
	c.searched = view
	c.live = true
	c.status("Searching...")
	c.logger.InfoContext(ctx, "search requested",
		slog.String("session_id", id),
		slog.Uint64("step_budget", uint64(budget)),
	)
	return nil
}

func (c *Coordinator) abandonLocked() error {
	if !c.live {
		return nil
	}
	c.live = false
	if err := c.bridge.Send(session.Abandon{}); err != nil {
		return fmt.Errorf("send abandon: %w", err)
	}
	c.logger.Debug("search abandoned", slog.String("session_id", c.sessionID))
	return nil
}

// Handle reacts to one runner response.
//
// Responses for any session other than the live one are dropped. Started
// and Progress are answered with Step. Finished applies the head of the
// principal variation through the move hook; an empty line means there is
// nothing to play.
//
// Outputs:
//   - error: The hook's error, a send failure, or ErrSearchFailed.
func (c *Coordinator) Handle(ctx context.Context, resp session.Response) error {
	c.mu.Lock()
	if !c.live || resp.SessionID != c.sessionID {
		c.mu.Unlock()
		c.logger.Debug("dropping response",
			slog.String("kind", string(resp.Kind)),
			slog.String("session_id", resp.SessionID),
		)
		return nil
	}

	switch resp.Kind {
	case session.KindStarted:
		defer c.mu.Unlock()
		return c.stepLocked()

	case session.KindProgress:
		defer c.mu.Unlock()
		c.status(progressLine(resp))
		return c.stepLocked()

	case session.KindConfigured:
		c.mu.Unlock()
		return nil

	case session.KindFinished:
		c.live = false
		searched := c.searched
		c.mu.Unlock()
		return c.finish(ctx, searched, resp)

	case session.KindFailed, session.KindRejected:
		c.live = false
		c.last = Observation{}
		c.mu.Unlock()
		c.status("Search failed: " + resp.Error)
		c.logger.Warn("search failed",
			slog.String("session_id", resp.SessionID),
			slog.String("kind", string(resp.Kind)),
			slog.String("error", resp.Error),
		)
		return fmt.Errorf("%w: %s", ErrSearchFailed, resp.Error)

	default:
		c.mu.Unlock()
		return nil
	}
}

// stepLocked keeps the live session going. When the Step cannot be sent
// nothing else would drive the session, so it is declared failed and the
// position forgotten; the next Observe, or Run's restart, starts over.
func (c *Coordinator) stepLocked() error {
	err := c.bridge.Send(session.Step{})
	if err == nil {
		return nil
	}
	c.live = false
	c.last = Observation{}
	c.status("Search failed: " + err.Error())
	c.logger.Warn("step not sent",
		slog.String("session_id", c.sessionID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: send step: %w", ErrSearchFailed, err)
}

// restart starts a new session on the last observed position after a
// failed one, at most maxRestarts times per position.
func (c *Coordinator) restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live || c.current == nil || c.restarts >= c.maxRestarts {
		return nil
	}
	cur := Observe(c.current)
	if !cur.AgentToMove(c.agent) {
		return nil
	}
	c.restarts++
	c.logger.Info("restarting search", slog.Int("attempt", c.restarts))
	if err := c.startLocked(ctx, c.current); err != nil {
		return err
	}
	c.last = cur
	return nil
}

func (c *Coordinator) finish(ctx context.Context, searched game.Snapshot, resp session.Response) error {
	move, ok := resp.BestMove()
	desc := ""
	if ok {
		desc = game.Describe(searched, move)
	}
	c.status(finishedLine(resp, desc))
	if !ok {
		c.logger.Info("search finished without a move", slog.String("session_id", resp.SessionID))
		return nil
	}
	c.logger.Info("applying best move",
		slog.String("session_id", resp.SessionID),
		slog.String("move", desc),
	)
	if err := c.hook(ctx, move); err != nil {
		return fmt.Errorf("apply %s: %w", desc, err)
	}
	return nil
}

// UserMoved abandons the live session before the human's move changes the
// position, so no stale result can be applied.
func (c *Coordinator) UserMoved() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandonLocked()
}

// Reset abandons the live session and forgets the last observed position,
// so the next Observe is treated as a change.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = Observation{}
	c.current = nil
	c.restarts = 0
	return c.abandonLocked()
}

// SetConfig forwards a new engine configuration to the runner. It applies
// from the next increment on.
func (c *Coordinator) SetConfig(cfg search.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := c.bridge.Send(session.SetConfig{Config: cfg.Clone()}); err != nil {
		return fmt.Errorf("send set_config: %w", err)
	}
	return nil
}

// Run is the coordinator's event loop. It observes every position from
// positions and handles every runner response until ctx is done or
// positions is closed.
//
// Errors from Observe and Handle are logged and reported on the status line;
// they do not stop the loop. A failed search is restarted on the same
// position up to the configured number of restarts.
func (c *Coordinator) Run(ctx context.Context, positions <-chan game.Snapshot) error {
	responses := c.bridge.Responses()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-positions:
			if !ok {
				return nil
			}
			if err := c.Observe(ctx, s); err != nil {
				c.logger.Warn("observe failed", slog.String("error", err.Error()))
				c.status("Error: " + err.Error())
			}
		case resp, ok := <-responses:
			if !ok {
				return nil
			}
			err := c.Handle(ctx, resp)
			if err == nil {
				continue
			}
			c.logger.Warn("handle failed", slog.String("error", err.Error()))
			if errors.Is(err, ErrSearchFailed) {
				if err := c.restart(ctx); err != nil {
					c.logger.Warn("restart failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func progressLine(resp session.Response) string {
	if resp.Outcome == nil {
		return "Step"
	}
	return fmt.Sprintf("Step %s, %d states visited",
		resp.Outcome.Counters.Summary(resp.AccumulatedTime),
		resp.Outcome.Counters.StatesVisited)
}

func finishedLine(resp session.Response, best string) string {
	if resp.Outcome == nil {
		return "Finished, Best Move = " + best
	}
	return fmt.Sprintf("Finished %s, %d states visited, Best Move = %s",
		resp.Outcome.Counters.Summary(resp.AccumulatedTime),
		resp.Outcome.Counters.StatesVisited,
		best)
}
