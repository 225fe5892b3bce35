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
	"time"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
)

// Command is a control message from the host to the runner.
//
// The set is closed: Start, Step, Abandon and SetConfig.
type Command interface {
	// CommandType returns the wire tag of the command.
	CommandType() string
}

// Wire tags for commands.
const (
	TypeStart     = "start"
	TypeStep      = "step"
	TypeAbandon   = "abandon"
	TypeSetConfig = "set_config"
)

// Start replaces any current session with a fresh one.
type Start struct {
	// SessionID names the session. Empty means the runner assigns one.
	SessionID string

	// MaximizingPlayer is the player the search works for.
	MaximizingPlayer game.PlayerID

	// Snapshot is the position to search. The runner keeps its own clone.
	Snapshot game.Snapshot

	// StepBudget is the number of engine increments the session may use. Must be > 0.
	StepBudget uint32

	// Config optionally reconfigures the engine before the session starts.
	Config *search.Config
}

// Step asks for one more engine increment on the current session.
type Step struct{}

// Abandon clears the current session.
type Abandon struct{}

// SetConfig reconfigures the engine for subsequent increments.
type SetConfig struct {
	Config search.Config
}

func (Start) CommandType() string     { return TypeStart }
func (Step) CommandType() string      { return TypeStep }
func (Abandon) CommandType() string   { return TypeAbandon }
func (SetConfig) CommandType() string { return TypeSetConfig }

// Kind classifies a Response.
type Kind string

const (
	// KindStarted acknowledges a Start. It carries no outcome.
	KindStarted Kind = "started"

	// KindProgress reports a non-final increment.
	KindProgress Kind = "progress"

	// KindFinished reports the final increment, or repeats it when an
	// exhausted session is stepped again.
	KindFinished Kind = "finished"

	// KindIdle acknowledges Step or Abandon on a runner with no session.
	KindIdle Kind = "idle"

	// KindAbandoned acknowledges an Abandon that cleared a session.
	KindAbandoned Kind = "abandoned"

	// KindConfigured acknowledges a SetConfig.
	KindConfigured Kind = "configured"

	// KindRejected reports a command that was refused without touching state.
	KindRejected Kind = "rejected"

	// KindFailed reports an engine error during Step. The step was not consumed.
	KindFailed Kind = "failed"
)

// Terminal reports whether a response of this kind ends the host's
// step loop for its session.
func (k Kind) Terminal() bool {
	switch k {
	case KindFinished, KindIdle, KindAbandoned, KindFailed:
		return true
	}
	return false
}

// Response is the runner's reply to exactly one Command.
//
// Responses own their data: Outcome is a deep copy and is never mutated
// after it is emitted.
type Response struct {
	SessionID       string          `json:"session_id,omitempty"`
	Kind            Kind            `json:"kind"`
	Phase           Phase           `json:"phase"`
	IsFinal         bool            `json:"is_final"`
	Outcome         *search.Outcome `json:"outcome,omitempty"`
	AccumulatedTime time.Duration   `json:"accumulated_time_ns"`
	StepsRemaining  uint32          `json:"steps_remaining"`
	Error           string          `json:"error,omitempty"`
}

// Clone returns a deep copy of r.
func (r Response) Clone() Response {
	out := r
	if r.Outcome != nil {
		o := r.Outcome.Clone()
		out.Outcome = &o
	}
	return out
}

// BestMove returns the head of the outcome's principal variation.
func (r Response) BestMove() (game.Move, bool) {
	if r.Outcome == nil {
		return game.Move{}, false
	}
	return r.Outcome.Head()
}
