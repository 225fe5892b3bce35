// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs a bounded, multi-step tree search for one agent on a
// goroutine of its own.
//
// The host talks to a Runner only through Commands (Start, Step, Abandon,
// SetConfig) and reads one Response per Command. The runner owns the search
// engine and at most one SearchSession; it handles commands one at a time in
// arrival order, so a Step sent before an Abandon is always processed first.
//
// Each Step runs the engine once for its configured time budget and merges
// the fresh outcome into the best result so far (see Merge). When the step
// budget reaches zero the session is exhausted and further Steps repeat the
// final response without calling the engine.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
)

// Phase is the lifecycle phase of a runner's session slot.
type Phase int

const (
	// PhaseIdle means there is no session.
	PhaseIdle Phase = iota

	// PhaseRunning means a session has steps left.
	PhaseRunning

	// PhaseExhausted means the session used its whole budget.
	PhaseExhausted
)

var phaseNames = map[Phase]string{
	PhaseIdle:      "idle",
	PhaseRunning:   "running",
	PhaseExhausted: "exhausted",
}

// String returns the phase name.
func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalJSON encodes the phase by name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a phase name.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for ph, name := range phaseNames {
		if name == s {
			*p = ph
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", s)
}

// SearchSession is the bookkeeping for one logical multi-step search.
//
// Snapshot and MaximizingPlayer are fixed for the session's lifetime.
type SearchSession struct {
	ID               string
	Snapshot         game.Snapshot
	MaximizingPlayer game.PlayerID
	StepBudget       uint32
	StepsRemaining   uint32
	AccumulatedTime  time.Duration
	StartedAt        time.Time
}

// State is the runner's session slot. Exactly one phase holds at a time:
//
//	idle:      session == nil
//	running:   session != nil, StepsRemaining > 0
//	exhausted: session != nil, StepsRemaining == 0, final != nil
//
// State is owned by a single goroutine and is not safe for concurrent use.
type State struct {
	session *SearchSession
	best    *search.Outcome
	final   *Response
}

// Phase reports the current phase.
func (s *State) Phase() Phase {
	switch {
	case s.session == nil:
		return PhaseIdle
	case s.session.StepsRemaining == 0:
		return PhaseExhausted
	default:
		return PhaseRunning
	}
}

// Session returns the current session, or nil when idle.
func (s *State) Session() *SearchSession { return s.session }

// Best returns a copy of the merged outcome so far.
func (s *State) Best() (search.Outcome, bool) {
	if s.best == nil {
		return search.Outcome{}, false
	}
	return s.best.Clone(), true
}

func (s *State) begin(sess *SearchSession) {
	s.session = sess
	s.best = nil
	s.final = nil
}

func (s *State) clear() {
	s.session = nil
	s.best = nil
	s.final = nil
}

// record merges next into the best-so-far, charges elapsed time, and
// consumes one step. It returns the response describing the new state.
func (s *State) record(next search.Outcome, elapsed time.Duration) Response {
	merged := Merge(s.best, next)
	s.best = &merged
	s.session.AccumulatedTime += elapsed
	s.session.StepsRemaining--

	final := s.session.StepsRemaining == 0
	kind := KindProgress
	if final {
		kind = KindFinished
	}
	resp := Response{
		SessionID:       s.session.ID,
		Kind:            kind,
		Phase:           s.Phase(),
		IsFinal:         final,
		Outcome:         &merged,
		AccumulatedTime: s.session.AccumulatedTime,
		StepsRemaining:  s.session.StepsRemaining,
	}.Clone()
	if final {
		stored := resp.Clone()
		s.final = &stored
	}
	return resp
}
