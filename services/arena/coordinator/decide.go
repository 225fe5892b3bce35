// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import "github.com/AleutianAI/AleutianArena/services/arena/game"

// Observation is what the coordinator remembers about a position: enough
// to tell whether it changed and whose turn it is.
type Observation struct {
	Valid       bool
	Fingerprint uint64
	Active      game.PlayerID
	HasActive   bool
}

// Observe summarizes s. A nil snapshot yields the zero Observation.
func Observe(s game.Snapshot) Observation {
	if s == nil {
		return Observation{}
	}
	active, ok := s.ActivePlayer()
	return Observation{
		Valid:       true,
		Fingerprint: s.Fingerprint(),
		Active:      active,
		HasActive:   ok,
	}
}

// AgentToMove reports whether o is a position where agent must move.
func (o Observation) AgentToMove(agent game.PlayerID) bool {
	return o.Valid && o.HasActive && o.Active == agent
}

// Directive is what the coordinator should do after a position change.
type Directive int

const (
	// DirectiveNone means keep whatever session is running.
	DirectiveNone Directive = iota

	// DirectiveStart means start a new session on the current position.
	DirectiveStart

	// DirectiveAbandon means drop the current session.
	DirectiveAbandon
)

func (d Directive) String() string {
	switch d {
	case DirectiveStart:
		return "start"
	case DirectiveAbandon:
		return "abandon"
	default:
		return "none"
	}
}

// Decide maps a position change to a directive.
//
// A change is a different fingerprint or a different active player. When
// the position changed and the agent is to move, the answer is Start; when
// it changed and the agent is not to move, Abandon. An unchanged position
// needs no directive.
//
// Inputs:
//   - prev: The previous observation. The zero value means none.
//   - cur: The current observation.
//   - agent: The player the coordinator searches for.
//
// Outputs:
//   - Directive: What to do.
//   - bool: False when the directive is DirectiveNone.
func Decide(prev, cur Observation, agent game.PlayerID) (Directive, bool) {
	changed := prev.Valid != cur.Valid ||
		prev.Fingerprint != cur.Fingerprint ||
		prev.HasActive != cur.HasActive ||
		prev.Active != cur.Active
	if !changed {
		return DirectiveNone, false
	}
	if cur.AgentToMove(agent) {
		return DirectiveStart, true
	}
	return DirectiveAbandon, true
}
