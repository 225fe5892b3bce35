// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package game defines the narrow interfaces through which the arena consumes
// a game's rules engine.
//
// The search session manager never inspects a position directly. It only
// needs to know whose turn it is, which moves are legal, how to apply a move,
// and a stable fingerprint for change detection. Everything else about the
// game stays behind the Snapshot interface.
//
// # Value Semantics
//
// Snapshots cross execution-context boundaries, so implementations must be
// self-contained values: Clone must return a copy that shares no mutable
// state with the receiver, and Apply must never modify the receiver.
package game

import (
	"errors"
	"fmt"
)

// ErrRuleViolation is returned by Snapshot.Apply when a move is not legal in
// the position. Implementations wrap it with detail via fmt.Errorf("%w").
var ErrRuleViolation = errors.New("rule violation")

// PlayerID identifies a participant in the game.
type PlayerID uint8

const (
	// PlayerFirst moves first. In the bundled games this is the human side.
	PlayerFirst PlayerID = iota + 1

	// PlayerSecond moves second. The arena agent plays this side by default.
	PlayerSecond
)

// String returns a short label for the player.
func (p PlayerID) String() string {
	switch p {
	case PlayerFirst:
		return "first"
	case PlayerSecond:
		return "second"
	default:
		return fmt.Sprintf("player(%d)", uint8(p))
	}
}

// Opponent returns the other player of a two-player game.
func (p PlayerID) Opponent() PlayerID {
	if p == PlayerFirst {
		return PlayerSecond
	}
	return PlayerFirst
}

// Move is a self-contained, comparable action. Code is interpreted by the
// game that produced it; Player is the side making the move.
type Move struct {
	Player PlayerID `json:"player"`
	Code   uint32   `json:"code"`
}

// String renders the move without game context.
func (m Move) String() string {
	return fmt.Sprintf("%s:%d", m.Player, m.Code)
}

// Snapshot is an immutable game position.
//
// Thread Safety: Implementations must be safe to read concurrently. Apply and
// Clone return new values and never mutate the receiver.
type Snapshot interface {
	// ActivePlayer returns whose turn it is. ok is false when nobody is to
	// move (terminal position).
	ActivePlayer() (player PlayerID, ok bool)

	// LegalMoves returns the moves available to the active player.
	LegalMoves() []Move

	// Apply returns the position after m. Illegal moves return an error
	// wrapping ErrRuleViolation.
	Apply(m Move) (Snapshot, error)

	// Fingerprint is a stable hash of the position for change detection.
	Fingerprint() uint64

	// Clone returns a deep copy.
	Clone() Snapshot
}

// Terminal is implemented by snapshots a search engine can score.
type Terminal interface {
	// IsTerminal reports whether the game is over.
	IsTerminal() bool

	// Reward returns the result for player in [0, 1]: 1 win, 0 loss,
	// 0.5 draw or undecided.
	Reward(player PlayerID) float64
}

// Perspective is implemented by games with private information. ViewFor
// returns a copy with everything viewer cannot see hidden, so a search
// started from it cannot exploit information the agent should not have.
type Perspective interface {
	ViewFor(viewer PlayerID) Snapshot
}

// Describer renders moves in game terms for status lines and logs.
type Describer interface {
	DescribeMove(m Move) string
}

// Named is implemented by snapshots that can travel over the wire. The name
// selects the decoder on the receiving side.
type Named interface {
	GameName() string
}

// Describe returns a description of m using s when it implements Describer.
func Describe(s Snapshot, m Move) string {
	if d, ok := s.(Describer); ok {
		return d.DescribeMove(m)
	}
	return m.String()
}

// DescribeLine renders a move sequence, advancing the position as it goes so
// that each move is described in its own context. Rendering stops at the
// first move that does not apply.
func DescribeLine(s Snapshot, moves []Move) []string {
	out := make([]string, 0, len(moves))
	cur := s
	for _, m := range moves {
		out = append(out, Describe(cur, m))
		next, err := cur.Apply(m)
		if err != nil {
			break
		}
		cur = next
	}
	return out
}
