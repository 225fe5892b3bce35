// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
)

// Counters are the performance counters reported by an engine call.
// Every field is a cumulative total, so Add is componentwise.
type Counters struct {
	StatesVisited uint64        `json:"states_visited"`
	Iterations    uint64        `json:"iterations"`
	Playouts      uint64        `json:"playouts"`
	NodesCreated  uint64        `json:"nodes_created"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// Add returns the componentwise sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		StatesVisited: c.StatesVisited + o.StatesVisited,
		Iterations:    c.Iterations + o.Iterations,
		Playouts:      c.Playouts + o.Playouts,
		NodesCreated:  c.NodesCreated + o.NodesCreated,
		Elapsed:       c.Elapsed + o.Elapsed,
	}
}

// Dominates reports whether every field of c is >= the same field of o.
func (c Counters) Dominates(o Counters) bool {
	return c.StatesVisited >= o.StatesVisited &&
		c.Iterations >= o.Iterations &&
		c.Playouts >= o.Playouts &&
		c.NodesCreated >= o.NodesCreated &&
		c.Elapsed >= o.Elapsed
}

// Summary renders the counters against a wall-clock total, e.g.
// "1.2s, 48.3 kstates/s".
func (c Counters) Summary(total time.Duration) string {
	secs := total.Seconds()
	if secs <= 0 {
		return fmt.Sprintf("%s, %d states", total, c.StatesVisited)
	}
	rate := float64(c.StatesVisited) / secs
	switch {
	case rate >= 1e6:
		return fmt.Sprintf("%s, %.1f Mstates/s", total.Round(time.Millisecond), rate/1e6)
	case rate >= 1e3:
		return fmt.Sprintf("%s, %.1f kstates/s", total.Round(time.Millisecond), rate/1e3)
	default:
		return fmt.Sprintf("%s, %.0f states/s", total.Round(time.Millisecond), rate)
	}
}

// Outcome is the engine's current best knowledge about a position.
type Outcome struct {
	// PrincipalVariation is the move sequence the engine considers best.
	// It may be empty, e.g. for a terminal position.
	PrincipalVariation []game.Move `json:"pv"`

	// Evaluation is the expected result for the maximizing player in [0, 1].
	Evaluation float64 `json:"eval"`

	Counters Counters `json:"counters"`
}

// Head returns the first move of the principal variation.
func (o Outcome) Head() (game.Move, bool) {
	if len(o.PrincipalVariation) == 0 {
		return game.Move{}, false
	}
	return o.PrincipalVariation[0], true
}

// Clone returns a deep copy.
func (o Outcome) Clone() Outcome {
	out := o
	if o.PrincipalVariation != nil {
		out.PrincipalVariation = append([]game.Move(nil), o.PrincipalVariation...)
	}
	return out
}
