// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tictactoe

import (
	"sync"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
)

type zobristTable struct {
	cells [Cells * 2]uint64
	side  uint64
}

var (
	zobristOnce  sync.Once
	zobristKeys  *zobristTable
	zobristSeed0 = uint64(0x9e3779b97f4a7c15)
)

// zobrist returns the process-wide key table. Keys are derived from a fixed
// seed so fingerprints are stable across processes and hosts.
func zobrist() *zobristTable {
	zobristOnce.Do(func() {
		rng := splitmix64{state: zobristSeed0 ^ Cells}
		t := &zobristTable{}
		for i := range t.cells {
			t.cells[i] = rng.next()
		}
		t.side = rng.next()
		zobristKeys = t
	})
	return zobristKeys
}

func (z *zobristTable) stone(cell int, p game.PlayerID) uint64 {
	idx := cell * 2
	if p == game.PlayerSecond {
		idx++
	}
	return z.cells[idx]
}

type splitmix64 struct {
	state uint64
}

func (s *splitmix64) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
