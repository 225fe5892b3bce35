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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
)

func TestNew(t *testing.T) {
	b := New()

	p, ok := b.ActivePlayer()
	require.True(t, ok)
	assert.Equal(t, game.PlayerFirst, p)
	assert.Len(t, b.LegalMoves(), Cells)
	assert.False(t, b.IsTerminal())
}

func TestPlay_AlternatesAndRejectsIllegal(t *testing.T) {
	b := New()

	next, err := b.Play(game.Move{Player: game.PlayerFirst, Code: 4})
	require.NoError(t, err)
	p, _ := next.ActivePlayer()
	assert.Equal(t, game.PlayerSecond, p)
	assert.Equal(t, game.PlayerFirst, next.At(4))
	assert.Equal(t, game.PlayerID(0), b.At(4), "receiver must not change")

	_, err = next.Play(game.Move{Player: game.PlayerSecond, Code: 4})
	assert.ErrorIs(t, err, game.ErrRuleViolation)

	_, err = next.Play(game.Move{Player: game.PlayerFirst, Code: 0})
	assert.ErrorIs(t, err, game.ErrRuleViolation)

	_, err = next.Play(game.Move{Player: game.PlayerSecond, Code: 9})
	assert.ErrorIs(t, err, game.ErrRuleViolation)
}

func TestWinnerAndReward(t *testing.T) {
	b, err := FromString("XXX/OO./...", game.PlayerSecond)
	require.NoError(t, err)

	w, ok := b.Winner()
	require.True(t, ok)
	assert.Equal(t, game.PlayerFirst, w)
	assert.True(t, b.IsTerminal())
	assert.Empty(t, b.LegalMoves())
	_, active := b.ActivePlayer()
	assert.False(t, active)
	assert.Equal(t, 1.0, b.Reward(game.PlayerFirst))
	assert.Equal(t, 0.0, b.Reward(game.PlayerSecond))

	_, err = b.Play(game.Move{Player: game.PlayerSecond, Code: 8})
	assert.ErrorIs(t, err, game.ErrRuleViolation)
}

func TestDraw(t *testing.T) {
	b, err := FromString("XOX/XOO/OXX", game.PlayerFirst)
	require.NoError(t, err)
	assert.True(t, b.IsTerminal())
	assert.Equal(t, 0.5, b.Reward(game.PlayerFirst))
}

func TestFingerprint_IncrementalMatchesFull(t *testing.T) {
	b := New()
	moves := []uint32{4, 0, 8, 2}
	player := game.PlayerFirst
	for _, c := range moves {
		var err error
		b, err = b.Play(game.Move{Player: player, Code: c})
		require.NoError(t, err)
		player = player.Opponent()
	}

	parsed, err := FromString(b.String(), player)
	require.NoError(t, err)
	assert.Equal(t, parsed.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, New().Fingerprint(), b.Fingerprint())
}

func TestFingerprint_SideToMoveMatters(t *testing.T) {
	a, err := FromString("X........", game.PlayerFirst)
	require.NoError(t, err)
	b, err := FromString("X........", game.PlayerSecond)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestJSONRoundTrip(t *testing.T) {
	b, err := FromString("X.O/.X./...", game.PlayerSecond)
	require.NoError(t, err)

	data, err := json.Marshal(b)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, b.Fingerprint(), decoded.Fingerprint())

	_, err = Decode([]byte(`{"cells":"XX","to_move":1}`))
	assert.Error(t, err)
}

func TestDescribeMove(t *testing.T) {
	b := New()
	assert.Equal(t, "X b2", b.DescribeMove(game.Move{Player: game.PlayerFirst, Code: 4}))
	assert.Equal(t, "a1", CellName(0))
	assert.Equal(t, "c3", CellName(8))

	line := game.DescribeLine(b, []game.Move{
		{Player: game.PlayerFirst, Code: 0},
		{Player: game.PlayerSecond, Code: 8},
	})
	assert.Equal(t, []string{"X a1", "O c3"}, line)
}

func TestParseCell(t *testing.T) {
	for i := 0; i < Cells; i++ {
		got, err := ParseCell(CellName(i))
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	got, err := ParseCell(" B3 ")
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	for _, bad := range []string{"", "d1", "a4", "a", "a10"} {
		_, err := ParseCell(bad)
		assert.ErrorIs(t, err, game.ErrRuleViolation, bad)
	}
}
