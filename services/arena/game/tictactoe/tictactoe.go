// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tictactoe is the reference game for the arena. It is small enough
// for exhaustive tests and rich enough to exercise every part of the
// Snapshot contract.
package tictactoe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
)

// Name is the wire name of the game.
const Name = "tictactoe"

// Cells on the board.
const Cells = 9

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Board is an immutable tic-tac-toe position. X is game.PlayerFirst and
// O is game.PlayerSecond.
type Board struct {
	cells  [Cells]game.PlayerID
	toMove game.PlayerID
	hash   uint64
}

var _ game.Snapshot = Board{}
var _ game.Terminal = Board{}
var _ game.Describer = Board{}
var _ game.Named = Board{}

// New returns the empty board with X to move.
func New() Board {
	b := Board{toMove: game.PlayerFirst}
	b.hash = b.computeHash()
	return b
}

// FromString parses a 9-character board ("X", "O", "." per cell, row-major)
// and the player to move.
func FromString(s string, toMove game.PlayerID) (Board, error) {
	s = strings.ReplaceAll(s, "/", "")
	if len(s) != Cells {
		return Board{}, fmt.Errorf("board must have %d cells, got %d", Cells, len(s))
	}
	b := Board{toMove: toMove}
	for i, r := range s {
		switch r {
		case 'X', 'x':
			b.cells[i] = game.PlayerFirst
		case 'O', 'o':
			b.cells[i] = game.PlayerSecond
		case '.', '-', ' ':
		default:
			return Board{}, fmt.Errorf("invalid cell %q at %d", r, i)
		}
	}
	b.hash = b.computeHash()
	return b, nil
}

// GameName implements game.Named.
func (b Board) GameName() string { return Name }

// At returns the owner of cell i, or 0 when empty.
func (b Board) At(i int) game.PlayerID { return b.cells[i] }

// ActivePlayer implements game.Snapshot.
func (b Board) ActivePlayer() (game.PlayerID, bool) {
	if b.IsTerminal() {
		return 0, false
	}
	return b.toMove, true
}

// LegalMoves implements game.Snapshot.
func (b Board) LegalMoves() []game.Move {
	if b.IsTerminal() {
		return nil
	}
	moves := make([]game.Move, 0, Cells)
	for i, c := range b.cells {
		if c == 0 {
			moves = append(moves, game.Move{Player: b.toMove, Code: uint32(i)})
		}
	}
	return moves
}

// Apply implements game.Snapshot.
func (b Board) Apply(m game.Move) (game.Snapshot, error) {
	next, err := b.Play(m)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Play is Apply with a concrete return type.
func (b Board) Play(m game.Move) (Board, error) {
	if b.IsTerminal() {
		return Board{}, fmt.Errorf("%w: game is over", game.ErrRuleViolation)
	}
	if m.Player != b.toMove {
		return Board{}, fmt.Errorf("%w: %s moved out of turn", game.ErrRuleViolation, m.Player)
	}
	if m.Code >= Cells {
		return Board{}, fmt.Errorf("%w: cell %d off the board", game.ErrRuleViolation, m.Code)
	}
	if b.cells[m.Code] != 0 {
		return Board{}, fmt.Errorf("%w: cell %d occupied", game.ErrRuleViolation, m.Code)
	}

	z := zobrist()
	next := b
	next.cells[m.Code] = m.Player
	next.hash ^= z.stone(int(m.Code), m.Player)
	next.hash ^= z.side
	next.toMove = m.Player.Opponent()
	return next, nil
}

// Fingerprint implements game.Snapshot.
func (b Board) Fingerprint() uint64 { return b.hash }

// Clone implements game.Snapshot. Board is a value type, so a copy suffices.
func (b Board) Clone() game.Snapshot { return b }

// Winner returns the player owning a full line.
func (b Board) Winner() (game.PlayerID, bool) {
	for _, l := range lines {
		c := b.cells[l[0]]
		if c != 0 && c == b.cells[l[1]] && c == b.cells[l[2]] {
			return c, true
		}
	}
	return 0, false
}

// IsTerminal implements game.Terminal.
func (b Board) IsTerminal() bool {
	if _, ok := b.Winner(); ok {
		return true
	}
	for _, c := range b.cells {
		if c == 0 {
			return false
		}
	}
	return true
}

// Reward implements game.Terminal.
func (b Board) Reward(player game.PlayerID) float64 {
	w, ok := b.Winner()
	switch {
	case !ok:
		return 0.5
	case w == player:
		return 1
	default:
		return 0
	}
}

// DescribeMove implements game.Describer.
func (b Board) DescribeMove(m game.Move) string {
	return fmt.Sprintf("%s %s", symbol(m.Player), CellName(int(m.Code)))
}

// CellName returns "a1".."c3" for cell i (column letter, row number).
func CellName(i int) string {
	if i < 0 || i >= Cells {
		return "??"
	}
	return fmt.Sprintf("%c%d", 'a'+i%3, i/3+1)
}

// ParseCell is the inverse of CellName. It accepts "a1".."c3" in either
// case.
func ParseCell(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'c' || s[1] < '1' || s[1] > '3' {
		return 0, fmt.Errorf("%w: %q is not a cell (a1..c3)", game.ErrRuleViolation, s)
	}
	return int(s[1]-'1')*3 + int(s[0]-'a'), nil
}

// String renders the board as three rows.
func (b Board) String() string {
	var sb strings.Builder
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			sb.WriteString(symbol(b.cells[row*3+col]))
		}
		if row < 2 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

func symbol(p game.PlayerID) string {
	switch p {
	case game.PlayerFirst:
		return "X"
	case game.PlayerSecond:
		return "O"
	default:
		return "."
	}
}

type wireBoard struct {
	Cells  string        `json:"cells"`
	ToMove game.PlayerID `json:"to_move"`
}

// MarshalJSON encodes the board as its cell string and side to move.
func (b Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBoard{Cells: b.String(), ToMove: b.toMove})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (b *Board) UnmarshalJSON(data []byte) error {
	var w wireBoard
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ToMove != game.PlayerFirst && w.ToMove != game.PlayerSecond {
		return fmt.Errorf("invalid side to move %d", w.ToMove)
	}
	parsed, err := FromString(w.Cells, w.ToMove)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Decode is the transport decoder for this game.
func Decode(data []byte) (game.Snapshot, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode %s board: %w", Name, err)
	}
	return b, nil
}

func (b Board) computeHash() uint64 {
	z := zobrist()
	var h uint64
	for i, c := range b.cells {
		if c != 0 {
			h ^= z.stone(i, c)
		}
	}
	if b.toMove == game.PlayerSecond {
		h ^= z.side
	}
	return h
}
