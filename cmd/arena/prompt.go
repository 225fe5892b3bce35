// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/game/tictactoe"
)

// errQuit is returned by a prompter when the user gives up the game.
var errQuit = errors.New("quit")

// movePrompter asks the human for a move.
type movePrompter interface {
	ChooseMove(ctx context.Context, b tictactoe.Board) (game.Move, error)
}

// newPrompter picks the interactive selector on a terminal and a plain
// line reader otherwise (pipes, CI).
func newPrompter(out io.Writer) movePrompter {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return newLinePrompter(os.Stdin, out)
	}
	return selectPrompter{}
}

// selectPrompter shows the legal cells in a huh select.
type selectPrompter struct{}

func (selectPrompter) ChooseMove(ctx context.Context, b tictactoe.Board) (game.Move, error) {
	legal := b.LegalMoves()
	if len(legal) == 0 {
		return game.Move{}, fmt.Errorf("%w: no legal moves", game.ErrRuleViolation)
	}
	options := make([]huh.Option[int], 0, len(legal))
	for i, m := range legal {
		options = append(options, huh.NewOption(tictactoe.CellName(int(m.Code)), i))
	}

	var choice int
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().
			Title("Your move").
			Options(options...).
			Value(&choice),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return game.Move{}, errQuit
		}
		return game.Move{}, err
	}
	return legal[choice], nil
}

// linePrompter reads cell names ("b2") line by line. "q" quits.
type linePrompter struct {
	lines <-chan string
	out   io.Writer
}

func newLinePrompter(in io.Reader, out io.Writer) *linePrompter {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return &linePrompter{lines: lines, out: out}
}

func (p *linePrompter) ChooseMove(ctx context.Context, b tictactoe.Board) (game.Move, error) {
	active, ok := b.ActivePlayer()
	if !ok {
		return game.Move{}, fmt.Errorf("%w: game is over", game.ErrRuleViolation)
	}
	for {
		fmt.Fprint(p.out, "Your move (a1..c3, q to quit): ")
		var line string
		select {
		case <-ctx.Done():
			return game.Move{}, ctx.Err()
		case l, ok := <-p.lines:
			if !ok {
				return game.Move{}, errQuit
			}
			line = strings.TrimSpace(l)
		}
		if strings.EqualFold(line, "q") {
			return game.Move{}, errQuit
		}
		cell, err := tictactoe.ParseCell(line)
		if err != nil {
			fmt.Fprintln(p.out, err)
			continue
		}
		m := game.Move{Player: active, Code: uint32(cell)}
		if _, err := b.Play(m); err != nil {
			fmt.Fprintln(p.out, err)
			continue
		}
		return m, nil
	}
}
