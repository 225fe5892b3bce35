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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianArena/services/arena/coordinator"
	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/game/tictactoe"
)

// match owns the board of one console game. The human moves through the
// prompter; the agent's moves arrive through the coordinator's move hook.
//
// Thread Safety: play runs on one goroutine. hook and status are called
// from the coordinator goroutine and only touch channels and out.
type match struct {
	human   game.PlayerID
	prompt  movePrompter
	logger  *slog.Logger
	outMu   sync.Mutex
	out     io.Writer
	board   tictactoe.Board
	last    int
	agentMv chan game.Move
	moved   func() error
	// positions feeds coordinator.Run. Buffered so that play never waits
	// on a coordinator that is busy handling a response.
	positions chan game.Snapshot
}

func newMatch(human game.PlayerID, prompt movePrompter, out io.Writer, logger *slog.Logger) *match {
	if logger == nil {
		logger = slog.Default()
	}
	return &match{
		human:     human,
		prompt:    prompt,
		logger:    logger,
		out:       out,
		board:     tictactoe.New(),
		last:      -1,
		agentMv:   make(chan game.Move, 1),
		positions: make(chan game.Snapshot, 4),
	}
}

// hook is the coordinator.MoveHook.
func (m *match) hook(ctx context.Context, mv game.Move) error {
	select {
	case m.agentMv <- mv:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// status is the coordinator.StatusFunc.
func (m *match) status(line string) {
	m.printf("%s\n", styles.Status.Render(line))
}

func (m *match) printf(format string, args ...any) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	fmt.Fprintf(m.out, format, args...)
}

// play runs the game to completion and returns the final board. errQuit
// means the human gave up.
func (m *match) play(ctx context.Context) (tictactoe.Board, error) {
	m.printf("%s\n", styles.Title.Render(fmt.Sprintf("You play %s.", sideSymbol(m.human))))
	for {
		m.printf("%s\n", renderBoard(m.board, m.human, m.last))
		if err := m.publish(ctx); err != nil {
			return m.board, err
		}
		if m.board.IsTerminal() {
			m.printf("%s\n", resultLine(m.board, m.human))
			return m.board, nil
		}

		active, _ := m.board.ActivePlayer()
		var mv game.Move
		if active == m.human {
			var err error
			if mv, err = m.prompt.ChooseMove(ctx, m.board); err != nil {
				return m.board, err
			}
			if m.moved != nil {
				if err := m.moved(); err != nil {
					m.logger.Warn("abandon before human move", slog.String("error", err.Error()))
				}
			}
		} else {
			select {
			case mv = <-m.agentMv:
			case <-ctx.Done():
				return m.board, ctx.Err()
			}
		}

		next, err := m.board.Play(mv)
		if err != nil {
			return m.board, fmt.Errorf("apply %s: %w", mv, err)
		}
		m.board = next
		m.last = int(mv.Code)
		if active != m.human {
			m.printf("Agent plays %s\n", tictactoe.CellName(m.last))
		}
	}
}

func (m *match) publish(ctx context.Context) error {
	select {
	case m.positions <- m.board:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sideSymbol(p game.PlayerID) string {
	if p == game.PlayerFirst {
		return "X"
	}
	return "O"
}

// runMatch wires a match to a coordinator and plays one game.
func runMatch(ctx context.Context, coord *coordinator.Coordinator, m *match) (tictactoe.Board, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.moved = coord.UserMoved
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, m.positions) }()

	board, err := m.play(ctx)
	cancel()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		m.logger.Warn("coordinator stopped", slog.String("error", runErr.Error()))
	}
	if resetErr := coord.Reset(); resetErr != nil {
		m.logger.Debug("reset after game", slog.String("error", resetErr.Error()))
	}
	return board, err
}
