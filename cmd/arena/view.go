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
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/game/tictactoe"
)

// Brand palette.
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorTealDeep   = lipgloss.Color("#16858E")
	colorAmber      = lipgloss.Color("#F4D03F")
	colorRed        = lipgloss.Color("#E74C3C")
	colorSlate      = lipgloss.Color("#2C4A54")
)

var styles = struct {
	Title  lipgloss.Style
	Muted  lipgloss.Style
	Status lipgloss.Style
	Win    lipgloss.Style
	Loss   lipgloss.Style
	Board  lipgloss.Style
	Human  lipgloss.Style
	Agent  lipgloss.Style
	Empty  lipgloss.Style
	Latest lipgloss.Style
}{
	Title:  lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Muted:  lipgloss.NewStyle().Foreground(colorSlate),
	Status: lipgloss.NewStyle().Foreground(colorTealDeep).Italic(true),
	Win:    lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Loss:   lipgloss.NewStyle().Bold(true).Foreground(colorRed),
	Board: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealDeep).
		Padding(0, 1),
	Human:  lipgloss.NewStyle().Bold(true).Foreground(colorAmber),
	Agent:  lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Empty:  lipgloss.NewStyle().Foreground(colorSlate),
	Latest: lipgloss.NewStyle().Underline(true),
}

// renderBoard draws b with column letters and row numbers. last, when
// valid, is underlined.
func renderBoard(b tictactoe.Board, human game.PlayerID, last int) string {
	var sb strings.Builder
	sb.WriteString(styles.Muted.Render("   a b c"))
	sb.WriteByte('\n')
	for row := 0; row < 3; row++ {
		sb.WriteString(styles.Muted.Render(string(rune('1' + row))))
		sb.WriteString("  ")
		for col := 0; col < 3; col++ {
			i := row*3 + col
			sb.WriteString(renderCell(b.At(i), human, i == last))
			if col < 2 {
				sb.WriteByte(' ')
			}
		}
		if row < 2 {
			sb.WriteByte('\n')
		}
	}
	return styles.Board.Render(sb.String())
}

func renderCell(p game.PlayerID, human game.PlayerID, latest bool) string {
	var cell string
	switch p {
	case game.PlayerFirst:
		cell = "X"
	case game.PlayerSecond:
		cell = "O"
	default:
		return styles.Empty.Render("·")
	}
	style := styles.Agent
	if p == human {
		style = styles.Human
	}
	if latest {
		style = style.Inherit(styles.Latest)
	}
	return style.Render(cell)
}

// resultLine describes a finished game from the human's point of view.
func resultLine(b tictactoe.Board, human game.PlayerID) string {
	winner, ok := b.Winner()
	switch {
	case !ok:
		return styles.Muted.Render("Draw.")
	case winner == human:
		return styles.Win.Render("You win!")
	default:
		return styles.Loss.Render("The agent wins.")
	}
}
