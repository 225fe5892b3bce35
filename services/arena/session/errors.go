// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "errors"

var (
	// ErrNilEngine is returned by NewRunner without an engine.
	ErrNilEngine = errors.New("engine must not be nil")

	// ErrMailboxFull is returned by Send when the runner cannot accept
	// another command. The command is dropped; runner state is unchanged.
	ErrMailboxFull = errors.New("runner mailbox is full")

	// ErrRunnerClosed is returned by Send after Close.
	ErrRunnerClosed = errors.New("runner is closed")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("runner is already running")

	// ErrNilSnapshot rejects a Start without a position.
	ErrNilSnapshot = errors.New("start requires a snapshot")

	// ErrZeroStepBudget rejects a Start with a step budget of zero.
	ErrZeroStepBudget = errors.New("step budget must be > 0")

	// ErrInvalidPlayer rejects a Start whose maximizing player is unset.
	ErrInvalidPlayer = errors.New("maximizing player must be set")

	// ErrUnknownCommand is reported for a Command type the runner does not handle.
	ErrUnknownCommand = errors.New("unknown command")
)
