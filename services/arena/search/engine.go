// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search defines the search engine contract consumed by the session
// runner, the engine's configuration and outcome types, and a Monte-Carlo
// tree search engine that satisfies the contract.
//
// An Engine is called repeatedly in small, time-boxed increments. Each call
// returns the best line known so far; the engine keeps its tree between calls
// so later increments refine the earlier ones.
package search

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
)

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid search configuration")

	// ErrNotScorable is returned when a snapshot does not implement game.Terminal.
	ErrNotScorable = errors.New("snapshot does not implement game.Terminal")

	// ErrNilSnapshot is returned when SearchOnce is called without a position.
	ErrNilSnapshot = errors.New("snapshot must not be nil")
)

// Engine is a stateful tree search.
//
// Thread Safety: Not safe for concurrent use. An Engine is owned by exactly
// one session runner goroutine.
type Engine interface {
	// SearchOnce searches snapshot on behalf of agent until the configured
	// time budget elapses or ctx is done, and returns the best line found.
	// Internal state persists across calls for the same position.
	SearchOnce(ctx context.Context, snapshot game.Snapshot, agent game.PlayerID) (Outcome, error)

	// Config returns the active configuration.
	Config() Config

	// SetConfig replaces the configuration for subsequent calls.
	SetConfig(cfg Config) error
}
