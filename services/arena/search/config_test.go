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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 500*time.Millisecond, cfg.TimeBudget)
	assert.Equal(t, 2.0, cfg.ExplorationConstant)
	assert.Equal(t, 32, cfg.TableSizeMB)
	assert.False(t, cfg.Parallel)
	assert.Equal(t, 10, cfg.PlayoutIterations)
	assert.Equal(t, 20, cfg.PlayoutCutoff)
	require.NotNil(t, cfg.PlayoutBias)
	assert.Equal(t, 10.0, *cfg.PlayoutBias)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	negBias := -1.0
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"zero time budget", func(c *Config) { c.TimeBudget = 0 }, "TimeBudget"},
		{"negative time budget", func(c *Config) { c.TimeBudget = -time.Second }, "TimeBudget"},
		{"negative exploration", func(c *Config) { c.ExplorationConstant = -0.1 }, "ExplorationConstant"},
		{"no playouts", func(c *Config) { c.PlayoutIterations = 0 }, "PlayoutIterations"},
		{"negative cutoff", func(c *Config) { c.PlayoutCutoff = -1 }, "PlayoutCutoff"},
		{"negative bias", func(c *Config) { c.PlayoutBias = &negBias }, "PlayoutBias"},
		{"too many workers", func(c *Config) { c.Workers = 1000 }, "Workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_NilBiasIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlayoutBias = nil
	assert.NoError(t, cfg.Validate())
}

func TestConfig_MaxNodes(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 32*(1<<20)/approxNodeBytes, cfg.MaxNodes())

	cfg.TableSizeMB = 0
	assert.Equal(t, 0, cfg.MaxNodes())
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cp := cfg.Clone()
	*cp.PlayoutBias = 3
	assert.Equal(t, 10.0, *cfg.PlayoutBias)
}

func TestCounters_AddAndDominates(t *testing.T) {
	a := Counters{StatesVisited: 10, Iterations: 2, Playouts: 20, NodesCreated: 2, Elapsed: time.Second}
	b := Counters{StatesVisited: 5, Iterations: 1, Playouts: 10, NodesCreated: 1, Elapsed: time.Second}

	sum := a.Add(b)
	assert.Equal(t, uint64(15), sum.StatesVisited)
	assert.Equal(t, 2*time.Second, sum.Elapsed)
	assert.True(t, sum.Dominates(a))
	assert.True(t, sum.Dominates(b))
	assert.False(t, b.Dominates(a))
}

func TestCounters_Summary(t *testing.T) {
	c := Counters{StatesVisited: 48_300}
	assert.Equal(t, "1s, 48.3 kstates/s", c.Summary(time.Second))

	c.StatesVisited = 2_500_000
	assert.Equal(t, "1s, 2.5 Mstates/s", c.Summary(time.Second))

	c.StatesVisited = 12
	assert.Equal(t, "2s, 6 states/s", c.Summary(2*time.Second))
	assert.Equal(t, "0s, 12 states", c.Summary(0))
}

func TestOutcome_CloneAndHead(t *testing.T) {
	var empty Outcome
	_, ok := empty.Head()
	assert.False(t, ok)

	o := Outcome{PrincipalVariation: make([]game.Move, 2)}
	cp := o.Clone()
	cp.PrincipalVariation[0].Code = 7
	assert.Equal(t, uint32(0), o.PrincipalVariation[0].Code)
}
