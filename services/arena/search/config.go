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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default values for Config.
const (
	DefaultTimeBudget          = 500 * time.Millisecond
	DefaultExplorationConstant = 2.0
	DefaultTableSizeMB         = 32
	DefaultPlayoutIterations   = 10
	DefaultPlayoutCutoff       = 20
	DefaultPlayoutBias         = 10.0
)

// approxNodeBytes is the memory charged per tree node when converting
// TableSizeMB into a node cap.
const approxNodeBytes = 160

// Config parameterizes a search engine. A Config value is immutable once
// handed to a runner; changing it means sending a new one.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// TimeBudget bounds a single SearchOnce call. Must be > 0.
	TimeBudget time.Duration `json:"time_budget" yaml:"time_budget" validate:"gt=0"`

	// ExplorationConstant is the UCT exploration weight.
	ExplorationConstant float64 `json:"exploration_constant" yaml:"exploration_constant" validate:"gte=0"`

	// TableSizeMB is the memory budget for the search tree. 0 means unbounded.
	TableSizeMB int `json:"table_size_mb" yaml:"table_size_mb" validate:"gte=0,lte=65536"`

	// Parallel runs the playouts of an iteration concurrently.
	Parallel bool `json:"parallel" yaml:"parallel"`

	// Workers caps playout goroutines when Parallel is set. 0 means one per playout.
	Workers int `json:"workers" yaml:"workers" validate:"gte=0,lte=256"`

	// PlayoutIterations is the number of random playouts per expanded leaf.
	PlayoutIterations int `json:"playout_iterations" yaml:"playout_iterations" validate:"gte=1,lte=10000"`

	// PlayoutCutoff is the maximum playout depth in plies. 0 means play to the end.
	PlayoutCutoff int `json:"playout_cutoff" yaml:"playout_cutoff" validate:"gte=0"`

	// PlayoutBias weights moves that win on the spot during playouts.
	// nil disables the bias.
	PlayoutBias *float64 `json:"playout_bias,omitempty" yaml:"playout_bias,omitempty" validate:"omitempty,gt=0"`

	// MaxPositions caps states visited per call. 0 means no cap.
	MaxPositions int `json:"max_positions" yaml:"max_positions" validate:"gte=0"`

	// Seed seeds the engine's random source. 0 picks a time-based seed.
	Seed int64 `json:"seed" yaml:"seed"`

	// Debug enables verbose per-step logging of the principal variation.
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultConfig returns the configuration the arena ships with.
//
// Outputs:
//   - Config: Default configuration with sensible values.
func DefaultConfig() Config {
	bias := DefaultPlayoutBias
	return Config{
		TimeBudget:          DefaultTimeBudget,
		ExplorationConstant: DefaultExplorationConstant,
		TableSizeMB:         DefaultTableSizeMB,
		Parallel:            false,
		PlayoutIterations:   DefaultPlayoutIterations,
		PlayoutCutoff:       DefaultPlayoutCutoff,
		PlayoutBias:         &bias,
	}
}

var configValidate = validator.New()

// Validate checks the configuration.
//
// Outputs:
//   - error: Non-nil (wrapping ErrInvalidConfig) if any field is out of range.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// MaxNodes converts TableSizeMB into a node cap. 0 means unbounded.
func (c Config) MaxNodes() int {
	if c.TableSizeMB <= 0 {
		return 0
	}
	return c.TableSizeMB * (1 << 20) / approxNodeBytes
}

// Clone returns a copy that shares no pointers with c.
func (c Config) Clone() Config {
	out := c
	if c.PlayoutBias != nil {
		b := *c.PlayoutBias
		out.PlayoutBias = &b
	}
	return out
}
