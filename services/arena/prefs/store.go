// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prefs

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianArena/services/arena/search"
)

// Preference keys.
const (
	KeyStepBudget   = "search_steps"
	KeySeed         = "random_seed"
	KeySearchConfig = "search_config"
)

// Defaults used when a preference was never set.
const (
	DefaultStepBudget uint32 = 5
	DefaultSeed       uint64 = 100
)

// ErrZeroStepBudget rejects a stored step budget of zero.
var ErrZeroStepBudget = errors.New("step budget must be > 0")

// Store reads and writes preferences.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens the preference store.
//
// Inputs:
//   - cfg: Database configuration.
//
// Outputs:
//   - *Store: The store. Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With(slog.String("component", "prefs"))}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StepBudget returns the stored step budget, or DefaultStepBudget.
func (s *Store) StepBudget() (uint32, error) {
	v, ok, err := s.getUint(KeyStepBudget)
	if err != nil || !ok {
		return DefaultStepBudget, err
	}
	return uint32(v), nil
}

// SetStepBudget stores the step budget. Zero is rejected.
func (s *Store) SetStepBudget(n uint32) error {
	if n == 0 {
		return ErrZeroStepBudget
	}
	return s.setUint(KeyStepBudget, uint64(n))
}

// StepBudgetOr returns the stored step budget, or fallback when none is
// stored or the store cannot be read. Read errors are logged.
func (s *Store) StepBudgetOr(fallback uint32) uint32 {
	v, ok, err := s.getUint(KeyStepBudget)
	if err != nil {
		s.logger.Warn("reading step budget", slog.String("error", err.Error()))
	}
	if err != nil || !ok || v == 0 {
		return fallback
	}
	return uint32(v)
}

// Seed returns the stored game seed, or DefaultSeed.
func (s *Store) Seed() (uint64, error) {
	v, ok, err := s.getUint(KeySeed)
	if err != nil || !ok {
		return DefaultSeed, err
	}
	return v, nil
}

// SetSeed stores the game seed.
func (s *Store) SetSeed(seed uint64) error {
	return s.setUint(KeySeed, seed)
}

// SearchConfig returns the stored search configuration. ok is false when
// none was stored.
func (s *Store) SearchConfig() (cfg search.Config, ok bool, err error) {
	data, found, err := s.get(KeySearchConfig)
	if err != nil || !found {
		return search.Config{}, false, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return search.Config{}, false, fmt.Errorf("decode %s: %w", KeySearchConfig, err)
	}
	return cfg, true, nil
}

// SetSearchConfig validates and stores cfg.
func (s *Store) SetSearchConfig(cfg search.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeySearchConfig, err)
	}
	return s.set(KeySearchConfig, data)
}

// Reset deletes every preference.
func (s *Store) Reset() error {
	return s.db.DropAll()
}

func (s *Store) getUint(key string) (uint64, bool, error) {
	data, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("preference %s: corrupt value of %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}

func (s *Store) setUint(key string, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return s.set(key, buf)
}

func (s *Store) get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read preference %s: %w", key, err)
	}
	return out, true, nil
}

func (s *Store) set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	s.logger.Debug("preference saved", slog.String("key", key))
	return nil
}
