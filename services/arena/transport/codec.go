// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport carries the session protocol over a websocket.
//
// Commands travel as JSON envelopes tagged by "type"; snapshots inside a
// start envelope are tagged by game name and decoded through a Registry.
// Responses travel as plain session.Response JSON. A decode failure affects
// only the frame that failed: the server answers it with a rejected
// response and the runner never sees it.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/game/tictactoe"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/session"
)

var (
	// ErrUnknownType is returned for an envelope with an unrecognized type tag.
	ErrUnknownType = errors.New("unknown command type")

	// ErrUnknownGame is returned when no decoder is registered for a game name.
	ErrUnknownGame = errors.New("unknown game")

	// ErrNotSerializable is returned when a snapshot cannot be put on the wire.
	ErrNotSerializable = errors.New("snapshot is not serializable")
)

// Envelope is the wire form of a session.Command.
type Envelope struct {
	Type             string          `json:"type"`
	SessionID        string          `json:"session_id,omitempty"`
	MaximizingPlayer game.PlayerID   `json:"maximizing_player,omitempty"`
	Game             string          `json:"game,omitempty"`
	Snapshot         json.RawMessage `json:"snapshot,omitempty"`
	StepBudget       uint32          `json:"step_budget,omitempty"`
	Config           *search.Config  `json:"config,omitempty"`
}

// Decoder rebuilds a snapshot from its JSON form.
type Decoder func(data []byte) (game.Snapshot, error)

// Registry maps game names to snapshot decoders.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// DefaultRegistry returns a registry with the bundled games.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(tictactoe.Name, tictactoe.Decode)
	return r
}

// Register adds or replaces the decoder for name.
func (r *Registry) Register(name string, dec Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = dec
}

// Games lists the registered game names in order.
func (r *Registry) Games() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) decode(name string, data []byte) (game.Snapshot, error) {
	r.mu.RLock()
	dec, ok := r.decoders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, name)
	}
	return dec(data)
}

// EncodeCommand serializes cmd into an envelope.
func EncodeCommand(cmd session.Command) ([]byte, error) {
	env := Envelope{Type: cmd.CommandType()}
	switch c := cmd.(type) {
	case session.Start:
		named, ok := c.Snapshot.(game.Named)
		if !ok {
			return nil, fmt.Errorf("%w: %T has no game name", ErrNotSerializable, c.Snapshot)
		}
		raw, err := json.Marshal(c.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
		}
		env.SessionID = c.SessionID
		env.MaximizingPlayer = c.MaximizingPlayer
		env.Game = named.GameName()
		env.Snapshot = raw
		env.StepBudget = c.StepBudget
		env.Config = c.Config
	case session.SetConfig:
		cfg := c.Config
		env.Config = &cfg
	case session.Step, session.Abandon:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, cmd)
	}
	return json.Marshal(env)
}

// DecodeCommand parses an envelope into a command.
//
// Outputs:
//   - session.Command: The command.
//   - string: The session ID carried by the envelope, if any, for error replies.
//   - error: Non-nil for malformed JSON, an unknown type, or an unknown game.
func (r *Registry) DecodeCommand(data []byte) (session.Command, string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case session.TypeStart:
		snap, err := r.decode(env.Game, env.Snapshot)
		if err != nil {
			return nil, env.SessionID, err
		}
		return session.Start{
			SessionID:        env.SessionID,
			MaximizingPlayer: env.MaximizingPlayer,
			Snapshot:         snap,
			StepBudget:       env.StepBudget,
			Config:           env.Config,
		}, env.SessionID, nil
	case session.TypeStep:
		return session.Step{}, env.SessionID, nil
	case session.TypeAbandon:
		return session.Abandon{}, env.SessionID, nil
	case session.TypeSetConfig:
		if env.Config == nil {
			return nil, env.SessionID, fmt.Errorf("%w: set_config without config", search.ErrInvalidConfig)
		}
		return session.SetConfig{Config: *env.Config}, env.SessionID, nil
	default:
		return nil, env.SessionID, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// EncodeResponse serializes a response.
func EncodeResponse(resp session.Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a response.
func DecodeResponse(data []byte) (session.Response, error) {
	var resp session.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return session.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
