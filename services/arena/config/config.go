// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the arena configuration file.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file, then ARENA_* environment variables. The result is validated with
// go-playground/validator struct tags before anything uses it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/telemetry"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid arena configuration")

// Environment overrides.
const (
	EnvStepBudget = "ARENA_STEP_BUDGET"
	EnvTimeBudget = "ARENA_TIME_BUDGET"
	EnvServerAddr = "ARENA_SERVER_ADDR"
	EnvLogLevel   = "ARENA_LOG_LEVEL"
)

// DefaultPath is where the CLI looks for the config file.
const DefaultPath = "~/.arena/arena.yaml"

// Config is the complete arena configuration.
type Config struct {
	Search    search.Config    `yaml:"search" json:"search"`
	Session   Session          `yaml:"session" json:"session"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Logging   Logging          `yaml:"logging" json:"logging"`
	Prefs     Prefs            `yaml:"prefs" json:"prefs"`
	Server    Server           `yaml:"server" json:"server"`
}

// Session configures the runner and the coordinator.
type Session struct {
	// StepBudget is the default number of increments per search. A stored
	// preference overrides it.
	StepBudget uint32 `yaml:"step_budget" json:"step_budget" validate:"gt=0,lte=1000"`

	// MailboxSize bounds the runner's command queue.
	MailboxSize int `yaml:"mailbox_size" json:"mailbox_size" validate:"gte=1,lte=1024"`

	// Agent is the side the agent plays: "first" or "second".
	Agent string `yaml:"agent" json:"agent" validate:"oneof=first second"`
}

// AgentPlayer converts Agent into a PlayerID.
func (s Session) AgentPlayer() game.PlayerID {
	if s.Agent == "first" {
		return game.PlayerFirst
	}
	return game.PlayerSecond
}

// Logging configures the process logger.
type Logging struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Format is "text", "json", or "auto". Auto picks JSON when stderr is
	// not a terminal.
	Format string `yaml:"format" json:"format" validate:"oneof=auto text json"`

	// Dir enables daily log files. Empty disables them.
	Dir string `yaml:"dir" json:"dir"`
}

// Prefs locates the preference store.
type Prefs struct {
	Path     string `yaml:"path" json:"path" validate:"required_unless=InMemory true"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// Server configures `arena serve`.
type Server struct {
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	// CommandsPerSecond paces each websocket connection. 0 disables pacing.
	CommandsPerSecond float64 `yaml:"commands_per_second" json:"commands_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Search: search.DefaultConfig(),
		Session: Session{
			StepBudget:  5,
			MailboxSize: 16,
			Agent:       "second",
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
		Prefs: Prefs{
			Path: "~/.arena/prefs",
		},
		Server: Server{
			Addr:              ":8086",
			CommandsPerSecond: 50,
			Burst:             10,
			ShutdownTimeout:   10 * time.Second,
		},
	}
}

var validate = validator.New()

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error; an empty path
// skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write saves cfg as YAML, creating parent directories.
func Write(path string, cfg Config) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvStepBudget); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvStepBudget, v, err)
		}
		cfg.Session.StepBudget = uint32(n)
	}
	if v, ok := lookup(EnvTimeBudget); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvTimeBudget, v, err)
		}
		cfg.Search.TimeBudget = d
	}
	if v, ok := lookup(EnvServerAddr); ok && v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
