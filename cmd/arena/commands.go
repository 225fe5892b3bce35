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
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianArena/pkg/logging"
	"github.com/AleutianAI/AleutianArena/services/arena/config"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string

	// play
	remoteURL string
	stepsFlag uint32
	seedFlag  uint64
	noPrefs   bool
	watchFlag bool

	// serve
	serveAddr string

	rootCmd = &cobra.Command{
		Use:           "arena",
		Short:         "Play games against an incremental MCTS agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	playCmd = &cobra.Command{
		Use:   "play",
		Short: "Play tic-tac-toe against the agent in the terminal",
		RunE:  runPlay, // Defined in cmd_play.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve search sessions over websockets",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the arena configuration",
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfigShow, // Defined in cmd_config.go
	}
	configValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigValidate,
	}
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE:  runConfigInit,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the arena configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	playCmd.Flags().StringVar(&remoteURL, "remote", "", "websocket URL of a remote runner (default: run the search in-process)")
	playCmd.Flags().Uint32Var(&stepsFlag, "steps", 0, "search increments per move; saved as a preference")
	playCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "random seed for the search; saved as a preference")
	playCmd.Flags().BoolVar(&noPrefs, "no-prefs", false, "keep preferences in memory only")
	playCmd.Flags().BoolVar(&watchFlag, "watch", true, "reload the search configuration when the config file changes")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")

	configCmd.AddCommand(configShowCmd, configValidateCmd, configInitCmd)
	rootCmd.AddCommand(playCmd, serveCmd, configCmd)
}

// loadConfig loads the configuration and applies the --log-level flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// newLogger builds the process logger. "auto" picks JSON when stderr is
// not a terminal so that piped output stays machine-readable.
func newLogger(cfg config.Logging, quiet bool) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	jsonOut := cfg.Format == "json"
	if cfg.Format == "auto" {
		fd := os.Stderr.Fd()
		jsonOut = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
	return logging.New(logging.Config{
		Level:   level,
		Dir:     cfg.Dir,
		Service: "arena",
		JSON:    jsonOut,
		Quiet:   quiet,
	}), nil
}
