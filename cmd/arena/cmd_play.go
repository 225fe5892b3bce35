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
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianArena/services/arena/config"
	"github.com/AleutianAI/AleutianArena/services/arena/coordinator"
	"github.com/AleutianAI/AleutianArena/services/arena/prefs"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/session"
	"github.com/AleutianAI/AleutianArena/services/arena/telemetry"
	"github.com/AleutianAI/AleutianArena/services/arena/transport"
)

func runPlay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The board owns the terminal; logs go to the file when one is configured.
	logger, err := newLogger(cfg.Logging, cfg.Logging.Dir != "")
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	store, err := openPrefs(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := savePlayFlags(cmd, store); err != nil {
		return err
	}

	searchCfg := resolveSearchConfig(cfg, store, log)

	bridge, closeBridge, err := openBridge(ctx, cfg, searchCfg, log)
	if err != nil {
		return err
	}
	defer closeBridge()

	var budget atomic.Uint32
	budget.Store(cfg.Session.StepBudget)

	agent := cfg.Session.AgentPlayer()
	out := cmd.OutOrStdout()
	m := newMatch(agent.Opponent(), newPrompter(out), out, log)

	coord, err := coordinator.New(bridge, m.hook,
		coordinator.WithAgent(agent),
		coordinator.WithBudgetSource(func() uint32 { return store.StepBudgetOr(budget.Load()) }),
		coordinator.WithStatus(m.status),
		coordinator.WithLogger(log),
	)
	if err != nil {
		return err
	}
	if remoteURL != "" {
		if err := coord.SetConfig(searchCfg); err != nil {
			return err
		}
	}

	if watchFlag {
		go func() {
			err := config.Watch(ctx, configPath, func(next config.Config) {
				budget.Store(next.Session.StepBudget)
				if err := coord.SetConfig(next.Search); err != nil {
					log.Warn("applying reloaded search config", slog.String("error", err.Error()))
					return
				}
				if err := store.SetSearchConfig(next.Search); err != nil {
					log.Warn("saving search config", slog.String("error", err.Error()))
				}
			}, log)
			if err != nil {
				log.Debug("config hot reload disabled", slog.String("error", err.Error()))
			}
		}()
	}

	_, err = runMatch(ctx, coord, m)
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openPrefs(cfg config.Config, logger *slog.Logger) (*prefs.Store, error) {
	pcfg := prefs.DefaultConfig(config.ExpandHome(cfg.Prefs.Path))
	if cfg.Prefs.InMemory || noPrefs {
		pcfg = prefs.InMemoryConfig()
	}
	pcfg.Logger = logger
	store, err := prefs.Open(pcfg)
	if err != nil {
		return nil, fmt.Errorf("open preferences: %w", err)
	}
	return store, nil
}

// savePlayFlags persists --steps and --seed when they were given.
func savePlayFlags(cmd *cobra.Command, store *prefs.Store) error {
	if cmd.Flags().Changed("steps") {
		if err := store.SetStepBudget(stepsFlag); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("seed") {
		if err := store.SetSeed(seedFlag); err != nil {
			return err
		}
	}
	return nil
}

// resolveSearchConfig prefers the config file, then the last configuration
// saved by a hot reload. A zero seed is replaced by the stored seed.
func resolveSearchConfig(cfg config.Config, store *prefs.Store, logger *slog.Logger) search.Config {
	out := cfg.Search.Clone()
	if _, err := os.Stat(config.ExpandHome(configPath)); err != nil {
		saved, ok, err := store.SearchConfig()
		switch {
		case err != nil:
			logger.Warn("reading saved search config", slog.String("error", err.Error()))
		case ok:
			out = saved
		}
	}
	if out.Seed == 0 {
		seed, err := store.Seed()
		if err != nil {
			logger.Warn("reading seed", slog.String("error", err.Error()))
		}
		out.Seed = int64(seed)
	}
	return out
}

// openBridge connects to a remote runner or starts a local one.
func openBridge(ctx context.Context, cfg config.Config, searchCfg search.Config, logger *slog.Logger) (coordinator.Bridge, func(), error) {
	if remoteURL != "" {
		client, err := transport.Dial(ctx, remoteURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}

	engine, err := search.NewMCTS(searchCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	runner, err := session.NewRunner(engine,
		session.WithLogger(logger),
		session.WithMetrics(telemetry.DefaultMetrics()),
		session.WithMailboxSize(cfg.Session.MailboxSize),
	)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("runner stopped", slog.String("error", err.Error()))
		}
	}()
	return runner, runner.Close, nil
}
