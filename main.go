// chatstream - a terminal chat client with streaming reconciliation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/controller"
	"github.com/jeranaias/chatstream/internal/logger"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/provider"
	"github.com/jeranaias/chatstream/internal/quota"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/stream"
	"github.com/jeranaias/chatstream/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default ~/.chatstream/config.toml)")
		threadID   = flag.String("thread", "", "thread id to open (default: most recent)")
		newThread  = flag.Bool("new", false, "start a new thread")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("chatstream %s (%s)\n", Version, GitCommit)
		return
	}

	if err := run(*configPath, *threadID, *newThread); err != nil {
		fmt.Fprintf(os.Stderr, "chatstream: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, threadID string, newThread bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	store, err := storage.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	identity := localIdentity(cfg)

	thread, err := pickThread(store, identity, cfg, threadID, newThread)
	if err != nil {
		return err
	}

	client := provider.NewClient(cfg.Provider.BaseURL, provider.WithAPIKey(cfg.Provider.APIKey))
	gate := quota.NewGate(
		quota.WithLimits(cfg.Quota.AnonymousDailyLimit, cfg.Quota.AccountMonthlyLimit),
		quota.WithStore(store),
	)

	// Session activity wakes the TUI through this channel; the send is
	// non-blocking so a slow render never stalls the stream goroutine.
	updates := make(chan struct{}, 1)
	manager := stream.NewManager(client, store, log, func(string) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	ctrl := controller.New(gate, store, manager, log)

	view := chat.New(cfg, thread, identity, ctrl, store, updates, log)
	program := tea.NewProgram(view, tea.WithAltScreen())

	// Hot-reload feature toggles while running. Reloads go through
	// Program.Send so only the event loop touches live settings; structural
	// settings (store path, identity) apply on next start.
	if path := resolvedConfigPath(configPath); path != "" {
		watcher, err := config.NewWatcher(path, func(next *config.Config) {
			program.Send(chat.ConfigReloadedMsg{Config: next})
		}, log)
		if err == nil {
			if err := watcher.Watch(); err != nil {
				log.Warn().Err(err).Msg("config watcher failed to start")
			}
			defer watcher.Close()
		}
	}

	log.Info().
		Str("thread", thread.ID).
		Str("model", thread.Model).
		Msg("chatstream starting")

	_, err = program.Run()
	return err
}

// loadConfig loads from an explicit path or the default location.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// resolvedConfigPath returns the path the watcher should observe.
func resolvedConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	path, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return path
}

// newLogger builds the logger, optionally writing to the configured file.
func newLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	lc := logger.Config{Level: cfg.Log.Level}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		pretty := false
		lc.Output = f
		lc.Pretty = &pretty
		return logger.New(lc), func() { f.Close() }, nil
	}
	return logger.New(lc), func() {}, nil
}

// localIdentity builds the quota/ownership identity from configuration.
func localIdentity(cfg *config.Config) model.Identity {
	if cfg.Identity.Kind == "account" {
		return model.AccountIdentity(cfg.Identity.Key)
	}
	return model.AnonymousIdentity(cfg.Identity.Key)
}

// pickThread opens the requested thread, the most recent one, or a new one.
func pickThread(store *storage.Store, identity model.Identity, cfg *config.Config, threadID string, newThread bool) (*model.Thread, error) {
	ctx := context.Background()

	if threadID != "" {
		return store.GetThread(ctx, threadID, identity)
	}

	if !newThread {
		threads, err := store.ListThreads(ctx, identity)
		if err != nil {
			return nil, err
		}
		if len(threads) > 0 {
			return threads[0], nil
		}
	}

	thread := model.NewThread(identity, cfg.Provider.Model)
	if err := store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}
