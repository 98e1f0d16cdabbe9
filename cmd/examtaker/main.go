package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stemsi/exstem-client/internal/api"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/credential"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/storage"
	"github.com/stemsi/exstem-client/internal/tui"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: examtaker <quiz-id>")
		os.Exit(2)
	}
	quizID := os.Args[1]

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// The TUI owns the terminal, so logs go to a file.
	logPath := cfg.LogFile
	if logPath == "" {
		logPath = filepath.Join(cfg.StateDir, "examtaker.log")
		_ = os.MkdirAll(cfg.StateDir, 0o700)
	}
	log := logger.SetupFile(cfg.LogLevel, cfg.LogFormat, logPath)

	ctx := context.Background()

	// ─── Open Durable Store ────────────────────────────────────────────
	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open durable store")
		fmt.Printf("Failed to open durable store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// ─── Build Client ──────────────────────────────────────────────────
	creds, err := credential.New(ctx, store, log)
	if err != nil {
		fmt.Printf("Failed to load credentials: %v\n", err)
		os.Exit(1)
	}
	if creds.User() == nil {
		fmt.Println("Not logged in. Run `examctl login` first.")
		os.Exit(1)
	}
	client := api.New(cfg.APIBaseURL, creds, cfg.RefreshLeeway, log)

	// Forced logout from elsewhere (another process clearing the shared
	// session) surfaces through the credential watch.
	go creds.RunWatch(ctx)

	// ─── Start Attempt ─────────────────────────────────────────────────
	engine, err := session.Start(ctx, client, store, quizID, session.Options{
		Monitor:        cfg.MonitorEnabled,
		HeartbeatEvery: cfg.HeartbeatEvery,
	}, log)
	if err != nil {
		if errors.Is(err, api.ErrSessionExpired) {
			fmt.Println("Session expired. Run `examctl login` again.")
			os.Exit(1)
		}
		if apiErr := api.AsAPIError(err); apiErr != nil {
			fmt.Printf("Could not start attempt: %s\n", apiErr.Message)
			os.Exit(1)
		}
		fmt.Printf("Could not start attempt: %v\n", err)
		os.Exit(1)
	}

	if err := tui.Run(ctx, engine, log); err != nil {
		log.Error().Err(err).Msg("Terminal surface failed")
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
