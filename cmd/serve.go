package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"codes-bot/handler"
	"codes-bot/internal/batch"
	"codes-bot/internal/integrations/telegram"
	"codes-bot/internal/lookup"
	"codes-bot/internal/spreadsheet"
	"codes-bot/internal/tempfiles"
	"codes-bot/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBotToken(); err != nil {
		return err
	}

	// ---- Reference data ----
	loader := &awsLoader{}
	source, closer, err := buildSource(ctx, cfg.Reference, loader)
	if err != nil {
		return fmt.Errorf("build reference source: %w", err)
	}
	defer func() { _ = closer.Close() }()

	cache, err := lookup.New(source, lookup.WithTTL(cfg.ReferenceTTL))
	if err != nil {
		return err
	}
	refresher, err := lookup.NewRefresher(cache, cfg.RefreshBackoff, logger)
	if err != nil {
		return err
	}
	if err := refresher.Startup(ctx); err != nil {
		return err
	}

	// ---- Clients ----
	token, err := botToken(ctx, cfg, loader, logger)
	if err != nil {
		return err
	}
	bot, err := telegram.NewClient(token, telegram.WithHTTPClient(&http.Client{Timeout: cfg.PollTimeout + 30*time.Second}))
	if err != nil {
		return err
	}
	files, err := tempfiles.New(cfg.TempDir)
	if err != nil {
		return err
	}

	// ---- Processing ----
	coordinator, err := batch.New(bot, files, batch.WithWindow(cfg.DebounceWindow), batch.WithLogger(logger))
	if err != nil {
		return err
	}
	svc, err := usecase.NewProcessService(bot, cache, spreadsheet.NewTransformer(), coordinator, files, logger)
	if err != nil {
		return err
	}
	h, err := handler.NewHandler(svc, bot, handler.WithPollTimeout(cfg.PollTimeout), handler.WithLogger(logger))
	if err != nil {
		return err
	}

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		refresher.Run(ctx)
	}()
	go func() {
		defer background.Done()
		coordinator.RunReaper(ctx, cfg.ReapInterval, cfg.SessionMaxIdle)
	}()

	logger.Info("bot started", "reference", cache.SourceName(), "entries", cache.Size(), "temp_dir", files.Root())
	runErr := h.Run(ctx)

	// ---- Shutdown ----
	logger.Info("shutting down", "pending_batches", coordinator.Pending())
	background.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("batch shutdown incomplete", "err", err)
	}
	removed, err := files.Purge()
	if err != nil {
		logger.Warn("temp dir purge incomplete", "removed", removed, "err", err)
	} else {
		logger.Info("temp dir purged", "removed", removed)
	}
	return runErr
}
