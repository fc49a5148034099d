package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/chatvault/internal/api"
	"github.com/MikeSquared-Agency/chatvault/internal/config"
	"github.com/MikeSquared-Agency/chatvault/internal/events"
	"github.com/MikeSquared-Agency/chatvault/internal/htmlimport"
	"github.com/MikeSquared-Agency/chatvault/internal/importer"
	"github.com/MikeSquared-Agency/chatvault/internal/store"
)

func main() {
	runImport := flag.Bool("run-import", false, "import the archive once and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("chatvault starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// NATS is optional: without it imports still run, just silently.
	var publisher *events.Publisher
	if cfg.NatsURL != "" {
		publisher, err = events.Connect(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — import events will not be published")
	}

	imp := importer.New(db, publisher, slog.Default(), cfg.ArchiveDir)
	html := htmlimport.New(db, slog.Default())

	if *runImport {
		runOnce(ctx, imp, html, cfg.HTMLDir)
		return
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, db, imp, html)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("chatvault ready", "port", cfg.Port, "archive", cfg.ArchiveDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("chatvault stopped")
}

// runOnce imports the archive and the HTML export directory, then exits.
func runOnce(ctx context.Context, imp *importer.Importer, html *htmlimport.Importer, htmlDir string) {
	result, err := imp.Run(ctx)
	if err != nil {
		slog.Error("archive import failed", "error", err)
		os.Exit(1)
	}
	slog.Info("archive import finished",
		"folders", result.FoldersTotal,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"errors", result.Errored,
		"conversations", result.Counts.Conversations,
		"messages", result.Counts.Messages,
	)

	htmlResult, err := html.ImportDir(ctx, htmlDir)
	if err != nil {
		slog.Error("html import failed", "error", err)
		os.Exit(1)
	}
	slog.Info("html import finished",
		"files", htmlResult.FilesFound,
		"conversations", htmlResult.ConversationsCreated,
		"messages", htmlResult.MessagesCreated,
		"skipped", len(htmlResult.Skipped),
		"errors", len(htmlResult.Errors),
	)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
