package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thinkscotty/newsroom/internal/ai"
	"github.com/thinkscotty/newsroom/internal/auth"
	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/database"
	"github.com/thinkscotty/newsroom/internal/health"
	"github.com/thinkscotty/newsroom/internal/orchestrator"
	"github.com/thinkscotty/newsroom/internal/retry"
	"github.com/thinkscotty/newsroom/internal/scraper"
	"github.com/thinkscotty/newsroom/internal/server"
	"github.com/thinkscotty/newsroom/internal/similarity"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	genKey := flag.Bool("genkey", false, "Generate a new operator API key, store its hash and print it")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Newsroom %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	var logLevel slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Newsroom", "version", version)

	// Initialize database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Database initialized", "path", cfg.Database.Path)

	if *genKey {
		if err := rotateKey(db); err != nil {
			slog.Error("Failed to generate operator key", "error", err)
			os.Exit(1)
		}
		return
	}
	if hash, _ := db.GetSetting(server.KeySetting); hash == "" {
		slog.Warn("No operator API key configured; run with -genkey to create one")
	}

	// Initialize services
	policy := retry.DefaultPolicy()
	if cfg.Pipeline.PersistRetries > 0 {
		policy.MaxTries = uint(cfg.Pipeline.PersistRetries)
	}
	tracker := health.NewTracker(db, policy)
	resolver := similarity.New(cfg.Dedup.ShingleSize, cfg.Dedup.Window(), cfg.Dedup.MaxCompare)
	sc := scraper.New(cfg.Scraper, cfg.Pipeline.FetchTimeout())
	provider := ai.NewOllamaProvider(cfg.AI.BaseURL, cfg.AI.Model)
	aiClient := ai.NewClient(provider, cfg.AI)
	pipeline := orchestrator.New(db, tracker, sc, aiClient, resolver, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkCtx, checkCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := provider.TestConnection(checkCtx); err != nil {
		slog.Warn("Generation backend unreachable; simplify and illustrate will hold items until it returns",
			"base_url", cfg.AI.BaseURL, "error", err)
	}
	checkCancel()

	if err := pipeline.Seed(ctx, cfg.Topics); err != nil {
		slog.Error("Failed to seed topics", "error", err)
		os.Exit(1)
	}

	// Build HTTP server
	srv := server.New(cfg, db, pipeline, version)

	// Start orchestrator in background
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipeline.Run(ctx); err != nil {
			slog.Error("Orchestrator stopped", "error", err)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	// Start serving
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	<-done
}

// rotateKey replaces the operator key. Only the hash is stored; the key is
// printed once.
func rotateKey(db *database.DB) error {
	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	if err := db.SetSetting(server.KeySetting, hash); err != nil {
		return fmt.Errorf("store key hash: %w", err)
	}
	fmt.Printf("Operator API key (shown once): %s\n", key)
	return nil
}
