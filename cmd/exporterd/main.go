package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/denwatch/denwatch-exporter/internal/api"
	"github.com/denwatch/denwatch-exporter/internal/config"
	"github.com/denwatch/denwatch-exporter/internal/db"
	"github.com/denwatch/denwatch-exporter/internal/export"
	"github.com/denwatch/denwatch-exporter/internal/jobs"
	"github.com/denwatch/denwatch-exporter/internal/logging"
	"github.com/denwatch/denwatch-exporter/internal/media"
	"github.com/denwatch/denwatch-exporter/internal/tracking"
)

func main() {
	once := flag.Bool("once", false, "process at most one pending export job and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run(once bool) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting denwatch exporter",
		"version", config.Version,
		"data_dir", cfg.DataDir(),
		"export_dir", cfg.ExportDir(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	trackingRepo := tracking.NewRepository(database.Conn())
	jobRepo := jobs.NewRepository(database.Conn())

	store, err := export.NewManifestStore(cfg.ExportDir())
	if err != nil {
		return fmt.Errorf("failed to initialize manifest store: %w", err)
	}

	planner := export.NewPlanner(trackingRepo, logging.WithComponent(logger, "planner"))
	renderer := export.NewRenderer(cfg.FFmpegBin(), store, logging.WithComponent(logger, "renderer"))
	exportSvc := export.NewService(planner, store, renderer, logging.WithComponent(logger, "export"))

	if once {
		worker := jobs.NewWorker(jobRepo, exportSvc, logging.WithComponent(logger, "worker"), cfg.PollInterval())
		processed, err := worker.RunOnce(context.Background())
		if err != nil {
			return err
		}
		out, _ := json.Marshal(map[string]int{"processed_jobs": boolToInt(processed)})
		fmt.Println(string(out))
		return nil
	}

	authToken, err := ensureAuthToken(trackingRepo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	logger.Info("api auth token ready", "token", logging.SanitizeToken(authToken))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < cfg.Workers(); i++ {
		worker := jobs.NewWorker(jobRepo, exportSvc,
			logging.WithComponent(logger, fmt.Sprintf("worker-%d", i)), cfg.PollInterval())
		go worker.Start(ctx)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Exports:   exportSvc,
		Jobs:      jobRepo,
		Store:     store,
		Media:     media.NewServer(logging.WithComponent(logger, "media")),
		Tracking:  trackingRepo,
		Logger:    logger,
		StartTime: startTime,
		Version:   config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo tracking.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
