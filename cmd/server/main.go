package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yourusername/ytdl-go/api"
	"github.com/yourusername/ytdl-go/internal/app"
	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/internal/infrastructure"
	"github.com/yourusername/ytdl-go/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to config file (default: search ./configs, ~/.ytdl, /etc/ytdl)")
	envFile    = flag.String("env-file", ".env", "Dotenv file loaded before the config")
)

func main() {
	flag.Parse()

	// A missing .env is normal outside development
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := run(config); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(config *domain.Config) error {
	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Job and error events go to dated files next to yt-dlp output
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize job logger: %w", err)
	}
	defer multiLog.Close()

	log.Info("Starting YTDL server",
		zap.String("version", config.API.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("datasource", config.Datasource.Type),
		zap.String("storage", config.Storage.Type),
		zap.String("extractor", config.Extractor.Type),
		zap.String("transcoder", config.Transcoder.Type))

	if err := createDirectories(config); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := infrastructure.NewDownloadRepository(ctx, config.Datasource)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	storage, err := infrastructure.NewStorage(ctx, config, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	extractor, err := infrastructure.NewExtractor(config, multiLog, log)
	if err != nil {
		return fmt.Errorf("failed to initialize extractor: %w", err)
	}

	muxer, err := infrastructure.NewMuxer(config.Transcoder, log)
	if err != nil {
		return fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	notifier := infrastructure.NewNotificationQueue(log)
	defer notifier.Close()

	downloadMgr := app.NewDownloadManager(repo, extractor, muxer, storage, notifier, &config.Download, log, multiLog)
	queueMgr := app.NewQueueManager(repo, extractor, downloadMgr, notifier, &config.Download, multiLog, log)

	if err := queueMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue manager: %w", err)
	}

	router := api.SetupRouter(&config.API, api.Services{
		QueueManager:    queueMgr,
		DownloadManager: downloadMgr,
		Notifier:        notifier,
		Logger:          log,
		MultiLogger:     multiLog,
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Progress streams block on the queue until it is closed
	notifier.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := queueMgr.Stop(); err != nil {
		log.Error("Error stopping queue manager", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

func createDirectories(config *domain.Config) error {
	dirs := []string{
		config.Download.TempDir,
		config.Download.LogsDir,
	}
	if config.Storage.Type == "local" {
		dirs = append(dirs, config.Download.MediaDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
