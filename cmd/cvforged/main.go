package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cvforge/backend/internal/metrics"
	"github.com/cvforge/backend/internal/orchestrator"
	"github.com/cvforge/backend/pkg/config"
	appLogger "github.com/cvforge/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting cvforge orchestration daemon")

	metrics.Init()

	orch, err := orchestrator.New(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize orchestration layer", zap.Error(err))
	}
	defer orch.Close()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:         cfg.Metrics.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			appLogger.Info("Metrics endpoint listening", zap.String("address", cfg.Metrics.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Fatal("Metrics server failed", zap.Error(err))
			}
		}()
		defer server.Shutdown(context.Background())
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down gracefully...")
}
