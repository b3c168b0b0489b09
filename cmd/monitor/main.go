package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yuchenw/deepresearch/internal/buildconfig"
	"github.com/yuchenw/deepresearch/internal/config"
	"github.com/yuchenw/deepresearch/internal/monitor"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	server := monitor.NewServer(logger)

	addr := config.MonitorAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: server.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("monitor starting",
			zap.String("addr", addr),
			zap.String("version", buildconfig.Version()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("monitor failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down monitor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("monitor forced to shutdown", zap.Error(err))
	}

	logger.Info("monitor stopped")
}
