package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nselftv/mediastore/internal/logger"
	"github.com/nselftv/mediastore/pkg/config"
	"github.com/nselftv/mediastore/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Configure logger
	logger.SetLevel(cfg.Logging.Level)

	fmt.Println("mediastore - Tiered Media Storage")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	if cfg.Server.MetricsEnabled {
		metrics.InitRegistry()
		go serveMetrics(cfg.Server.MetricsListen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage tiers and gateway. The local tier doubles as the blob cache
	// for the download manager.
	gw, local, err := config.CreateGateway(ctx, &cfg.Storage, metrics.NewReplicationMetrics())
	if err != nil {
		log.Fatalf("Failed to create storage gateway: %v", err)
	}

	quotaManager, err := config.CreateQuotaManager(&cfg.Quota)
	if err != nil {
		log.Fatalf("Failed to create quota manager: %v", err)
	}

	downloads, err := config.CreateDownloadManager(ctx, &cfg.Downloads, local, quotaManager, metrics.NewTransferMetrics())
	if err != nil {
		log.Fatalf("Failed to create download manager: %v", err)
	}

	evictor, err := config.CreateEvictor(&cfg.Eviction, quotaManager, downloads, metrics.NewEvictionMetrics())
	if err != nil {
		log.Fatalf("Failed to create evictor: %v", err)
	}

	evictor.Start()

	logger.Info("mediastore is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := evictor.Stop(shutdownCtx); err != nil {
		logger.Warn("Evictor shutdown: %v", err)
	}

	// Persists in-flight downloads as paused so they survive restart
	if err := downloads.Close(shutdownCtx); err != nil {
		logger.Warn("Download manager shutdown: %v", err)
	}

	// Drains the replication queue within the shutdown timeout
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown: %v", err)
	}

	logger.Info("Shutdown complete")
}

// serveMetrics exposes the Prometheus registry over HTTP.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server error: %v", err)
	}
}
