package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xerpi/FTPVita/internal/logger"
	"github.com/xerpi/FTPVita/internal/ratelimiter"
	"github.com/xerpi/FTPVita/pkg/config"
	"github.com/xerpi/FTPVita/pkg/ftp"
	"github.com/xerpi/FTPVita/pkg/metrics"
	"github.com/xerpi/FTPVita/pkg/mount"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure logger (CLI flag wins over config file)
	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("FTPVita - FTP Server")
	logger.Info("Log level set to: %s", level)

	// Metrics endpoint (optional)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		logger.Info("Metrics available at http://localhost:%d/metrics", metricsServer.Port())
	}

	// Build the mount table from configuration
	mounts := mount.NewTable()
	var closers []io.Closer
	for i := range cfg.Mounts {
		fs, err := config.CreateMountFs(ctx, &cfg.Mounts[i])
		if err != nil {
			log.Fatalf("Failed to create mount %q: %v", cfg.Mounts[i].Name, err)
		}
		if closer, ok := fs.(io.Closer); ok {
			closers = append(closers, closer)
		}
		if err := mounts.Add(cfg.Mounts[i].Name, fs); err != nil {
			log.Fatalf("Failed to register mount %q: %v", cfg.Mounts[i].Name, err)
		}
		logger.Info("Mount added: %s (%s)", mount.Normalize(cfg.Mounts[i].Name), cfg.Mounts[i].Type)
	}
	defer func() {
		for _, closer := range closers {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close mount backend: %v", err)
			}
		}
	}()

	var opts []ftp.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, ftp.WithMetrics(metrics.NewFTPMetrics()))
	}
	if cfg.Server.BandwidthLimit > 0 {
		opts = append(opts, ftp.WithBandwidthLimiter(ratelimiter.New(cfg.Server.BandwidthLimit)))
		logger.Info("Bandwidth limit: %d bytes/s", cfg.Server.BandwidthLimit)
	}

	srv := ftp.New(ftp.Config{
		Port:               cfg.Server.Port,
		AdvertisedIP:       cfg.Server.AdvertisedIP,
		ResponseDelay:      cfg.Server.ResponseDelay,
		TransferBufferSize: cfg.Server.TransferBufferSize,
		OwnerName:          cfg.Server.OwnerName,
		GroupName:          cfg.Server.GroupName,
	}, mounts, opts...)

	srv.SetInfoLog(func(msg string) { logger.Info("%s", msg) })
	srv.SetDebugLog(func(msg string) { logger.Debug("%s", msg) })

	ip, port, err := srv.Start()
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	logger.Info("Server is running on %s:%d. Press Ctrl+C to stop.", ip, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, initiating graceful shutdown...")
	cancel()

	srv.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(context.Background()); err != nil {
			logger.Error("Metrics server shutdown error: %v", err)
		}
	}

	logger.Info("Server stopped gracefully")
}
