// Package main is the entry point for the notebook playground server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (internal/config: defaults, YAML file, env vars)
// 2. Create dependencies (logger, execution service client, optional container)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/runner, etc.).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/notebook-playground/internal/config"
	"github.com/sakif/notebook-playground/internal/executor/docker"
	"github.com/sakif/notebook-playground/internal/executor/remote"
	"github.com/sakif/notebook-playground/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := newLogger(cfg.Log)

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if cfg.Storage.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. EXECUTION SERVICE ===
	// With the launcher enabled the service runs in a local container and
	// executor.base_url is ignored.
	var launcher *docker.Launcher
	baseURL := cfg.Executor.BaseURL
	if cfg.Launcher.Enabled {
		launcher, err = startLauncher(cfg, logger)
		if err != nil {
			logger.Error("failed to start execution service container", slog.String("error", err.Error()))
			os.Exit(1)
		}
		baseURL = launcher.BaseURL()
	}

	backend, err := remote.New(remote.Config{
		BaseURL:        baseURL,
		RequestTimeout: cfg.Executor.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Error("invalid execution service configuration", slog.String("error", err.Error()))
		closeLauncher(launcher, logger)
		os.Exit(1)
	}

	if err := backend.Health(context.Background()); err != nil {
		// Not fatal. Runs report the transport failure until it is up.
		logger.Warn("execution service is not reachable yet",
			slog.String("url", baseURL),
			slog.String("error", err.Error()),
		)
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT secret not set, authentication is disabled")
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(server.Config{
		Port:            cfg.Server.Port,
		DBPath:          cfg.Storage.Path,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ExecTimeout:     cfg.Executor.Timeout,
		SettleDelay:     cfg.Runner.SettleDelay,
		CacheSize:       cfg.Storage.CacheSize,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		JWTSecret:       cfg.Auth.JWTSecret,
	}, logger, backend)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		closeLauncher(launcher, logger)
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	err = srv.Start()
	closeLauncher(launcher, logger)
	if err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Level) // already validated
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func startLauncher(cfg *config.Config, logger *slog.Logger) (*docker.Launcher, error) {
	dcfg := docker.DefaultConfig()
	dcfg.Image = cfg.Launcher.Image
	dcfg.Pull = cfg.Launcher.Pull
	dcfg.HostPort = cfg.Launcher.HostPort
	dcfg.StartTimeout = cfg.Launcher.StartTimeout
	dcfg.MemoryLimit = cfg.Launcher.MemoryMB * 1024 * 1024
	// The service's own limit stays under the client timeout.
	if limit := cfg.Executor.Timeout - cfg.Executor.Timeout/10; limit < dcfg.CodeTimeout {
		dcfg.CodeTimeout = limit
	}

	launcher, err := docker.New(dcfg, logger)
	if err != nil {
		return nil, err
	}

	probe, err := remote.New(remote.Config{BaseURL: launcher.BaseURL(), RequestTimeout: cfg.Executor.RequestTimeout}, logger)
	if err != nil {
		launcher.Close()
		return nil, err
	}
	if err := launcher.Start(context.Background(), probe.Health); err != nil {
		launcher.Close()
		return nil, err
	}
	return launcher, nil
}

func closeLauncher(l *docker.Launcher, logger *slog.Logger) {
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		logger.Warn("failed to close docker client", slog.String("error", err.Error()))
	}
}
