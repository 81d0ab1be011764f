// Package main provides the entry point for the surfboard server.
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

	"github.com/surfboard-io/surfboard/internal/server"
	"github.com/surfboard-io/surfboard/pkg/gateway"
)

// shutdownTimeout bounds the graceful drain: in-flight HTTP requests,
// then session teardown with their browser contexts.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address (overrides the config file)")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

// loadConfig resolves configuration: a file when -config is given,
// SURFBOARD_* environment variables otherwise, with the address flag
// overriding both.
func loadConfig(opts serverOptions) (*gateway.Config, error) {
	cfg := gateway.FromEnv()
	if opts.configPath != "" {
		var err error
		cfg, err = gateway.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	if cfg.Server.Version == gateway.DefaultVersion {
		cfg.Server.Version = server.Version
	}
	return cfg, nil
}

// newLogger builds the process-wide JSON logger.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("surfboard version %s\n", server.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	ctx := setupSignalHandler()

	gw, err := gateway.New(gateway.WithConfig(cfg), gateway.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Handler(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	return shutdown(gw, httpServer, serveErr)
}

// shutdown drains in two phases: readiness flips first so load
// balancers stop routing new work, then the listener closes and the
// gateway releases its sessions.
func shutdown(gw *gateway.Gateway, httpServer *http.Server, serveErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	gw.Health().MarkDraining()
	if err := httpServer.Shutdown(ctx); err != nil {
		gw.Logger().Warn("http shutdown incomplete", "error", err)
	}
	if err := gw.Close(ctx); err != nil {
		gw.Logger().Warn("gateway close incomplete", "error", err)
	}
	return serveErr
}
