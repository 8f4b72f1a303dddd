package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/api"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/completion"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/config"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/db"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/logging"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/metrics"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/ratelimit"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/registry"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/ws"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "roomsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening catalog %s: %w", cfg.DBPath, err)
	}
	defer database.Close()
	logger.Info("db.opened", "path", cfg.DBPath)

	m := metrics.New()

	rooms := registry.New(cfg.RegistryConfig(), logger, m, database)
	rooms.Start()
	defer rooms.Close()

	gateway := ws.NewGateway(rooms, cfg.GatewayConfig(), logger, m)

	var engine completion.Engine = completion.HeuristicEngine{}
	if cfg.Completion.EngineURL != "" {
		engine = completion.NewHTTPEngine(cfg.Completion.EngineURL, cfg.Completion.Timeout)
		logger.Info("completion.engine", "url", cfg.Completion.EngineURL)
	}
	proxy := completion.NewProxy(engine, cfg.Completion.Timeout, logger, m)

	completionLimit := ratelimit.NewClientLimiters(cfg.Completion.RequestsPerSecond, cfg.Completion.Burst)
	defer completionLimit.Stop()

	router := api.NewRouter(api.New(rooms, database, proxy, logger), api.RouterConfig{
		CORSAllow:       cfg.CORSAllow,
		Gateway:         gateway,
		Metrics:         m,
		CompletionLimit: completionLimit,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server.crash", "err", err)
			return err
		}
	}
	logger.Info("server.shutdown.start")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown", "err", err)
	}

	// Hijacked sockets outlive Shutdown; closing the rooms ends them
	rooms.Close()

	logger.Info("server.shutdown.complete")
	return nil
}
