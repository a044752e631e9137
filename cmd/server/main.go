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

	"github.com/manpreetbhatti/coderelay/internal/api"
	"github.com/manpreetbhatti/coderelay/internal/config"
	"github.com/manpreetbhatti/coderelay/internal/ledger"
	"github.com/manpreetbhatti/coderelay/internal/metrics"
	"github.com/manpreetbhatti/coderelay/internal/relay"
	"github.com/manpreetbhatti/coderelay/internal/retention"
	"github.com/manpreetbhatti/coderelay/internal/room"
	"github.com/manpreetbhatti/coderelay/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load local .env (dev only)
	_ = godotenv.Load()

	var configPath, addr, ledgerPath string
	flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("RELAY_CONFIG"), "path to YAML config file")
	flagSet.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flagSet.StringVar(&ledgerPath, "ledger", "", "session ledger path (overrides config)")
	noLedger := flagSet.Bool("no-ledger", false, "disable the session ledger")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}
	if *noLedger {
		cfg.Ledger.Path = ""
	}

	logger := config.NewLogger(cfg.Env, os.Stdout)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	observers := room.Observers{m}

	var history api.History
	if cfg.Ledger.Path != "" {
		l, err := ledger.New(cfg.Ledger.Path, logger)
		if err != nil {
			return err
		}
		defer l.Close()
		observers = append(observers, l)
		history = l

		pruner := retention.New(l, retention.Config{
			Interval: cfg.Ledger.PruneInterval,
			MaxAge:   cfg.Ledger.Retention,
		}, logger)
		pruner.Start()
		defer pruner.Stop()
	} else {
		logger.Info("ledger.disabled")
	}

	registry := room.NewRegistry(observers)
	dispatcher := relay.NewDispatcher(registry, logger, m)

	hub := ws.NewHub(dispatcher, logger, m, cfg.Transport, cfg.AllowedOrigins)
	defer hub.Close()

	apiHandler := api.New(registry, history, logger)
	router := apiHandler.Router(cfg.AllowedOrigins, api.Endpoints{
		WebSocket: hub.ServeWs,
		Metrics:   m.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		logger.Info("server.endpoints",
			"websocket", "/ws",
			"health", "GET /health",
			"stats", "GET /api/stats",
			"rooms", "GET /api/rooms, GET /api/rooms/{id}",
			"history", "GET /api/history, GET /api/history/{id}",
			"metrics", "GET /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

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
		logger.Error("server.shutdown", "err", err)
	}

	logger.Info("server.shutdown.complete", "rooms_dropped", registry.Count())
	return nil
}
