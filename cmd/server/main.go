package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/config"
	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/Tyrowin/gochat-relay/internal/logger"
	"github.com/Tyrowin/gochat-relay/internal/messagelog"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gochat relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(os.Stdout, cfg.LogLevel)
	log.Info("starting GoChat relay", "addr", cfg.Port, "data_dir", cfg.DataDir)

	db, err := storage.Open(storage.Options{Dir: cfg.DataDir, Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("close badger", "error", err)
		}
	}()

	clk := clock.New()

	messages, err := messagelog.NewBadgerLog(db, log, clk)
	if err != nil {
		return err
	}
	defer func() {
		if err := messages.Close(); err != nil {
			log.Error("close message log", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	users := identity.NewStore(db, log, clk)
	authn := auth.NewAuthenticator([]byte(cfg.TokenSecret), auth.WithClock(clk), auth.WithTTL(cfg.TokenTTL))

	hubCfg := server.HubConfigFrom(cfg)
	hubCfg.Clock = clk
	hub := server.NewHub(messages, hubCfg, rec, log)

	svc := chat.NewService(messages, hub, rec, log, cfg.HistoryLimit)
	api := server.NewAPI(hub, svc, users, authn, server.NewOriginPolicy(cfg.AllowedOrigins, log), log)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(api, reg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		var errs []error
		if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited cleanly")
	return nil
}
