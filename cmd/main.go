package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"feedstream/internal/config"
	"feedstream/internal/database"
	"feedstream/internal/feed"
	"feedstream/internal/ingest"
	"feedstream/internal/ratelimiter"
	"feedstream/internal/scheduler"
	"feedstream/internal/server"
	"feedstream/internal/websub"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := pflag.String("config", "", "path to a YAML config file")
	listenAddr := pflag.String("listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err,
			"configPath", *configPath)

		return
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	tracker := websub.NewTracker(log)
	hubClient := websub.NewClient(websub.ClientConfig{
		CallbackURL:  cfg.CallbackURL,
		VerifyToken:  cfg.VerifyToken,
		Secret:       cfg.HubSecret,
		LeaseSeconds: cfg.LeaseSeconds,
		Timeout:      cfg.HTTPTimeout,
	}, ratelimiter.New(cfg.HubRequestInterval, log), tracker, log)

	coordinator := ingest.New(
		db,
		feed.NewFetcher(cfg.HTTPTimeout, log),
		feed.NewParser(cfg.DefaultHub, cfg.AlwaysUseDefaultHub),
		hubClient,
		ingest.Config{HubSecret: cfg.HubSecret},
		log,
	)

	verifier := websub.NewVerifier(db, tracker, cfg.VerifyToken, log)

	sched := scheduler.New(ctx, cfg.RenewalSpec, coordinator, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.RenewalSpec,
			"timezone", scheduler.Timezone)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.RenewalSpec,
		"timezone", scheduler.Timezone)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(coordinator, verifier, db, tracker, cfg.PostsPageSize, log).Handler(),
		ReadHeaderTimeout: cfg.HTTPTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	log.InfoContext(ctx, "Server is started",
		"listenAddr", cfg.ListenAddr,
		"callbackURL", cfg.CallbackURL)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
	case err = <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "Server is failed",
				"error", err,
				"listenAddr", cfg.ListenAddr)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(shutdownCtx, "Failed to shut down server",
			"error", err)
	}

	log.InfoContext(shutdownCtx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())
}
