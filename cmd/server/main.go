package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	slogctx "github.com/veqryn/slog-context"

	"github.com/adnanbaig/browserfarm/internal/api"
	"github.com/adnanbaig/browserfarm/internal/config"
	"github.com/adnanbaig/browserfarm/internal/dispatch"
	"github.com/adnanbaig/browserfarm/internal/engine"
	"github.com/adnanbaig/browserfarm/internal/manager"
	"github.com/adnanbaig/browserfarm/internal/metrics"
	"github.com/adnanbaig/browserfarm/internal/proxy"
	"github.com/adnanbaig/browserfarm/internal/ratelimit"
	"github.com/adnanbaig/browserfarm/internal/store"
)

func main() {
	handler := slogctx.NewHandler(slog.NewJSONHandler(os.Stderr, nil), nil)
	log := slog.New(handler)
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using system environment variables")
	}

	settings, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := slogctx.NewCtx(context.Background(), log)

	launcher, err := engine.NewDockerLauncher(settings.Image)
	if err != nil {
		log.Error("failed to create engine launcher", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer launcher.Close()

	pullCtx, cancelPull := context.WithTimeout(ctx, 5*time.Minute)
	if err := launcher.EnsureImage(pullCtx); err != nil {
		cancelPull()
		log.Error("failed to ensure engine image", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cancelPull()
	log.Info("engine image ready", slog.String("image", settings.Image))

	sessionStore, err := store.New(settings.StateDir)
	if err != nil {
		log.Error("failed to open session store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	collector := metrics.NewCollector(settings.MetricsHistory)
	mgr := manager.New(settings, launcher, sessionStore, collector)

	// Reconciliation must finish before the API accepts lifecycle calls
	if err := mgr.Reconcile(ctx); err != nil {
		log.Error("session reconciliation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mgr.StartReaper(ctx)

	dispatcher := dispatch.New(mgr)
	proxyServer := proxy.NewServer(mgr)
	rateLimiter := ratelimit.NewLimiter(settings.RequestsPerHour, settings.RequestBurst)

	handlers := api.NewHandler(mgr, dispatcher)
	router := handlers.SetupRoutes(proxyServer, rateLimiter, settings.RequestsPerHour)

	srv := &http.Server{
		Addr:         settings.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		log.Info("server starting", slog.String("addr", settings.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	mgr.Shutdown(shutdownCtx)
	log.Info("server stopped")
}
