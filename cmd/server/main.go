package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playout-orchestrator/internal/platform/config"
	"playout-orchestrator/internal/platform/logger"
	"playout-orchestrator/internal/platform/metrics"
	"playout-orchestrator/internal/playout"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.LoadServer()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	st, err := openStore(cfg)
	if err != nil {
		log.Error("open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if cfg.FixturePath != "" {
		fx, err := rundown.LoadFixture(cfg.FixturePath)
		if err != nil {
			log.Error("load fixture", "path", cfg.FixturePath, "error", err)
			os.Exit(1)
		}
		if err := playout.Seed(context.Background(), st, fx); err != nil {
			log.Error("seed fixture", "path", cfg.FixturePath, "error", err)
			os.Exit(1)
		}
		log.Info("fixture seeded", "path", cfg.FixturePath, "playlist_id", fx.Playlist.ID)
	}

	var met *metrics.Metrics
	if cfg.MetricsEnabled {
		met = metrics.New()
	}
	worker := playout.NewWorker(cfg.JobTimeout, logger.Component(log, "worker"), met)
	svc := playout.NewService(st, worker, logger.Component(log, "playout"), met)
	h := playout.NewHandler(svc, logger.Component(log, "http"), met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	if met != nil {
		r.Use(metrics.RequestMiddleware(met))
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			met.Handler(func() {
				n, err := svc.ActivePlaylists(r.Context())
				if err != nil {
					log.Warn("count active playlists", "error", err)
					return
				}
				met.SetActivePlaylists(n)
			}).ServeHTTP(w, r)
		})
	}
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"store_driver", cfg.StoreDriver,
		"job_timeout", cfg.JobTimeout.String(),
		"metrics", cfg.MetricsEnabled,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func openStore(cfg config.Server) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
