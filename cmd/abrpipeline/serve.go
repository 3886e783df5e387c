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

	"abr-pipeline/internal/orchestrator"
	"abr-pipeline/internal/platform/logger"
	"abr-pipeline/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the packaging workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cc *commandContext) error {
	s := cc.settings
	log := cc.logger()

	if parent == nil {
		parent = context.Background()
	}
	p, err := buildPipeline(parent, s, cc.collections, log)
	if err != nil {
		return err
	}
	defer p.Close()

	h := orchestrator.NewHandler(p.orch, log)
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(p.metrics))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		p.metrics.Handler(func() {
			p.metrics.SetActiveAssets(p.orch.ActiveAssets())
			p.metrics.SetPoolStats(p.orch.PoolStats())
		}).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	h.Routes(r)

	addr := ":" + s.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server starting",
		slog.String("port", s.Port),
		slog.String("storage_backend", s.StorageBackend),
		slog.String("transcoder", s.Transcoder),
		slog.Int("workers", s.Workers),
		slog.Int("collections", len(cc.collections)),
		slog.String("log_level", s.LogLevel),
	)

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received, draining connections")
	case err := <-errCh:
		log.Error("server error", slog.String("error", err.Error()))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := p.orch.Shutdown(ctx); err != nil {
		log.Error("pipeline shutdown error", slog.String("error", err.Error()))
		return err
	}

	log.Info("server stopped")
	return nil
}
