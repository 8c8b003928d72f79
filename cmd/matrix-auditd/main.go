// Command matrix-auditd serves the settlement matrix audit trail API.
package main

import (
	"context"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matrixaudit/internal/adapters/audithttp"
	"matrixaudit/internal/adapters/reports"
	"matrixaudit/internal/blob"
	"matrixaudit/internal/core"
)

func main() {
	if err := run(); err != nil {
		slog.Error("matrix-auditd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(slogger)
	logger := core.NewSlogLogger(slogger)

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	promMetrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return err
	}
	expvarMetrics := core.NewExpvarMetricsRecorder("matrixaudit")

	service := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.CombineMetricsRecorders(promMetrics, expvarMetrics)),
	)

	blobStore, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	worker := reports.NewWorker(service, blobStore, logger)
	worker.Start()

	handler := audithttp.NewHandler(service)
	handler.Archives = worker

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())

	server := &http.Server{
		Addr:              listenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("matrix-auditd listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func listenAddr() string {
	if addr := os.Getenv("MATRIXAUDIT_HTTP_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("MATRIXAUDIT_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
