package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"codetapasya-backend/internal/app"
	"codetapasya-backend/internal/config"
	"codetapasya-backend/internal/httpapi"
	"codetapasya-backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Must("development").Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	logger := logging.Must(cfg.AppMode)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("failed to close services", zap.Error(err))
		}
	}()

	router, err := httpapi.NewRouter(httpapi.Deps{
		Chat:           services.Chat,
		Payments:       services.Payments,
		Tokens:         services.Tokens,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.Named("http"),
	})
	if err != nil {
		logger.Error("failed to build router", zap.Error(err))
		os.Exit(1)
	}

	// No write timeout: streamed replies hold the connection open.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.Bool("dev", cfg.IsDevelopment()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
