package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"codetapasya-backend/handler"
	"codetapasya-backend/internal/app"
	"codetapasya-backend/internal/config"
	"codetapasya-backend/internal/logging"
)

func main() {
	ctx := context.Background()

	// ---- Configuration ----
	cfg, err := config.Parse()
	if err != nil {
		logging.Must("production").Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	logger := logging.Must(cfg.AppMode)
	defer func() { _ = logger.Sync() }()

	// ---- Services ----
	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", zap.Error(err))
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewChatHandler(services.Chat, services.Tokens, logger.Named("handler"))
	if err != nil {
		logger.Error("failed to create handler", zap.Error(err))
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
