package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"codetapasya-backend/handler"
	"codetapasya-backend/internal/integrations/firebaseauth"
	"codetapasya-backend/internal/integrations/paramstore"
	"codetapasya-backend/internal/integrations/razorpay"
	"codetapasya-backend/internal/logging"
	"codetapasya-backend/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := logging.Must(os.Getenv("APP_MODE"))
	defer func() { _ = logger.Sync() }()

	projectID := mustEnv(logger, "FIREBASE_PROJECT_ID")

	var getter paramstore.Getter
	if prefix := os.Getenv("PARAM_PREFIX"); prefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", zap.Error(err))
			os.Exit(1)
		}
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), prefix)
		if err != nil {
			logger.Error("failed to create SSM client", zap.Error(err))
			os.Exit(1)
		}
		getter = params
	}

	secret := paramstore.NewSecret(getter, "razorpay-key-secret", os.Getenv("RAZORPAY_KEY_SECRET"))
	verifier, err := razorpay.NewVerifier(secret)
	if err != nil {
		logger.Error("failed to create signature verifier", zap.Error(err))
		os.Exit(1)
	}
	payments, err := usecase.NewPaymentService(verifier, logger.Named("payments"))
	if err != nil {
		logger.Error("failed to create payment service", zap.Error(err))
		os.Exit(1)
	}
	tokens, err := firebaseauth.NewVerifier(&http.Client{Timeout: 10 * time.Second}, projectID)
	if err != nil {
		logger.Error("failed to create token verifier", zap.Error(err))
		os.Exit(1)
	}

	h, err := handler.NewPaymentHandler(payments, tokens, logger.Named("handler"))
	if err != nil {
		logger.Error("failed to create handler", zap.Error(err))
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(logger *zap.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Error("required environment variable is not set", zap.String("key", key))
		os.Exit(1)
	}
	return v
}
