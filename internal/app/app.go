// Package app builds the chat and payment services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"codetapasya-backend/internal/config"
	"codetapasya-backend/internal/integrations/firebaseauth"
	"codetapasya-backend/internal/integrations/firestore"
	"codetapasya-backend/internal/integrations/gemini"
	"codetapasya-backend/internal/integrations/openai"
	"codetapasya-backend/internal/integrations/paramstore"
	"codetapasya-backend/internal/integrations/razorpay"
	"codetapasya-backend/internal/preferences"
	"codetapasya-backend/internal/repository"
	"codetapasya-backend/internal/usecase"
)

// Parameter names, relative to PARAM_PREFIX.
const (
	geminiKeyParam      = "gemini-api-key"
	openAIKeyParam      = "openai-api-key"
	razorpaySecretParam = "razorpay-key-secret"
)

type App struct {
	Chat     *usecase.ChatService
	Payments *usecase.PaymentService
	Tokens   *firebaseauth.Verifier

	closers []func() error
}

// Close releases store connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var (
		getter paramstore.Getter
		dynamo *awsdynamodb.Client
	)
	if cfg.ParamPrefix != "" || cfg.TurnStore == config.TurnStoreDynamoDB {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
			if err != nil {
				return nil, fmt.Errorf("app: parameter store: %w", err)
			}
			getter = params
		}
		if cfg.TurnStore == config.TurnStoreDynamoDB {
			dynamo = awsdynamodb.NewFromConfig(awsCfg)
		}
	}

	turns, err := a.turnStore(cfg, dynamo)
	if err != nil {
		return nil, err
	}

	docs, err := firestore.New(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, docs.Close)

	generator, err := newGenerator(cfg, getter)
	if err != nil {
		return nil, err
	}
	gateway, err := usecase.NewGateway(generator, logger.Named("gateway"))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	sources := usecase.CollectorSources{
		Profiles:   docs,
		Chats:      docs,
		Courses:    docs,
		Engagement: docs,
		Playground: docs,
		Turns:      turns,
	}
	collector := usecase.NewCollector(sources, usecase.CollectorConfig{
		Timeout:         cfg.CollectorTimeout,
		Workers:         cfg.CollectorWorkers,
		TranscriptLimit: cfg.MaxTurnsPerConversation,
	}, logger.Named("collector"))

	tracker, err := a.preferenceTracker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Chat, err = usecase.NewChatService(usecase.ChatDeps{
		Collector:   collector,
		Gateway:     gateway,
		Sources:     sources,
		Preferences: tracker,
		Logger:      logger.Named("chat"),
	}, usecase.ChatConfig{
		MaxMessageLen:    cfg.MaxMessageLength,
		WriteBackTimeout: cfg.WriteBackTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Payments, err = newPaymentService(cfg, getter, logger.Named("payments"))
	if err != nil {
		return nil, err
	}

	a.Tokens, err = firebaseauth.NewVerifier(&http.Client{Timeout: 10 * time.Second}, cfg.FirebaseProjectID)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	ok = true
	return a, nil
}

func (a *App) turnStore(cfg *config.Config, dynamo *awsdynamodb.Client) (usecase.TurnStore, error) {
	switch cfg.TurnStore {
	case config.TurnStoreSQLite:
		store, err := repository.NewSQLiteTurnStore(cfg.SQLitePath, cfg.MaxTurnsPerConversation)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.TurnStoreDynamoDB:
		if dynamo == nil {
			return nil, errors.New("app: dynamodb client not configured")
		}
		store, err := repository.NewDynamoTurnStore(dynamo, cfg.StateTable, cfg.MaxTurnsPerConversation)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unsupported turn store %q", cfg.TurnStore)
	}
}

func newGenerator(cfg *config.Config, getter paramstore.Getter) (usecase.Generator, error) {
	switch cfg.GenerationProvider {
	case config.ProviderGemini:
		key := paramstore.NewSecret(getter, geminiKeyParam, cfg.GeminiAPIKey)
		client, err := gemini.NewClient(key, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return client, nil
	case config.ProviderOpenAI:
		key := paramstore.NewSecret(getter, openAIKeyParam, cfg.OpenAIAPIKey)
		var opts []openai.Option
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		client, err := openai.NewClient(key, cfg.OpenAIModel, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("app: unsupported generation provider %q", cfg.GenerationProvider)
	}
}

func (a *App) preferenceTracker(ctx context.Context, cfg *config.Config) (*preferences.Tracker, error) {
	var store preferences.Store
	switch cfg.PreferencesStore {
	case config.PreferencesRedis:
		rdb, err := preferences.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		redisStore, err := preferences.NewRedisStore(rdb)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		store = redisStore
	default:
		store = preferences.NewMemoryStore(preferences.WithMaxEntries(cfg.PreferencesMaxEntries))
	}
	tracker, err := preferences.NewTracker(store)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return tracker, nil
}

func newPaymentService(cfg *config.Config, getter paramstore.Getter, logger *zap.Logger) (*usecase.PaymentService, error) {
	verifier, err := razorpay.NewVerifier(paramstore.NewSecret(getter, razorpaySecretParam, cfg.RazorpayKeySecret))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	svc, err := usecase.NewPaymentService(verifier, logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return svc, nil
}
