package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"codetapasya-backend/internal/config"
	"codetapasya-backend/internal/domain"
	"codetapasya-backend/internal/integrations/gemini"
	"codetapasya-backend/internal/integrations/openai"
	"codetapasya-backend/internal/integrations/razorpay"
	"codetapasya-backend/internal/repository"
	"codetapasya-backend/internal/usecase"
)

func TestNewGenerator(t *testing.T) {
	gen, err := newGenerator(&config.Config{GenerationProvider: config.ProviderGemini, GeminiAPIKey: "k"}, nil)
	require.NoError(t, err)
	require.IsType(t, &gemini.Client{}, gen)

	gen, err = newGenerator(&config.Config{
		GenerationProvider: config.ProviderOpenAI,
		OpenAIAPIKey:       "k",
		OpenAIModel:        "gpt-4o-mini",
		OpenAIBaseURL:      "http://localhost:1234/v1",
	}, nil)
	require.NoError(t, err)
	require.IsType(t, &openai.Client{}, gen)

	_, err = newGenerator(&config.Config{GenerationProvider: "yandex"}, nil)
	require.Error(t, err)
}

func TestTurnStore_SQLite(t *testing.T) {
	a := &App{}
	store, err := a.turnStore(&config.Config{
		TurnStore:               config.TurnStoreSQLite,
		SQLitePath:              filepath.Join(t.TempDir(), "turns.db"),
		MaxTurnsPerConversation: 2,
	}, nil)
	require.NoError(t, err)
	require.IsType(t, &repository.SQLiteTurnStore{}, store)
	require.Len(t, a.closers, 1)

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, domain.ConversationTurn{
			SubjectID: "u1", ConversationID: "c1", Role: domain.RoleUser,
			Content: "m", Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	turns, err := store.QueryRecent(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.NoError(t, a.Close())
}

func TestTurnStore_DynamoRequiresClient(t *testing.T) {
	a := &App{}
	_, err := a.turnStore(&config.Config{TurnStore: config.TurnStoreDynamoDB, StateTable: "t"}, nil)
	require.Error(t, err)
}

func TestPreferenceTracker_Memory(t *testing.T) {
	a := &App{}
	tracker, err := a.preferenceTracker(context.Background(), &config.Config{PreferencesStore: config.PreferencesMemory})
	require.NoError(t, err)

	p, err := tracker.Observe(context.Background(), "u1", "new to python")
	require.NoError(t, err)
	require.Equal(t, []string{"python"}, p.KnownLanguages)
	require.Empty(t, a.closers)
}

func TestNewPaymentService_StaticSecret(t *testing.T) {
	svc, err := newPaymentService(&config.Config{RazorpayKeySecret: "test_secret"}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := svc.Verify(context.Background(), usecase.PaymentInput{
		SubjectID: "u1",
		PaymentID: "pay_456",
		OrderID:   "order_123",
		Signature: razorpay.Sign("test_secret", "order_123", "pay_456"),
		Plan:      "monthly",
		Amount:    9900,
	})
	require.NoError(t, err)
	require.Equal(t, usecase.PaymentTypeSubscription, out.PaymentType)
}

func TestClose_ReverseOrderAndJoinsErrors(t *testing.T) {
	var order []int
	a := &App{closers: []func() error{
		func() error { order = append(order, 1); return errors.New("first") },
		func() error { order = append(order, 2); return nil },
	}}
	err := a.Close()
	require.ErrorContains(t, err, "first")
	require.Equal(t, []int{2, 1}, order)
}
