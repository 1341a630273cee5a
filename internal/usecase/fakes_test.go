package usecase

import (
	"context"
	"errors"
	"sync"

	"codetapasya-backend/internal/domain"
)

// fakeUserStore implements every document-store source used by the collector.
type fakeUserStore struct {
	mu sync.Mutex

	profile    *domain.UserProfile
	history    []domain.ChatRecord
	courses    []domain.CourseProgress
	engagement *domain.EngagementStats
	playground *domain.PlaygroundActivity

	profileErr error
	historyErr error
	saveErr    error
	recordErr  error
	block      bool
	stuck      chan struct{}
	panicOn    string

	savedChats   []domain.ChatRecord
	savedMeta    []map[string]string
	interactions []domain.EngagementUpdate
}

func (f *fakeUserStore) GetProfile(ctx context.Context, _ string) (*domain.UserProfile, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.stuck != nil {
		<-f.stuck
		return f.profile, nil
	}
	if f.panicOn == "profile" {
		panic("profile exploded")
	}
	return f.profile, f.profileErr
}

func (f *fakeUserStore) RecentChats(_ context.Context, _ string, limit int) ([]domain.ChatRecord, error) {
	if f.historyErr != nil {
		return []domain.ChatRecord{{Content: "partial"}}, f.historyErr
	}
	if len(f.history) > limit {
		return f.history[len(f.history)-limit:], nil
	}
	return f.history, nil
}

func (f *fakeUserStore) SaveChat(_ context.Context, _ string, rec domain.ChatRecord, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedChats = append(f.savedChats, rec)
	f.savedMeta = append(f.savedMeta, metadata)
	return nil
}

func (f *fakeUserStore) ListCourseProgress(context.Context, string) ([]domain.CourseProgress, error) {
	return f.courses, nil
}

func (f *fakeUserStore) GetEngagement(context.Context, string) (*domain.EngagementStats, error) {
	return f.engagement, nil
}

func (f *fakeUserStore) RecordInteraction(_ context.Context, _ string, update domain.EngagementUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.interactions = append(f.interactions, update)
	return nil
}

func (f *fakeUserStore) GetPlaygroundActivity(context.Context, string) (*domain.PlaygroundActivity, error) {
	return f.playground, nil
}

type fakeTurns struct {
	mu        sync.Mutex
	turns     []domain.ConversationTurn
	appendErr error
	queryErr  error
	appended  []domain.ConversationTurn
}

func (f *fakeTurns) Append(_ context.Context, turn domain.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, turn)
	return nil
}

func (f *fakeTurns) QueryRecent(_ context.Context, _, _ string, limit int) ([]domain.ConversationTurn, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.turns) > limit {
		return f.turns[len(f.turns)-limit:], nil
	}
	return f.turns, nil
}

type fakePreferences struct {
	prefs domain.Preferences
	err   error
	seen  []string
}

func (f *fakePreferences) Observe(_ context.Context, _ string, message string) (domain.Preferences, error) {
	f.seen = append(f.seen, message)
	return f.prefs, f.err
}

var errStore = errors.New("store unavailable")

func allSources(store *fakeUserStore, turns *fakeTurns) CollectorSources {
	return CollectorSources{
		Profiles:   store,
		Chats:      store,
		Courses:    store,
		Engagement: store,
		Playground: store,
		Turns:      turns,
	}
}
