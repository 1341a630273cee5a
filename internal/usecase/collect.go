package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codetapasya-backend/internal/domain"
)

const (
	defaultCollectorTimeout = 2 * time.Second
	defaultCollectorWorkers = 3
	defaultHistoryLimit     = 10
	defaultTranscriptLimit  = 50
)

type ProfileSource interface {
	GetProfile(ctx context.Context, subjectID string) (*domain.UserProfile, error)
}

type ChatLog interface {
	RecentChats(ctx context.Context, subjectID string, limit int) ([]domain.ChatRecord, error)
	SaveChat(ctx context.Context, subjectID string, rec domain.ChatRecord, metadata map[string]string) error
}

type CourseSource interface {
	ListCourseProgress(ctx context.Context, subjectID string) ([]domain.CourseProgress, error)
}

type EngagementStore interface {
	GetEngagement(ctx context.Context, subjectID string) (*domain.EngagementStats, error)
	RecordInteraction(ctx context.Context, subjectID string, update domain.EngagementUpdate) error
}

type PlaygroundSource interface {
	GetPlaygroundActivity(ctx context.Context, subjectID string) (*domain.PlaygroundActivity, error)
}

type TurnStore interface {
	Append(ctx context.Context, turn domain.ConversationTurn) error
	QueryRecent(ctx context.Context, subjectID, conversationID string, limit int) ([]domain.ConversationTurn, error)
}

// CollectorSources groups the stores read per request. A nil source is
// treated as one that always returns nothing.
type CollectorSources struct {
	Profiles   ProfileSource
	Chats      ChatLog
	Courses    CourseSource
	Engagement EngagementStore
	Playground PlaygroundSource
	Turns      TurnStore
}

type CollectorConfig struct {
	Timeout         time.Duration
	Workers         int
	HistoryLimit    int
	TranscriptLimit int
}

// Signals is the combined collector output. Missing slices are nil and
// missing documents are nil pointers.
type Signals struct {
	Profile    *domain.UserProfile
	History    []domain.ChatRecord
	Courses    []domain.CourseProgress
	Engagement *domain.EngagementStats
	Playground *domain.PlaygroundActivity
	Transcript []domain.ConversationTurn
}

// Collector fans out the per-request reads on a bounded pool. A failing or
// slow source is logged and contributes its zero value.
type Collector struct {
	src    CollectorSources
	cfg    CollectorConfig
	logger *zap.Logger
}

func NewCollector(src CollectorSources, cfg CollectorConfig, logger *zap.Logger) *Collector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCollectorTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultCollectorWorkers
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.TranscriptLimit <= 0 {
		cfg.TranscriptLimit = defaultTranscriptLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{src: src, cfg: cfg, logger: logger}
}

func (c *Collector) Collect(ctx context.Context, subjectID, conversationID string) Signals {
	var out Signals
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)

	if src := c.src.Profiles; src != nil {
		collectInto(ctx, c, &g, "profile", subjectID, &out.Profile, func(ctx context.Context) (*domain.UserProfile, error) {
			return src.GetProfile(ctx, subjectID)
		})
	}
	if src := c.src.Chats; src != nil {
		collectInto(ctx, c, &g, "chat_history", subjectID, &out.History, func(ctx context.Context) ([]domain.ChatRecord, error) {
			return src.RecentChats(ctx, subjectID, c.cfg.HistoryLimit)
		})
	}
	if src := c.src.Courses; src != nil {
		collectInto(ctx, c, &g, "courses", subjectID, &out.Courses, func(ctx context.Context) ([]domain.CourseProgress, error) {
			return src.ListCourseProgress(ctx, subjectID)
		})
	}
	if src := c.src.Engagement; src != nil {
		collectInto(ctx, c, &g, "engagement", subjectID, &out.Engagement, func(ctx context.Context) (*domain.EngagementStats, error) {
			return src.GetEngagement(ctx, subjectID)
		})
	}
	if src := c.src.Playground; src != nil {
		collectInto(ctx, c, &g, "playground", subjectID, &out.Playground, func(ctx context.Context) (*domain.PlaygroundActivity, error) {
			return src.GetPlaygroundActivity(ctx, subjectID)
		})
	}
	if src := c.src.Turns; src != nil && conversationID != "" {
		collectInto(ctx, c, &g, "transcript", subjectID, &out.Transcript, func(ctx context.Context) ([]domain.ConversationTurn, error) {
			return src.QueryRecent(ctx, subjectID, conversationID, c.cfg.TranscriptLimit)
		})
	}

	_ = g.Wait()
	return out
}

type fetchResult[T any] struct {
	val T
	err error
}

// collectInto schedules fetch on g and stores its value in dst on success.
// The fetch runs on its own goroutine so a source that ignores ctx is
// abandoned at the deadline; its late result lands in a buffered channel
// nobody reads, and dst is never written after the deadline.
func collectInto[T any](ctx context.Context, c *Collector, g *errgroup.Group, name, subjectID string, dst *T, fetch func(context.Context) (T, error)) {
	g.Go(func() error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		done := make(chan fetchResult[T], 1)
		go func() {
			v, err := safeFetch(ctx, fetch)
			done <- fetchResult[T]{val: v, err: err}
		}()

		var err error
		select {
		case r := <-done:
			if r.err == nil {
				*dst = r.val
				return nil
			}
			err = r.err
		case <-ctx.Done():
			err = fmt.Errorf("usecase: %s abandoned: %w", name, ctx.Err())
		}

		level := c.logger.Warn
		if errors.Is(err, context.DeadlineExceeded) {
			level = c.logger.Error
		}
		level("collector failed",
			zap.String("collector", name),
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
		return nil
	})
}

func safeFetch[T any](ctx context.Context, fetch func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usecase: collector panic: %v", r)
		}
	}()
	return fetch(ctx)
}
