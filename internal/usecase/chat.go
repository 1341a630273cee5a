package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codetapasya-backend/internal/domain"
)

const (
	defaultMaxMessageLen    = 4000
	defaultWriteBackTimeout = 5 * time.Second
)

// PreferenceTracker records per-subject preferences inferred from a message
// and returns the updated state.
type PreferenceTracker interface {
	Observe(ctx context.Context, subjectID, message string) (domain.Preferences, error)
}

type ChatConfig struct {
	MaxMessageLen    int
	WriteBackTimeout time.Duration
}

// ChatDeps wires the chat service. Preferences may be nil.
type ChatDeps struct {
	Collector   *Collector
	Gateway     *Gateway
	Sources     CollectorSources
	Preferences PreferenceTracker
	Logger      *zap.Logger
}

type ChatService struct {
	collector   *Collector
	gateway     *Gateway
	turns       TurnStore
	chats       ChatLog
	engagement  EngagementStore
	preferences PreferenceTracker
	logger      *zap.Logger
	cfg         ChatConfig
	now         func() time.Time
}

type ChatInput struct {
	SubjectID      string
	Message        string
	Language       string
	ConversationID string
}

type ChatOutput struct {
	Text           string
	ConversationID string
	Intent         domain.Intent
	Language       string
}

func NewChatService(deps ChatDeps, cfg ChatConfig) (*ChatService, error) {
	if deps.Collector == nil {
		return nil, errors.New("usecase: collector must not be nil")
	}
	if deps.Gateway == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = defaultMaxMessageLen
	}
	if cfg.WriteBackTimeout <= 0 {
		cfg.WriteBackTimeout = defaultWriteBackTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		collector:   deps.Collector,
		gateway:     deps.Gateway,
		turns:       deps.Sources.Turns,
		chats:       deps.Sources.Chats,
		engagement:  deps.Sources.Engagement,
		preferences: deps.Preferences,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

// Chat answers one message. Only input validation errors are returned;
// collector, generation and write-back failures are absorbed.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		return ChatOutput{}, newError(ErrorUnauthorized, "missing_subject", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.cfg.MaxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	language := NormalizeLanguage(in.Language)
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	signals := s.collector.Collect(ctx, subjectID, convID)
	intent := Classify(message, len(signals.Transcript))

	hints := Fuse(signals.Profile, signals.History, signals.Courses, signals.Engagement)
	hints = append(hints, s.observePreferences(ctx, subjectID, message)...)

	userName := ""
	if signals.Profile != nil {
		userName = strings.TrimSpace(signals.Profile.DisplayName)
	}
	prompt := Render(message, signals.Transcript, language, intent, userName, hints)
	result := s.gateway.Generate(ctx, prompt, language, intent, userName)

	if result.Outcome == OutcomeGenerated {
		s.writeBack(ctx, writeBack{
			subjectID:      subjectID,
			conversationID: convID,
			language:       language,
			intent:         intent,
			message:        message,
			reply:          result.Text,
			playground:     signals.Playground,
		})
	}

	return ChatOutput{
		Text:           result.Text,
		ConversationID: convID,
		Intent:         intent,
		Language:       language,
	}, nil
}

func (s *ChatService) observePreferences(ctx context.Context, subjectID, message string) []string {
	if s.preferences == nil {
		return nil
	}
	prefs, err := s.preferences.Observe(ctx, subjectID, message)
	if err != nil {
		s.logger.Warn("preference update failed", zap.String("subject_id", subjectID), zap.Error(err))
		return nil
	}
	return preferenceHints(prefs)
}

func preferenceHints(p domain.Preferences) []string {
	var hints []string
	if p.ResponseStyle != "" && p.ResponseStyle != domain.ResponseStyleAuto {
		hints = append(hints, "Preferred response style: "+p.ResponseStyle)
	}
	if len(p.KnownLanguages) > 0 {
		hints = append(hints, "User's known languages: "+strings.Join(p.KnownLanguages, ", "))
	}
	return hints
}

type writeBack struct {
	subjectID      string
	conversationID string
	language       string
	intent         domain.Intent
	message        string
	reply          string
	playground     *domain.PlaygroundActivity
}

// writeBack persists the exchange on a context detached from the caller.
// Failures are logged only.
func (s *ChatService) writeBack(ctx context.Context, w writeBack) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteBackTimeout)
	defer cancel()

	userAt := s.now().UTC()
	replyAt := s.now().UTC()
	if !replyAt.After(userAt) {
		replyAt = userAt.Add(time.Millisecond)
	}
	metadata := map[string]string{
		"intent":          string(w.intent),
		"language":        w.language,
		"conversation_id": w.conversationID,
	}
	if w.playground != nil && w.playground.Active {
		metadata["playground_language"] = w.playground.Language
	}

	var g errgroup.Group
	if s.turns != nil {
		g.Go(func() error {
			for _, turn := range []domain.ConversationTurn{
				{SubjectID: w.subjectID, ConversationID: w.conversationID, Role: domain.RoleUser, Content: w.message, Timestamp: userAt, Metadata: metadata},
				{SubjectID: w.subjectID, ConversationID: w.conversationID, Role: domain.RoleAssistant, Content: w.reply, Timestamp: replyAt, Metadata: metadata},
			} {
				if err := s.turns.Append(ctx, turn); err != nil {
					s.logWriteBackFailure("turn_store", w, err)
					return nil
				}
			}
			return nil
		})
	}
	if s.chats != nil {
		g.Go(func() error {
			for _, rec := range []domain.ChatRecord{
				{Role: domain.RoleUser, Content: w.message, Timestamp: userAt},
				{Role: domain.RoleAssistant, Content: w.reply, Timestamp: replyAt},
			} {
				if err := s.chats.SaveChat(ctx, w.subjectID, rec, metadata); err != nil {
					s.logWriteBackFailure("chat_log", w, err)
					return nil
				}
			}
			return nil
		})
	}
	if s.engagement != nil {
		g.Go(func() error {
			update := domain.EngagementUpdate{
				Intent:         w.intent,
				Language:       w.language,
				MessageLength:  utf8.RuneCountInString(w.message),
				ResponseLength: utf8.RuneCountInString(w.reply),
				At:             replyAt,
			}
			if err := s.engagement.RecordInteraction(ctx, w.subjectID, update); err != nil {
				s.logWriteBackFailure("engagement", w, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *ChatService) logWriteBackFailure(target string, w writeBack, err error) {
	s.logger.Error("write-back failed",
		zap.String("target", target),
		zap.String("subject_id", w.subjectID),
		zap.String("conversation_id", w.conversationID),
		zap.Int("reply_length", len(w.reply)),
		zap.Error(err),
	)
}

var newUUID = func() string {
	return uuid.NewString()
}
