package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"codetapasya-backend/internal/domain"
)

const defaultFallbackName = "there"

// DefaultDecoding is sent with every generation call.
var DefaultDecoding = domain.DecodingConfig{
	Temperature:     0.7,
	TopP:            0.8,
	TopK:            40,
	MaxOutputTokens: 1024,
}

// DefaultSafety blocks medium and above in the four screened categories.
var DefaultSafety = domain.SafetyConfig{
	BlockMediumAndAbove: []domain.HarmCategory{
		domain.HarmHarassment,
		domain.HarmHateSpeech,
		domain.HarmSexuallyExplicit,
		domain.HarmDangerousContent,
	},
}

var fallbackReplies = map[domain.Intent]string{
	domain.IntentFirstGreeting:     "Hello %s! I'm CodeTapasya. What can I help you code today?",
	domain.IntentRepeatedGreeting:  "Hi again, %s! What would you like to work on next?",
	domain.IntentIdentityQuestion:  "I'm CodeTapasya, your coding assistant built by the CodeTapasya Developers. How can I help you, %s?",
	domain.IntentTechnicalQuestion: "That's a great technical question, %s! Could you share a bit more detail so I can help?",
	domain.IntentShortQuestion:     "Could you tell me a little more, %s?",
	domain.IntentGeneralQuestion:   "I'm here to help, %s! What would you like to know?",
}

const defaultFallbackReply = "How can I help you today, %s?"

var errorReplies = map[string]string{
	languageEnglish: "I'm having technical difficulties right now. Please try again in a moment.",
	languageHindi:   "मुझे अभी तकनीकी समस्या हो रही है। कृपया थोड़ी देर में फिर से प्रयास करें।",
	languageTelugu:  "ప్రస్తుతం నాకు సాంకేతిక సమస్యలు ఉన్నాయి. దయచేసి కొద్దిసేపటి తర్వాత మళ్లీ ప్రయత్నించండి.",
}

// Generator is the text-generation collaborator. An empty string with a nil
// error means the provider produced no usable text.
type Generator interface {
	Generate(ctx context.Context, prompt string, decoding domain.DecodingConfig, safety domain.SafetyConfig) (string, error)
}

type GenerationOutcome int

const (
	OutcomeGenerated GenerationOutcome = iota
	OutcomeEmpty
	OutcomeFailed
)

// GenerationResult is what the gateway hands back. Text is always non-empty.
type GenerationResult struct {
	Text    string
	Outcome GenerationOutcome
	Reply   Reply
}

type Gateway struct {
	gen    Generator
	logger *zap.Logger
}

func NewGateway(gen Generator, logger *zap.Logger) (*Gateway, error) {
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{gen: gen, logger: logger}, nil
}

// Generate calls the provider exactly once. Provider errors and empty output
// are replaced by fallback sentences and never returned.
func (g *Gateway) Generate(ctx context.Context, prompt, language string, intent domain.Intent, userName string) GenerationResult {
	raw, err := g.gen.Generate(ctx, prompt, DefaultDecoding, DefaultSafety)
	if err != nil {
		fields := []zap.Field{zap.String("intent", string(intent)), zap.Error(err)}
		if status, ok := upstreamStatusCode(err); ok {
			fields = append(fields, zap.Int("status", status))
		}
		g.logger.Error("generation failed", fields...)
		return GenerationResult{Text: ErrorReply(language), Outcome: OutcomeFailed}
	}

	reply := DecodeReply(raw)
	if reply.Text() == "" {
		g.logger.Warn("generation returned empty text", zap.String("intent", string(intent)))
		return GenerationResult{Text: FallbackReply(intent, userName), Outcome: OutcomeEmpty, Reply: reply}
	}
	return GenerationResult{Text: reply.Text(), Outcome: OutcomeGenerated, Reply: reply}
}

// FallbackReply is the sentence used when the provider returns no text.
func FallbackReply(intent domain.Intent, userName string) string {
	name := strings.TrimSpace(userName)
	if name == "" {
		name = defaultFallbackName
	}
	template, ok := fallbackReplies[intent]
	if !ok {
		template = defaultFallbackReply
	}
	return fmt.Sprintf(template, name)
}

// ErrorReply is the sentence used when the provider call fails.
func ErrorReply(language string) string {
	return errorReplies[NormalizeLanguage(language)]
}
